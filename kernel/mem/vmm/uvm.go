package vmm

import (
	"io"

	"marmot/kernel"
	"marmot/kernel/kfmt"
	"marmot/kernel/mem"
)

var errShortRead = &kernel.Error{Module: "vmm", Message: "short read while loading segment"}

// InitUser maps a single zeroed page at virtual address zero and copies the
// bootstrap code into it. It is used to build the first process and code
// must be smaller than a page.
func (pd *PageDir) InitUser(code []byte) *kernel.Error {
	if uint32(len(code)) >= mem.PageSize {
		panic("vmm: InitUser: more than a page")
	}

	frame, err := pd.phys.Alloc()
	if err != nil {
		return err
	}
	b := pd.phys.Slice(frame)
	clear(b)

	if err := pd.MapRange(0, mem.PageSize, frame.Address(), FlagRW|FlagUser); err != nil {
		pd.phys.Free(frame)
		return err
	}

	copy(b, code)
	return nil
}

// LoadSegment reads size bytes at off from r into the frames backing the
// range starting at va. va must be page-aligned and the range must already
// be mapped.
func (pd *PageDir) LoadSegment(va uint32, r io.ReaderAt, off int64, size uint32) *kernel.Error {
	if va%mem.PageSize != 0 {
		panic("vmm: LoadSegment: va must be page aligned")
	}

	for i := uint32(0); i < size; i += mem.PageSize {
		e, ok := pd.Lookup(va + i)
		if !ok {
			panic("vmm: LoadSegment: address should exist")
		}

		n := size - i
		if n > mem.PageSize {
			n = mem.PageSize
		}

		dst := pd.phys.Slice(e.Frame())[:n]
		if rn, _ := r.ReadAt(dst, off+int64(i)); rn != int(n) {
			return errShortRead
		}
	}
	return nil
}

// Grow allocates zeroed pages to extend the mapped user range from oldsz up
// to newsz. It returns the new size, or zero if newsz reaches into the
// kernel window or allocation fails; partial progress is rolled back. When
// newsz does not exceed oldsz the range is left untouched and oldsz is
// returned.
func (pd *PageDir) Grow(oldsz, newsz uint32) uint32 {
	if newsz >= mem.KernBase {
		return 0
	}
	if newsz < oldsz {
		return oldsz
	}

	for a := mem.PageRoundUp(oldsz); a < newsz; a += mem.PageSize {
		frame, err := pd.phys.Alloc()
		if err != nil {
			kfmt.Printf("vmm: Grow out of memory\n")
			pd.Dealloc(newsz, oldsz)
			return 0
		}
		clear(pd.phys.Slice(frame))

		if err := pd.MapRange(a, mem.PageSize, frame.Address(), FlagRW|FlagUser); err != nil {
			kfmt.Printf("vmm: Grow out of memory (2)\n")
			pd.Dealloc(newsz, oldsz)
			pd.phys.Free(frame)
			return 0
		}
	}
	return newsz
}

// Dealloc releases user pages to bring the mapped range from oldsz down to
// newsz and returns newsz. Each leaf entry is zeroed before its frame is
// released. Ranges whose directory entry was never populated are skipped a
// directory entry at a time, and oldsz may exceed the true mapped size.
func (pd *PageDir) Dealloc(oldsz, newsz uint32) uint32 {
	if newsz >= oldsz {
		return newsz
	}

	for a := mem.PageRoundUp(newsz); a < oldsz; a += mem.PageSize {
		pde := pd.entryAt(pd.root, mem.DirIndex(a))
		if !pde.HasFlags(FlagPresent) {
			// Jump to the last page covered by this directory entry;
			// the loop increment moves past it.
			a = mem.PageAddr(mem.DirIndex(a)+1, 0) - mem.PageSize
			continue
		}

		tableIndex := mem.TableIndex(a)
		pte := pd.entryAt(pde.Frame(), tableIndex)
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		pa := pte.Frame().Address()
		if pa == 0 {
			panic("vmm: Dealloc: entry references frame zero")
		}
		pd.setEntryAt(pde.Frame(), tableIndex, 0)
		pd.phys.Free(pte.Frame())
	}
	return newsz
}

// ClearUser removes user-mode access from the page at va. It is used to
// create the inaccessible guard page below the user stack.
func (pd *PageDir) ClearUser(va uint32) {
	s, ok := pd.walk(va, false)
	if !ok {
		panic("vmm: ClearUser: no mapping")
	}

	e := pd.load(s)
	if !e.HasFlags(FlagPresent) {
		panic("vmm: ClearUser: no mapping")
	}
	e.ClearFlags(FlagUser)
	pd.store(s, e)
}

// Copy builds a new address space whose user range [0, sz) duplicates this
// one: every page is copied into a freshly allocated frame mapped with the
// same leaf flags. Any failure releases the partially-built child.
func (pd *PageDir) Copy(sz uint32) (*PageDir, *kernel.Error) {
	child, err := NewPageDir(pd.phys)
	if err != nil {
		return nil, err
	}

	for i := uint32(0); i < sz; i += mem.PageSize {
		e, ok := pd.Lookup(i)
		if !ok {
			panic("vmm: Copy: page should exist")
		}

		frame, aerr := pd.phys.Alloc()
		if aerr != nil {
			child.Free()
			return nil, aerr
		}
		copy(pd.phys.Slice(frame), pd.phys.Slice(e.Frame()))

		if merr := child.MapRange(i, mem.PageSize, frame.Address(), e.Flags()); merr != nil {
			pd.phys.Free(frame)
			child.Free()
			return nil, merr
		}
	}
	return child, nil
}

// Free releases every user page, every page-table frame reachable from the
// directory, and finally the directory itself.
func (pd *PageDir) Free() {
	pd.Dealloc(mem.KernBase, 0)
	for i := uint32(0); i < mem.NumPDEntries; i++ {
		pde := pd.entryAt(pd.root, i)
		if pde.HasFlags(FlagPresent) {
			pd.phys.Free(pde.Frame())
		}
	}
	pd.phys.Free(pd.root)
}
