package vmm

import (
	"encoding/binary"

	"marmot/kernel"
	"marmot/kernel/mem"
	"marmot/kernel/mem/pmm"
)

var errNoMemory = &kernel.Error{Module: "vmm", Message: "page-table allocation failed"}

// PhysMem is the frame-allocator contract the translation layer depends on.
// Slice exposes a frame's contents through the kernel's direct map.
type PhysMem interface {
	Alloc() (pmm.Frame, *kernel.Error)
	Free(pmm.Frame)
	Slice(pmm.Frame) []byte
	PhysTop() uint32
}

// PageDir is a process address space: a page-directory frame together with
// the page-table frames reachable from it. The tables live inside physical
// memory as little-endian 32-bit entries.
type PageDir struct {
	phys PhysMem
	root pmm.Frame
}

// Root returns the physical frame holding the page directory.
func (pd *PageDir) Root() pmm.Frame {
	return pd.root
}

// entrySlot names one entry inside a directory or table frame.
type entrySlot struct {
	table pmm.Frame
	index uint32
}

func (pd *PageDir) entryAt(table pmm.Frame, index uint32) Entry {
	b := pd.phys.Slice(table)
	return Entry(binary.LittleEndian.Uint32(b[index*4:]))
}

func (pd *PageDir) setEntryAt(table pmm.Frame, index uint32, e Entry) {
	b := pd.phys.Slice(table)
	binary.LittleEndian.PutUint32(b[index*4:], uint32(e))
}

func (pd *PageDir) load(s entrySlot) Entry {
	return pd.entryAt(s.table, s.index)
}

func (pd *PageDir) store(s entrySlot, e Entry) {
	pd.setEntryAt(s.table, s.index, e)
}

// walk locates the leaf entry slot for va. If the covering page table is
// absent and alloc is set, a zeroed table frame is installed first; the
// directory entry is made permissive (present, writable, user) so that the
// leaf entries alone dictate the effective permissions. walk reports
// failure when the table is absent and alloc is clear, or when the frame
// allocator is exhausted.
func (pd *PageDir) walk(va uint32, alloc bool) (entrySlot, bool) {
	var (
		dirIndex = mem.DirIndex(va)
		pde      = pd.entryAt(pd.root, dirIndex)
		table    pmm.Frame
	)

	if pde.HasFlags(FlagPresent) {
		table = pde.Frame()
	} else {
		if !alloc {
			return entrySlot{}, false
		}

		frame, err := pd.phys.Alloc()
		if err != nil {
			return entrySlot{}, false
		}
		clear(pd.phys.Slice(frame))

		pde = 0
		pde.SetFrame(frame)
		pde.SetFlags(FlagPresent | FlagRW | FlagUser)
		pd.setEntryAt(pd.root, dirIndex, pde)
		table = frame
	}

	return entrySlot{table: table, index: mem.TableIndex(va)}, true
}

// Lookup returns the leaf entry mapping va if one is present.
func (pd *PageDir) Lookup(va uint32) (Entry, bool) {
	s, ok := pd.walk(va, false)
	if !ok {
		return 0, false
	}

	e := pd.load(s)
	if !e.HasFlags(FlagPresent) {
		return 0, false
	}
	return e, true
}

// Unmap clears the leaf entry for va and returns the physical address it
// mapped. The entry is zeroed before this function returns so that no
// present entry ever references a frame the caller has released.
func (pd *PageDir) Unmap(va uint32) (uint32, bool) {
	s, ok := pd.walk(va, false)
	if !ok {
		return 0, false
	}

	e := pd.load(s)
	if !e.HasFlags(FlagPresent) {
		return 0, false
	}

	pd.store(s, 0)
	return e.Frame().Address(), true
}

// VisitUserPages calls visit for every present user-accessible page in
// ascending virtual-address order. The walk stops early when visit returns
// false.
func (pd *PageDir) VisitUserPages(visit func(va, pa uint32) bool) {
	for i := uint32(0); i < mem.NumPDEntries; i++ {
		pde := pd.entryAt(pd.root, i)
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		for j := uint32(0); j < mem.NumPTEntries; j++ {
			pte := pd.entryAt(pde.Frame(), j)
			if !pte.HasFlags(FlagPresent | FlagUser) {
				continue
			}
			if !visit(mem.PageAddr(i, j), pte.Frame().Address()) {
				return
			}
		}
	}
}
