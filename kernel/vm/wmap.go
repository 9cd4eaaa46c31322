package vm

import (
	"marmot/kernel"
	"marmot/kernel/fs"
	"marmot/kernel/mem"
	"marmot/kernel/mem/pmm"
	"marmot/kernel/mem/vmm"
)

var (
	errBadFlags      = &kernel.Error{Module: "wmap", Message: "at least one of MapAnonymous, MapShared or MapPrivate must be set"}
	errBadAddress    = &kernel.Error{Module: "wmap", Message: "address is not a page-aligned address inside the mapping window"}
	errBadLength     = &kernel.Error{Module: "wmap", Message: "length is zero or exceeds the mapping window"}
	errBadSize       = &kernel.Error{Module: "wmap", Message: "size is not a non-zero multiple of the page size"}
	errSizeMismatch  = &kernel.Error{Module: "wmap", Message: "oldsize does not match the mapping"}
	errOverlap       = &kernel.Error{Module: "wmap", Message: "range overlaps an existing mapping"}
	errNoSpace       = &kernel.Error{Module: "wmap", Message: "no free range fits the mapping"}
	errTableFull     = &kernel.Error{Module: "wmap", Message: "region table is full"}
	errBadDescriptor = &kernel.Error{Module: "wmap", Message: "file descriptor is not open for reading"}
	errNoRegion      = &kernel.Error{Module: "wmap", Message: "no mapping at this address"}
	errNoMemory      = &kernel.Error{Module: "wmap", Message: "out of physical memory"}
	errShortWrite    = &kernel.Error{Module: "wmap", Message: "short write during write-back"}
)

// Map reserves a region in the user-mapping window and returns its base
// address. No pages are installed; the fault handler populates the region
// one page at a time on first touch.
func (s *Space) Map(addr, length uint32, flags Flag, fd int) (uint32, *kernel.Error) {
	if flags&(MapAnonymous|MapShared|MapPrivate) == 0 {
		return 0, errBadFlags
	}
	if length == 0 || length > MapTop-MapBase {
		return 0, errBadLength
	}

	if flags&MapFixed != 0 {
		if addr%mem.PageSize != 0 || addr < MapBase || addr >= MapTop || length > MapTop-addr {
			return 0, errBadAddress
		}
		if s.Regions.overlapsAny(addr, length) {
			return 0, errOverlap
		}
	} else {
		if addr = s.Regions.findFreeBase(length); addr == 0 {
			return 0, errNoSpace
		}
	}

	slot := s.Regions.freeSlot()
	if slot < 0 {
		return 0, errTableFull
	}

	if flags&MapAnonymous == 0 {
		if f := s.Files.Get(fd); f == nil || !f.Readable {
			return 0, errBadDescriptor
		}
	}

	s.Regions[slot] = newRegion(addr, length, flags, fd)
	return addr, nil
}

// Unmap releases the region based at addr. Shared file-backed regions are
// written back to their file first; a write-back failure leaves the region
// mapped.
func (s *Space) Unmap(addr uint32) *kernel.Error {
	if addr%mem.PageSize != 0 {
		return errBadAddress
	}

	slot, r := s.Regions.byBase(addr)
	if r == nil {
		return errNoRegion
	}

	if r.fileBacked() && r.shared() {
		if err := s.writeBack(r); err != nil {
			return err
		}
	}

	s.releaseRegion(r)
	s.Regions[slot] = nil
	return nil
}

// writeBack persists every installed page of a shared file mapping to its
// offset within the backing file, clamped to the region length.
func (s *Space) writeBack(r *Region) *kernel.Error {
	f := s.Files.Get(r.FD)
	if f == nil || f.Ip == nil {
		return errBadDescriptor
	}

	fs.BeginOp()
	defer fs.EndOp()
	f.Ip.Lock()
	defer f.Ip.Unlock()

	for off := uint32(0); off < r.Length; off += mem.PageSize {
		e, ok := s.Dir.Lookup(r.Addr + off)
		if !ok {
			continue
		}

		n := r.Length - off
		if n > mem.PageSize {
			n = mem.PageSize
		}

		src := s.phys.Slice(e.Frame())[:n]
		if wn, werr := f.Ip.Write(src, off); werr != nil || wn != int(n) {
			return errShortWrite
		}
	}
	return nil
}

// Remap grows, shrinks or moves the region based at oldaddr to newsize
// bytes and returns the region's base address. Growth is eager: the new
// pages are allocated and installed immediately. When in-place growth is
// impossible the region is relocated only if flags equals RemapMayMove.
// If Remap fails, the existing mapping is left intact.
func (s *Space) Remap(oldaddr, oldsize, newsize uint32, flags uint32) (uint32, *kernel.Error) {
	if oldaddr%mem.PageSize != 0 || oldaddr < MapBase || oldaddr >= MapTop {
		return 0, errBadAddress
	}
	if oldsize == 0 || oldsize%mem.PageSize != 0 || newsize == 0 || newsize%mem.PageSize != 0 {
		return 0, errBadSize
	}
	if newsize > MapTop-MapBase {
		return 0, errBadSize
	}

	_, r := s.Regions.byBase(oldaddr)
	if r == nil {
		return 0, errNoRegion
	}
	if r.Length != oldsize {
		return 0, errSizeMismatch
	}

	switch {
	case newsize > oldsize:
		if s.canGrowInPlace(r, newsize) {
			if err := s.installPages(r.Addr+oldsize, newsize-oldsize); err != nil {
				return 0, err
			}
			r.Length = newsize
			return r.Addr, nil
		}
		if flags != RemapMayMove {
			return 0, errNoSpace
		}
		return s.moveRegion(r, newsize)

	case newsize < oldsize:
		s.freeRange(r, r.Addr+newsize, r.end())
		r.Length = newsize
		return r.Addr, nil

	default:
		return r.Addr, nil
	}
}

// canGrowInPlace reports whether the extension [r.Addr+r.Length,
// r.Addr+newsize) lies inside the mapping window, is absent from the page
// table, and does not overlap another region.
func (s *Space) canGrowInPlace(r *Region, newsize uint32) bool {
	if newsize > MapTop-r.Addr {
		return false
	}

	ext := newsize - r.Length
	for va := r.end(); va < r.Addr+newsize; va += mem.PageSize {
		if _, ok := s.Dir.Lookup(va); ok {
			return false
		}
	}
	return !s.Regions.overlapsOther(r.end(), ext, r)
}

// installPages eagerly allocates, zeroes and maps length bytes of pages at
// base with user read-write access. On failure every page installed by this
// call is released and the address space is unchanged.
func (s *Space) installPages(base, length uint32) *kernel.Error {
	for va := base; va < base+length; va += mem.PageSize {
		frame, err := s.phys.Alloc()
		if err == nil {
			clear(s.phys.Slice(frame))
			if merr := s.Dir.MapRange(va, mem.PageSize, frame.Address(), vmm.FlagRW|vmm.FlagUser); merr != nil {
				s.phys.Free(frame)
				err = merr
			}
		}

		if err != nil {
			for undo := base; undo < va; undo += mem.PageSize {
				if pa, ok := s.Dir.Unmap(undo); ok {
					s.phys.Free(pmm.FrameFromAddress(pa))
				}
			}
			return errNoMemory
		}
	}
	return nil
}

// moveRegion relocates r to a fresh base of newsize bytes: the new pages
// are installed and filled with the old contents before the old pages are
// released, so a failure leaves the prior mapping intact.
func (s *Space) moveRegion(r *Region, newsize uint32) (uint32, *kernel.Error) {
	newaddr := s.findFreeRange(newsize)
	if newaddr == 0 {
		return 0, errNoSpace
	}

	if err := s.installPages(newaddr, newsize); err != nil {
		return 0, err
	}

	for off := uint32(0); off < r.Length; off += mem.PageSize {
		e, ok := s.Dir.Lookup(r.Addr + off)
		if !ok {
			continue
		}
		ne, _ := s.Dir.Lookup(newaddr + off)
		copy(s.phys.Slice(ne.Frame()), s.phys.Slice(e.Frame()))
	}

	s.freeRange(r, r.Addr, r.end())
	r.Addr = newaddr
	r.Length = newsize
	return newaddr, nil
}

// findFreeRange scans the mapping window for a base where length bytes are
// both unoccupied in the page table and clear of every region.
func (s *Space) findFreeRange(length uint32) uint32 {
	if length == 0 || length > MapTop-MapBase {
		return 0
	}

scan:
	for addr := MapBase; addr <= MapTop-length; addr += mem.PageSize {
		if s.Regions.overlapsAny(addr, length) {
			continue
		}
		for va := addr; va < addr+length; va += mem.PageSize {
			if _, ok := s.Dir.Lookup(va); ok {
				continue scan
			}
		}
		return addr
	}
	return 0
}

// freeRange clears the installed pages of r in [from, to), releasing the
// frames only when this process holds the region's last reference.
func (s *Space) freeRange(r *Region, from, to uint32) {
	last := r.Refs() == 1
	for va := from; va < to; va += mem.PageSize {
		pa, ok := s.Dir.Unmap(va)
		if !ok {
			continue
		}
		if last {
			s.phys.Free(pmm.FrameFromAddress(pa))
		}
	}
}
