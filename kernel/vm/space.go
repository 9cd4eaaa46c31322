package vm

import (
	"marmot/kernel"
	"marmot/kernel/fs"
	"marmot/kernel/mem"
	"marmot/kernel/mem/vmm"
)

// Space is a process's virtual address space: the translation structure,
// the frame allocator backing it, the region table, and the open-file table
// consulted by file-backed mappings.
type Space struct {
	Dir     *vmm.PageDir
	Regions RegionTable
	Files   *fs.FileTable

	phys vmm.PhysMem
}

// NewSpace builds an address space holding only the kernel window.
func NewSpace(phys vmm.PhysMem, files *fs.FileTable) (*Space, *kernel.Error) {
	pd, err := vmm.NewPageDir(phys)
	if err != nil {
		return nil, err
	}
	return &Space{Dir: pd, Files: files, phys: phys}, nil
}

// Phys returns the frame allocator backing this space.
func (s *Space) Phys() vmm.PhysMem {
	return s.phys
}

// Fork duplicates the space for a child process. The program image in
// [0, sz) is copied eagerly. Shared regions alias the parent's installed
// frames and gain a reference on the shared record; every region without
// MapShared receives its own record and eagerly-copied frames. Any failure
// releases the partially-built child.
func (s *Space) Fork(sz uint32) (*Space, *kernel.Error) {
	childDir, err := s.Dir.Copy(sz)
	if err != nil {
		return nil, err
	}
	child := &Space{Dir: childDir, Files: s.Files, phys: s.phys}

	for i, r := range s.Regions {
		if r == nil {
			continue
		}

		if r.shared() {
			r.ref()
			child.Regions[i] = r
		} else {
			child.Regions[i] = newRegion(r.Addr, r.Length, r.Flags, r.FD)
		}

		for va := r.Addr; va < r.end(); va += mem.PageSize {
			e, ok := s.Dir.Lookup(va)
			if !ok {
				// Not yet faulted in; the child faults it in on demand.
				continue
			}

			if r.shared() {
				if merr := childDir.MapRange(va, mem.PageSize, e.Frame().Address(), e.Flags()); merr != nil {
					child.Free()
					return nil, merr
				}
				continue
			}

			frame, aerr := s.phys.Alloc()
			if aerr != nil {
				child.Free()
				return nil, aerr
			}
			copy(s.phys.Slice(frame), s.phys.Slice(e.Frame()))
			if merr := childDir.MapRange(va, mem.PageSize, frame.Address(), e.Flags()); merr != nil {
				s.phys.Free(frame)
				child.Free()
				return nil, merr
			}
		}
	}
	return child, nil
}

// Free releases every region without write-back, the remaining user pages,
// the page-table frames, and the directory itself. Frames belonging to a
// shared region survive until the last referencing process releases them.
func (s *Space) Free() {
	for i, r := range s.Regions {
		if r == nil {
			continue
		}
		s.releaseRegion(r)
		s.Regions[i] = nil
	}
	s.Dir.Free()
}

// releaseRegion clears every installed page of r and drops one reference.
// The leaf entries are zeroed before the frames are released, and the
// frames are released only when this process holds the last reference.
func (s *Space) releaseRegion(r *Region) {
	s.freeRange(r, r.Addr, r.end())
	r.unref()
}
