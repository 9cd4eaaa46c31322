package vm

import (
	"marmot/kernel"
	"marmot/kernel/kfmt"
	"marmot/kernel/mem"
	"marmot/kernel/mem/vmm"
)

// ErrNoRegion is returned by PageFault when the faulting address lies
// outside every registered region. The trap layer reports such faults as
// plain protection violations.
var ErrNoRegion = &kernel.Error{Module: "wmap", Message: "fault address lies outside every mapping"}

var (
	errBadFaultOffset = &kernel.Error{Module: "wmap", Message: "fault offset lies past the end of the backing file"}
	errShortRead      = &kernel.Error{Module: "wmap", Message: "short read from the backing file"}
)

// PageFault resolves a user page fault at va by populating exactly one page
// of the containing region: a zeroed frame, filled from the backing file
// for file-backed regions, installed with user read-write access. Further
// pages of the region are brought in lazily by their own faults. When an
// error is returned the caller kills the faulting process.
func (s *Space) PageFault(va uint32) *kernel.Error {
	r := s.Regions.containing(va)
	if r == nil {
		return ErrNoRegion
	}

	page := mem.PageRoundDown(va)

	frame, err := s.phys.Alloc()
	if err != nil {
		kfmt.Printf("wmap: out of memory\n")
		return errNoMemory
	}
	b := s.phys.Slice(frame)
	clear(b)

	if r.fileBacked() {
		f := s.Files.Get(r.FD)
		if f == nil || !f.Readable || f.Ip == nil {
			kfmt.Printf("wmap: invalid file descriptor\n")
			s.phys.Free(frame)
			return errBadDescriptor
		}

		f.Ip.Lock()
		size := f.Ip.Size()
		off := page - r.Addr
		if off >= size {
			f.Ip.Unlock()
			kfmt.Printf("wmap: invalid offset\n")
			s.phys.Free(frame)
			return errBadFaultOffset
		}

		n := size - off
		if n > mem.PageSize {
			n = mem.PageSize
		}
		rn, rerr := f.Ip.Read(b[:n], off)
		f.Ip.Unlock()
		if rerr != nil || rn != int(n) {
			kfmt.Printf("wmap: failed to read from backing file\n")
			s.phys.Free(frame)
			return errShortRead
		}
	}

	if merr := s.Dir.MapRange(page, mem.PageSize, frame.Address(), vmm.FlagRW|vmm.FlagUser); merr != nil {
		kfmt.Printf("wmap: out of memory (2)\n")
		s.phys.Free(frame)
		return errNoMemory
	}
	return nil
}
