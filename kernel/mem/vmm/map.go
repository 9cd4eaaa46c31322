package vmm

import (
	"marmot/kernel"
	"marmot/kernel/mem"
	"marmot/kernel/mem/pmm"
)

// MapRange installs leaf entries mapping the virtual range [va, va+size)
// onto the physical range starting at pa, applying flags to every entry.
// va and size need not be page-aligned. Installing over an already-present
// entry is a kernel bug and panics.
func (pd *PageDir) MapRange(va, size, pa uint32, flags EntryFlag) *kernel.Error {
	var (
		addr = mem.PageRoundDown(va)
		last = mem.PageRoundDown(va + size - 1)
	)

	pa = mem.PageRoundDown(pa)
	for {
		s, ok := pd.walk(addr, true)
		if !ok {
			return errNoMemory
		}

		if pd.load(s).HasFlags(FlagPresent) {
			panic("vmm: remap")
		}

		var e Entry
		e.SetFrame(pmm.FrameFromAddress(pa))
		e.SetFlags(flags | FlagPresent)
		pd.store(s, e)

		if addr == last {
			break
		}
		addr += mem.PageSize
		pa += mem.PageSize
	}

	return nil
}
