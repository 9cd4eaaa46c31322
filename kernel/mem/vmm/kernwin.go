package vmm

import (
	"marmot/kernel"
	"marmot/kernel/mem"
)

// kernelMapping describes one fixed mapping that every address space
// carries in its kernel window.
type kernelMapping struct {
	virt      uint32
	physStart uint32
	physEnd   uint32
	flags     EntryFlag
}

// kernelWindow lists the mappings shared by all address spaces: the low I/O
// space, the kernel text and read-only data, the kernel data plus the free
// physical memory, and the high device space. Page protection bits prevent
// user code from reaching any of them.
func kernelWindow(physTop uint32) [4]kernelMapping {
	return [4]kernelMapping{
		{virt: mem.KernBase, physStart: 0, physEnd: mem.ExtMem, flags: FlagRW},
		{virt: mem.KernLink, physStart: mem.V2P(mem.KernLink), physEnd: mem.V2P(mem.KernData), flags: 0},
		{virt: mem.KernData, physStart: mem.V2P(mem.KernData), physEnd: physTop, flags: FlagRW},
		{virt: mem.DevSpace, physStart: mem.DevSpace, physEnd: 0, flags: FlagRW},
	}
}

// NewPageDir allocates a zeroed page directory and installs the kernel
// window into it. On failure every partially-installed table is released.
// NewPageDir panics if the machine's physical memory would overlap the
// device window, which is a configuration error.
func NewPageDir(phys PhysMem) (*PageDir, *kernel.Error) {
	physTop := phys.PhysTop()
	if mem.P2V(physTop) > mem.DevSpace {
		panic("vmm: PHYSTOP too high")
	}

	root, err := phys.Alloc()
	if err != nil {
		return nil, err
	}
	clear(phys.Slice(root))

	pd := &PageDir{phys: phys, root: root}
	for _, k := range kernelWindow(physTop) {
		if err := pd.MapRange(k.virt, k.physEnd-k.physStart, k.physStart, k.flags); err != nil {
			pd.Free()
			return nil, err
		}
	}
	return pd, nil
}
