package vmm

import (
	"testing"

	"marmot/kernel"
	"marmot/kernel/mem/pmm"
)

// testPhysTop models an 8 MiB machine: large enough for a handful of
// address spaces while keeping test allocations small.
const testPhysTop = uint32(0x800000)

var errExhausted = &kernel.Error{Module: "test", Message: "no more frames"}

// failingAlloc wraps a FrameAllocator and starts failing after a fixed
// number of successful allocations.
type failingAlloc struct {
	*pmm.FrameAllocator
	remaining int
}

func (fa *failingAlloc) Alloc() (pmm.Frame, *kernel.Error) {
	if fa.remaining <= 0 {
		return pmm.InvalidFrame, errExhausted
	}
	fa.remaining--
	return fa.FrameAllocator.Alloc()
}

func newTestPageDir(t *testing.T) (*pmm.FrameAllocator, *PageDir) {
	t.Helper()

	phys := pmm.NewFrameAllocator(testPhysTop)
	pd, err := NewPageDir(phys)
	if err != nil {
		t.Fatal(err)
	}
	return phys, pd
}
