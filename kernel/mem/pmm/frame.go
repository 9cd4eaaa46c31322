// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"math"

	"marmot/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uint32

// InvalidFrame is returned by the frame allocator when it fails to reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint32)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of this frame.
func (f Frame) Address() uint32 {
	return uint32(f) << mem.PageShift
}

// FrameFromAddress returns the Frame that contains physical address pa.
func FrameFromAddress(pa uint32) Frame {
	return Frame(pa >> mem.PageShift)
}
