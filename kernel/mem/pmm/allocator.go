package pmm

import (
	"encoding/binary"

	"marmot/kernel"
	"marmot/kernel/mem"
	ksync "marmot/kernel/sync"
)

var errOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

// junkByte is the fill pattern written over freed frames so that
// use-after-free bugs surface as garbage reads instead of zeroes.
const junkByte = 0x01

// FrameAllocator hands out 4 KiB frames from the machine's physical memory.
// The free list is threaded through the frames themselves: the first word of
// a free frame holds the index of the next free frame. The allocator is
// shared by every address space and is internally serialized.
type FrameAllocator struct {
	lock ksync.Spinlock

	// ram models the machine's physical memory. Page tables live inside
	// it as little-endian 32-bit words; Slice is the direct map kernel
	// code uses to reach a frame's contents.
	ram []byte

	freeHead  Frame
	freeCount int
}

// NewFrameAllocator models a machine with physTop bytes of physical memory
// and places every frame in [FreeBase, physTop) on the free list. physTop
// must be page-aligned and leave room above FreeBase.
func NewFrameAllocator(physTop uint32) *FrameAllocator {
	if physTop%mem.PageSize != 0 || physTop <= mem.FreeBase {
		panic("pmm: invalid physical memory size")
	}

	alloc := &FrameAllocator{
		ram:      make([]byte, physTop),
		freeHead: InvalidFrame,
	}
	for pa := mem.FreeBase; pa < physTop; pa += mem.PageSize {
		alloc.Free(FrameFromAddress(pa))
	}
	return alloc
}

// Alloc reserves a free frame. The frame contents are undefined; callers
// that need a zeroed frame must clear it.
func (alloc *FrameAllocator) Alloc() (Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	frame := alloc.freeHead
	if !frame.Valid() {
		return InvalidFrame, errOutOfMemory
	}

	alloc.freeHead = Frame(binary.LittleEndian.Uint32(alloc.frameBytes(frame)))
	alloc.freeCount--
	return frame, nil
}

// Free places frame back on the free list, filling it with junk to catch
// dangling references.
func (alloc *FrameAllocator) Free(frame Frame) {
	if pa := frame.Address(); pa < mem.FreeBase || pa >= alloc.PhysTop() {
		panic("pmm: Free: frame outside allocatable memory")
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	b := alloc.frameBytes(frame)
	for i := range b {
		b[i] = junkByte
	}
	binary.LittleEndian.PutUint32(b, uint32(alloc.freeHead))
	alloc.freeHead = frame
	alloc.freeCount++
}

// Slice returns the kernel-visible contents of frame.
func (alloc *FrameAllocator) Slice(frame Frame) []byte {
	if frame.Address() >= alloc.PhysTop() {
		panic("pmm: Slice: frame outside physical memory")
	}
	return alloc.frameBytes(frame)
}

// PhysTop returns the top of this machine's physical memory.
func (alloc *FrameAllocator) PhysTop() uint32 {
	return uint32(len(alloc.ram))
}

// FreeCount returns the number of frames currently on the free list.
func (alloc *FrameAllocator) FreeCount() int {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.freeCount
}

func (alloc *FrameAllocator) frameBytes(frame Frame) []byte {
	start := frame.Address()
	return alloc.ram[start : start+mem.PageSize]
}
