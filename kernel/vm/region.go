// Package vm implements the per-process memory-mapping layer: a
// fixed-capacity region table over the user-mapping window, demand-paged
// population, and the wmap family of operations.
package vm

import (
	"sync/atomic"

	"marmot/kernel/mem"
)

// Flag is the set of mapping flags accepted by Map.
type Flag uint32

// Mapping flags. At least one of MapShared, MapPrivate or MapAnonymous must
// be supplied; MapFixed constrains address placement.
const (
	MapShared    Flag = 0x1
	MapPrivate   Flag = 0x2
	MapAnonymous Flag = 0x4
	MapFixed     Flag = 0x8
)

// RemapMayMove allows Remap to relocate a mapping when it cannot be grown
// in place.
const RemapMayMove uint32 = 0x1

// The user-mapping window. All region bases and extents lie within it.
const (
	MapBase uint32 = 0x60000000
	MapTop  uint32 = 0x80000000
)

// MaxRegions is the capacity of a process's region table.
const MaxRegions = 16

// Region records one mapping: a page-aligned base, a length in bytes, the
// mapping flags, the backing descriptor for file mappings, and a reference
// count. Each referencing process holds one count; frames are released only
// by the holder of the last reference.
type Region struct {
	Addr   uint32
	Length uint32
	Flags  Flag
	FD     int

	refs int32
}

func newRegion(addr, length uint32, flags Flag, fd int) *Region {
	return &Region{Addr: addr, Length: length, Flags: flags, FD: fd, refs: 1}
}

// Refs returns the current reference count.
func (r *Region) Refs() int32 {
	return atomic.LoadInt32(&r.refs)
}

func (r *Region) ref() {
	atomic.AddInt32(&r.refs, 1)
}

func (r *Region) unref() int32 {
	return atomic.AddInt32(&r.refs, -1)
}

func (r *Region) end() uint32 {
	return r.Addr + r.Length
}

func (r *Region) contains(va uint32) bool {
	return va >= r.Addr && va < r.end()
}

// overlaps reports whether [addr, addr+length) intersects this region.
func (r *Region) overlaps(addr, length uint32) bool {
	return addr < r.end() && r.Addr < addr+length
}

// shared reports whether frames installed into this region are shared
// across fork.
func (r *Region) shared() bool {
	return r.Flags&MapShared != 0
}

// fileBacked reports whether faults on this region read from a file.
func (r *Region) fileBacked() bool {
	return r.Flags&MapAnonymous == 0
}

// RegionTable is the fixed-capacity set of mapping regions owned by one
// process. Occupied slots never overlap one another.
type RegionTable [MaxRegions]*Region

// overlapsAny reports whether [addr, addr+length) intersects any region.
func (rt *RegionTable) overlapsAny(addr, length uint32) bool {
	return rt.overlapsOther(addr, length, nil)
}

// overlapsOther is overlapsAny with one region excluded from the scan.
func (rt *RegionTable) overlapsOther(addr, length uint32, skip *Region) bool {
	for _, r := range rt {
		if r != nil && r != skip && r.overlaps(addr, length) {
			return true
		}
	}
	return false
}

// byBase returns the slot and region whose base equals addr.
func (rt *RegionTable) byBase(addr uint32) (int, *Region) {
	for i, r := range rt {
		if r != nil && r.Addr == addr {
			return i, r
		}
	}
	return -1, nil
}

// containing returns the region holding va, if any.
func (rt *RegionTable) containing(va uint32) *Region {
	for _, r := range rt {
		if r != nil && r.contains(va) {
			return r
		}
	}
	return nil
}

// freeSlot returns the index of the first unoccupied slot, or -1 when the
// table is full.
func (rt *RegionTable) freeSlot() int {
	for i, r := range rt {
		if r == nil {
			return i
		}
	}
	return -1
}

// findFreeBase scans the user-mapping window upward in page strides for the
// first base where a region of the given length fits without overlapping
// any existing region. It returns zero when no base fits.
func (rt *RegionTable) findFreeBase(length uint32) uint32 {
	if length == 0 || length > MapTop-MapBase {
		return 0
	}
	for addr := MapBase; addr <= MapTop-length; addr += mem.PageSize {
		if !rt.overlapsAny(addr, length) {
			return addr
		}
	}
	return 0
}
