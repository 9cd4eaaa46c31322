// Package vmm implements the two-level translation structure that maps a
// per-process virtual address space onto physical frames.
package vmm

import (
	"marmot/kernel/mem"
	"marmot/kernel/mem/pmm"
)

// EntryFlag describes a flag that can be applied to a page-table or
// page-directory entry.
type EntryFlag uint32

// The flag bits of a page-table entry. Accessed and Dirty are maintained by
// the hardware.
const (
	FlagPresent EntryFlag = 1 << 0
	FlagRW      EntryFlag = 1 << 1
	FlagUser    EntryFlag = 1 << 2

	FlagAccessed EntryFlag = 1 << 5
	FlagDirty    EntryFlag = 1 << 6
)

// physPageMask masks the frame-number bits of an entry.
const physPageMask = 0xfffff000

// Entry describes a 32-bit page-table or page-directory entry: the high 20
// bits name a physical frame, the low bits hold flags. Directory entries
// point to a page-table frame; table entries point to a data frame.
type Entry uint32

// HasFlags returns true if this entry has all the input flags set.
func (e Entry) HasFlags(flags EntryFlag) bool {
	return (uint32(e) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (e Entry) HasAnyFlag(flags EntryFlag) bool {
	return (uint32(e) & uint32(flags)) != 0
}

// SetFlags sets the input list of flags to the entry.
func (e *Entry) SetFlags(flags EntryFlag) {
	*e = Entry(uint32(*e) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the entry.
func (e *Entry) ClearFlags(flags EntryFlag) {
	*e = Entry(uint32(*e) &^ uint32(flags))
}

// Flags returns the flag bits of this entry.
func (e Entry) Flags() EntryFlag {
	return EntryFlag(uint32(e) &^ physPageMask)
}

// Frame returns the physical frame that this entry points to.
func (e Entry) Frame() pmm.Frame {
	return pmm.Frame((uint32(e) & physPageMask) >> mem.PageShift)
}

// SetFrame updates the entry to point to the given physical frame.
func (e *Entry) SetFrame(frame pmm.Frame) {
	*e = Entry((uint32(*e) &^ physPageMask) | frame.Address())
}
