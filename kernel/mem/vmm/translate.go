package vmm

import (
	"marmot/kernel"
	"marmot/kernel/mem"
)

var errBadUserAddress = &kernel.Error{Module: "vmm", Message: "user address is not mapped"}

// KernelSlice translates the user virtual address va into the kernel's
// direct map and returns the bytes from va to the end of its page. It
// returns nil unless the page is present and user-accessible.
func (pd *PageDir) KernelSlice(va uint32) []byte {
	e, ok := pd.Lookup(va)
	if !ok || !e.HasFlags(FlagUser) {
		return nil
	}
	return pd.phys.Slice(e.Frame())[va&mem.PageMask:]
}

// CopyOut copies src into the user range starting at dstVA, walking the
// target address space one page at a time. Every page in the range must be
// present and user-accessible.
func (pd *PageDir) CopyOut(dstVA uint32, src []byte) *kernel.Error {
	for len(src) > 0 {
		dst := pd.KernelSlice(dstVA)
		if dst == nil {
			return errBadUserAddress
		}

		n := copy(dst, src)
		src = src[n:]
		dstVA += uint32(n)
	}
	return nil
}

// CopyIn copies len(dst) bytes from the user range starting at srcVA into
// dst. Every page in the range must be present and user-accessible.
func (pd *PageDir) CopyIn(dst []byte, srcVA uint32) *kernel.Error {
	for len(dst) > 0 {
		src := pd.KernelSlice(srcVA)
		if src == nil {
			return errBadUserAddress
		}

		n := copy(dst, src)
		dst = dst[n:]
		srcVA += uint32(n)
	}
	return nil
}
