// Package syscall decodes system-call arguments from the user stack and
// dispatches the memory-mapping calls, copying their result structures back
// out with the C ABI layout user programs expect.
package syscall

import (
	"bytes"
	"encoding/binary"

	"marmot/kernel/kfmt"
	"marmot/kernel/proc"
	"marmot/kernel/trap"
	"marmot/kernel/vm"
)

// System call numbers.
const (
	SysWmap         = 22
	SysWunmap       = 23
	SysWremap       = 24
	SysGetpgdirinfo = 25
	SysGetwmapinfo  = 26
)

// sysError is the value every failing call returns to user space.
var sysError = int32(-1)

var handlers = map[uint32]func(p *proc.Process, tf *trap.Trapframe) int32{
	SysWmap:         sysWmap,
	SysWunmap:       sysWunmap,
	SysWremap:       sysWremap,
	SysGetpgdirinfo: sysGetpgdirinfo,
	SysGetwmapinfo:  sysGetwmapinfo,
}

// Init registers the dispatcher with the trap gate.
func Init() {
	trap.HandleSyscall(dispatch)
}

// dispatch runs the system call selected by EAX and stores its return value
// back into EAX.
func dispatch(p *proc.Process, tf *trap.Trapframe) {
	h, ok := handlers[tf.EAX]
	if !ok {
		kfmt.Printf("%d %s: unknown sys call %d\n", p.PID, p.Name, tf.EAX)
		tf.EAX = uint32(sysError)
		return
	}
	tf.EAX = uint32(h(p, tf))
}

// argUint fetches the n'th 32-bit system-call argument. Arguments follow
// the cdecl convention: the n'th one sits at ESP+4+4*n on the user stack.
func argUint(p *proc.Process, tf *trap.Trapframe, n int) (uint32, bool) {
	var buf [4]byte
	if err := p.VM.Dir.CopyIn(buf[:], tf.ESP+4+4*uint32(n)); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

// argInt fetches the n'th argument as a signed integer.
func argInt(p *proc.Process, tf *trap.Trapframe, n int) (int32, bool) {
	v, ok := argUint(p, tf, n)
	return int32(v), ok
}

func sysWmap(p *proc.Process, tf *trap.Trapframe) int32 {
	addr, ok0 := argUint(p, tf, 0)
	length, ok1 := argInt(p, tf, 1)
	flags, ok2 := argUint(p, tf, 2)
	fd, ok3 := argInt(p, tf, 3)
	if !ok0 || !ok1 || !ok2 || !ok3 || length <= 0 {
		return sysError
	}

	base, err := p.VM.Map(addr, uint32(length), vm.Flag(flags), int(fd))
	if err != nil {
		return sysError
	}
	return int32(base)
}

func sysWunmap(p *proc.Process, tf *trap.Trapframe) int32 {
	addr, ok := argUint(p, tf, 0)
	if !ok {
		return sysError
	}
	if err := p.VM.Unmap(addr); err != nil {
		return sysError
	}
	return 0
}

func sysWremap(p *proc.Process, tf *trap.Trapframe) int32 {
	oldaddr, ok0 := argUint(p, tf, 0)
	oldsize, ok1 := argInt(p, tf, 1)
	newsize, ok2 := argInt(p, tf, 2)
	flags, ok3 := argUint(p, tf, 3)
	if !ok0 || !ok1 || !ok2 || !ok3 || oldsize <= 0 || newsize <= 0 {
		return sysError
	}

	base, err := p.VM.Remap(oldaddr, uint32(oldsize), uint32(newsize), flags)
	if err != nil {
		return sysError
	}
	return int32(base)
}

// wmapinfoABI mirrors struct wmapinfo as laid out by a 32-bit C compiler.
type wmapinfoABI struct {
	TotalMmaps   int32
	Addr         [vm.MaxRegions]uint32
	Length       [vm.MaxRegions]uint32
	NLoadedPages [vm.MaxRegions]uint32
}

func sysGetwmapinfo(p *proc.Process, tf *trap.Trapframe) int32 {
	ptr, ok := argUint(p, tf, 0)
	if !ok || ptr == 0 {
		return sysError
	}

	info := p.VM.WmapInfo()
	abi := wmapinfoABI{
		TotalMmaps:   int32(info.TotalMmaps),
		Addr:         info.Addr,
		Length:       info.Length,
		NLoadedPages: info.NLoadedPages,
	}
	return copyOutStruct(p, ptr, &abi)
}

// pgdirinfoABI mirrors struct pgdirinfo as laid out by a 32-bit C compiler.
type pgdirinfoABI struct {
	NUPages uint32
	VA      [vm.MaxPageInfo]uint32
	PA      [vm.MaxPageInfo]uint32
}

func sysGetpgdirinfo(p *proc.Process, tf *trap.Trapframe) int32 {
	ptr, ok := argUint(p, tf, 0)
	if !ok || ptr == 0 {
		return sysError
	}

	info := p.VM.PgdirInfo()
	abi := pgdirinfoABI{NUPages: info.NUPages, VA: info.VA, PA: info.PA}
	return copyOutStruct(p, ptr, &abi)
}

// copyOutStruct encodes v little-endian and copies it to the user address
// ptr.
func copyOutStruct(p *proc.Process, ptr uint32, v interface{}) int32 {
	var bb bytes.Buffer
	if err := binary.Write(&bb, binary.LittleEndian, v); err != nil {
		return sysError
	}
	buf := bb.Bytes()
	if cerr := p.VM.Dir.CopyOut(ptr, buf); cerr != nil {
		return sysError
	}
	return 0
}
