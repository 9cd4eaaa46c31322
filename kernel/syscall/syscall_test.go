package syscall

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marmot/kernel/fs"
	"marmot/kernel/mem"
	"marmot/kernel/mem/pmm"
	"marmot/kernel/proc"
	"marmot/kernel/trap"
	"marmot/kernel/vm"
)

func newTestProcess(t *testing.T) *proc.Process {
	t.Helper()

	phys := pmm.NewFrameAllocator(0x800000)
	space, err := vm.NewSpace(phys, &fs.FileTable{})
	require.Nil(t, err)

	p := &proc.Process{PID: 3, Name: "wmaptest", VM: space}
	require.NotZero(t, space.Dir.Grow(0, 2*mem.PageSize), "expected the test stack to allocate")
	return p
}

// syscall pushes args onto the process stack the way the C calling
// convention lays them out, then routes a Syscall trap and returns EAX.
func syscall(t *testing.T, p *proc.Process, num uint32, args ...uint32) int32 {
	t.Helper()

	const esp = uint32(0x1000)
	frame := make([]byte, 4+4*len(args))
	for i, a := range args {
		binary.LittleEndian.PutUint32(frame[4+4*i:], a)
	}
	require.Nil(t, p.VM.Dir.CopyOut(esp, frame))

	tf := &trap.Trapframe{Trapno: trap.Syscall, CS: trap.DPLUser, ESP: esp, EAX: num}
	trap.Trap(p, tf, 0)
	return int32(tf.EAX)
}

func TestMain(m *testing.M) {
	Init()
	m.Run()
}

func TestWmapSyscallRoundTrip(t *testing.T) {
	p := newTestProcess(t)

	base := syscall(t, p, SysWmap, 0, 2*mem.PageSize, uint32(vm.MapAnonymous|vm.MapPrivate), ^uint32(0))
	require.EqualValues(t, vm.MapBase, uint32(base))

	// Touch one page through the fault path.
	require.Nil(t, p.VM.PageFault(uint32(base)))

	assert.EqualValues(t, 0, syscall(t, p, SysWunmap, uint32(base)))
	assert.EqualValues(t, -1, syscall(t, p, SysWunmap, uint32(base)))
}

func TestWmapSyscallRejectsBadArguments(t *testing.T) {
	p := newTestProcess(t)

	// Zero and negative lengths never reach the mapping layer.
	assert.EqualValues(t, -1, syscall(t, p, SysWmap, 0, 0, uint32(vm.MapAnonymous|vm.MapPrivate), ^uint32(0)))
	assert.EqualValues(t, -1, syscall(t, p, SysWmap, 0, ^uint32(0), uint32(vm.MapAnonymous|vm.MapPrivate), ^uint32(0)))
	assert.EqualValues(t, -1, syscall(t, p, SysWmap, 0, mem.PageSize, 0, ^uint32(0)))
}

func TestWremapSyscall(t *testing.T) {
	p := newTestProcess(t)

	base := uint32(syscall(t, p, SysWmap, 0, mem.PageSize, uint32(vm.MapAnonymous|vm.MapPrivate), ^uint32(0)))
	got := syscall(t, p, SysWremap, base, mem.PageSize, 3*mem.PageSize, 0)
	assert.Equal(t, base, uint32(got))

	// Shrinking back down also round-trips.
	got = syscall(t, p, SysWremap, base, 3*mem.PageSize, mem.PageSize, 0)
	assert.Equal(t, base, uint32(got))

	assert.EqualValues(t, -1, syscall(t, p, SysWremap, base, 0, mem.PageSize, 0))
}

func TestGetwmapinfoSyscallABI(t *testing.T) {
	p := newTestProcess(t)

	base := uint32(syscall(t, p, SysWmap, 0, 2*mem.PageSize, uint32(vm.MapAnonymous|vm.MapShared), ^uint32(0)))
	require.Nil(t, p.VM.PageFault(base))

	const infoPtr = uint32(0x800)
	require.EqualValues(t, 0, syscall(t, p, SysGetwmapinfo, infoPtr))

	// Decode the copied-out struct byte-for-byte.
	raw := make([]byte, 4+3*4*vm.MaxRegions)
	require.Nil(t, p.VM.Dir.CopyIn(raw, infoPtr))

	var abi wmapinfoABI
	require.NoError(t, binary.Read(bytes.NewReader(raw), binary.LittleEndian, &abi))
	assert.EqualValues(t, 1, abi.TotalMmaps)
	assert.Equal(t, base, abi.Addr[0])
	assert.EqualValues(t, 2*mem.PageSize, abi.Length[0])
	assert.EqualValues(t, 1, abi.NLoadedPages[0])
}

func TestGetpgdirinfoSyscallABI(t *testing.T) {
	p := newTestProcess(t)

	const infoPtr = uint32(0x100)
	require.EqualValues(t, 0, syscall(t, p, SysGetpgdirinfo, infoPtr))

	raw := make([]byte, 4+2*4*vm.MaxPageInfo)
	require.Nil(t, p.VM.Dir.CopyIn(raw, infoPtr))

	var abi pgdirinfoABI
	require.NoError(t, binary.Read(bytes.NewReader(raw), binary.LittleEndian, &abi))

	// The two stack pages are the only user pages.
	assert.EqualValues(t, 2, abi.NUPages)
	assert.EqualValues(t, 0, abi.VA[0])
	assert.EqualValues(t, mem.PageSize, abi.VA[1])

	// Null pointers are rejected.
	assert.EqualValues(t, -1, syscall(t, p, SysGetpgdirinfo, 0))
}

func TestUnknownSyscallNumber(t *testing.T) {
	p := newTestProcess(t)
	assert.EqualValues(t, -1, syscall(t, p, 999))
}
