package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"marmot/kernel"
	"marmot/kernel/fs"
	"marmot/kernel/mem"
	"marmot/kernel/mem/pmm"
)

// testPhysTop models an 8 MiB machine.
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

func newTestSpace(t *testing.T) (*pmm.FrameAllocator, *Space) {
	t.Helper()

	phys := pmm.NewFrameAllocator(testPhysTop)
	s, err := NewSpace(phys, &fs.FileTable{})
	require.Nil(t, err)
	return phys, s
}

// openFile installs a readable in-memory file and returns its descriptor.
func openFile(t *testing.T, s *Space, contents []byte) int {
	t.Helper()

	fd := s.Files.Install(&fs.File{Ip: fs.NewMemInode(contents), Readable: true})
	require.GreaterOrEqual(t, fd, 0)
	return fd
}

// touch simulates a user access to va: it raises the demand-paging fault
// the way the trap layer would and requires it to be resolved.
func touch(t *testing.T, s *Space, va uint32) {
	t.Helper()
	require.Nil(t, s.PageFault(va))
}

// poke writes one byte at va, faulting the page in first when necessary.
func poke(t *testing.T, s *Space, va uint32, b byte) {
	t.Helper()

	if _, ok := s.Dir.Lookup(mem.PageRoundDown(va)); !ok {
		touch(t, s, va)
	}
	require.Nil(t, s.Dir.CopyOut(va, []byte{b}))
}

// peek reads one byte at va, faulting the page in first when necessary.
func peek(t *testing.T, s *Space, va uint32) byte {
	t.Helper()

	if _, ok := s.Dir.Lookup(mem.PageRoundDown(va)); !ok {
		touch(t, s, va)
	}
	var b [1]byte
	require.Nil(t, s.Dir.CopyIn(b[:], va))
	return b[0]
}
