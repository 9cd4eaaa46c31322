package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marmot/kernel/fs"
	"marmot/kernel/mem"
)

func TestMapValidatesFlags(t *testing.T) {
	_, s := newTestSpace(t)

	_, err := s.Map(0, mem.PageSize, MapFixed, -1)
	assert.Equal(t, errBadFlags, err)

	_, err = s.Map(0, mem.PageSize, 0, -1)
	assert.Equal(t, errBadFlags, err)
}

func TestMapPlacesRegionsInWindow(t *testing.T) {
	_, s := newTestSpace(t)

	addr, err := s.Map(0, 2*mem.PageSize, MapAnonymous|MapPrivate, -1)
	require.Nil(t, err)
	assert.Equal(t, MapBase, addr)

	// The next mapping lands right above the first one.
	addr, err = s.Map(0, mem.PageSize, MapAnonymous|MapPrivate, -1)
	require.Nil(t, err)
	assert.Equal(t, MapBase+2*mem.PageSize, addr)

	// No pages are installed up front.
	_, ok := s.Dir.Lookup(MapBase)
	assert.False(t, ok, "expected demand paging to defer page installation")
}

func TestMapFixedPlacement(t *testing.T) {
	_, s := newTestSpace(t)

	const fixed = MapBase + 0x100000

	addr, err := s.Map(fixed, mem.PageSize, MapAnonymous|MapShared|MapFixed, -1)
	require.Nil(t, err)
	assert.Equal(t, uint32(fixed), addr)

	// Misaligned, out-of-window and oversized placements are rejected.
	for _, spec := range []struct {
		addr, length uint32
	}{
		{fixed + 0x200000 + 1, mem.PageSize},
		{MapBase - mem.PageSize, mem.PageSize},
		{MapTop, mem.PageSize},
		{0x40000000, mem.PageSize},
		{MapTop - mem.PageSize, 2 * mem.PageSize},
	} {
		_, err := s.Map(spec.addr, spec.length, MapAnonymous|MapPrivate|MapFixed, -1)
		assert.Equal(t, errBadAddress, err, "addr=0x%x length=0x%x", spec.addr, spec.length)
	}
}

func TestMapFixedRejectsOverlap(t *testing.T) {
	_, s := newTestSpace(t)

	// Scenario S4: a fixed mapping colliding with an existing region fails.
	addr, err := s.Map(0, 2*mem.PageSize, MapAnonymous|MapPrivate, -1)
	require.Nil(t, err)
	require.Equal(t, MapBase, addr)

	_, err = s.Map(addr, mem.PageSize, MapAnonymous|MapFixed, -1)
	assert.Equal(t, errOverlap, err)

	_, err = s.Map(addr+mem.PageSize, 2*mem.PageSize, MapAnonymous|MapFixed, -1)
	assert.Equal(t, errOverlap, err)
}

func TestMapEnforcesRegionCapacity(t *testing.T) {
	_, s := newTestSpace(t)

	for i := 0; i < MaxRegions; i++ {
		_, err := s.Map(0, mem.PageSize, MapAnonymous|MapPrivate, -1)
		require.Nil(t, err)
	}

	_, err := s.Map(0, mem.PageSize, MapAnonymous|MapPrivate, -1)
	assert.Equal(t, errTableFull, err)
}

func TestMapValidatesFileDescriptor(t *testing.T) {
	_, s := newTestSpace(t)

	for _, fd := range []int{-1, 3, fs.NOFILE} {
		_, err := s.Map(0, mem.PageSize, MapShared, fd)
		assert.Equal(t, errBadDescriptor, err, "fd=%d", fd)
	}

	// A file that is open but not readable is rejected too.
	fd := s.Files.Install(&fs.File{Ip: fs.NewMemInode(nil)})
	_, err := s.Map(0, mem.PageSize, MapShared, fd)
	assert.Equal(t, errBadDescriptor, err)
}

func TestAnonymousMappingLifecycle(t *testing.T) {
	// Scenario S1: map, touch two pages, inspect, unmap.
	phys, s := newTestSpace(t)
	baseline := phys.FreeCount()

	addr, err := s.Map(0, 2*mem.PageSize, MapAnonymous|MapPrivate, -1)
	require.Nil(t, err)
	require.Equal(t, MapBase, addr)

	info := s.WmapInfo()
	require.Equal(t, 1, info.TotalMmaps)
	assert.Zero(t, info.NLoadedPages[0], "expected no pages before the first touch")

	poke(t, s, addr, 0x11)
	poke(t, s, addr+mem.PageSize, 0x22)

	info = s.WmapInfo()
	assert.EqualValues(t, 2, info.NLoadedPages[0])

	// Anonymous pages come up zero-filled.
	assert.Zero(t, peek(t, s, addr+1))

	require.Nil(t, s.Unmap(addr))
	info = s.WmapInfo()
	assert.Zero(t, info.TotalMmaps)

	// Both data frames come back; only the page-table frame that now
	// covers the window stays behind until the space is torn down.
	assert.Equal(t, baseline-1, phys.FreeCount())

	s.Free()
	assert.Equal(t, int((testPhysTop-mem.FreeBase)/mem.PageSize), phys.FreeCount())
}

func TestUnmapValidation(t *testing.T) {
	_, s := newTestSpace(t)

	assert.Equal(t, errBadAddress, s.Unmap(MapBase+1))
	assert.Equal(t, errNoRegion, s.Unmap(MapBase))

	addr, err := s.Map(0, 2*mem.PageSize, MapAnonymous|MapPrivate, -1)
	require.Nil(t, err)

	// Only the region base unmaps it.
	assert.Equal(t, errNoRegion, s.Unmap(addr+mem.PageSize))
	assert.Nil(t, s.Unmap(addr))
}

func TestFileBackedReadThrough(t *testing.T) {
	// Scenario S2: bytes read through the mapping equal the file bytes.
	_, s := newTestSpace(t)
	fd := openFile(t, s, []byte("HELLO"))

	addr, err := s.Map(0, mem.PageSize, MapShared, fd)
	require.Nil(t, err)

	assert.Equal(t, byte('H'), peek(t, s, addr))
	assert.Equal(t, byte('O'), peek(t, s, addr+4))
	// Bytes past the file contents are zero-filled.
	assert.Zero(t, peek(t, s, addr+5))
}

func TestSharedWriteBack(t *testing.T) {
	// Scenario S3: a write through a shared mapping reaches the file at
	// unmap time.
	_, s := newTestSpace(t)
	ip := fs.NewMemInode([]byte("HELLO"))
	fd := s.Files.Install(&fs.File{Ip: ip, Readable: true, Writable: true})

	addr, err := s.Map(0, mem.PageSize, MapShared, fd)
	require.Nil(t, err)

	poke(t, s, addr, 'J')
	require.Nil(t, s.Unmap(addr))

	assert.Equal(t, "JELLO", string(ip.Bytes()[:5]))
}

func TestWriteBackSkipsPrivateMappings(t *testing.T) {
	_, s := newTestSpace(t)
	ip := fs.NewMemInode([]byte("HELLO"))
	fd := s.Files.Install(&fs.File{Ip: ip, Readable: true})

	addr, err := s.Map(0, mem.PageSize, MapPrivate, fd)
	require.Nil(t, err)

	poke(t, s, addr, 'J')
	require.Nil(t, s.Unmap(addr))

	assert.Equal(t, "HELLO", string(ip.Bytes()))
}

func TestWriteBackUsesTransactionBrackets(t *testing.T) {
	defer func(begin, end func()) {
		fs.BeginOp, fs.EndOp = begin, end
	}(fs.BeginOp, fs.EndOp)

	var ops []string
	fs.BeginOp = func() { ops = append(ops, "begin") }
	fs.EndOp = func() { ops = append(ops, "end") }

	_, s := newTestSpace(t)
	fd := openFile(t, s, []byte("HELLO"))
	addr, err := s.Map(0, mem.PageSize, MapShared, fd)
	require.Nil(t, err)

	poke(t, s, addr, 'J')
	require.Nil(t, s.Unmap(addr))

	assert.Equal(t, []string{"begin", "end"}, ops)
}

func TestWriteBackFailureLeavesRegionMapped(t *testing.T) {
	_, s := newTestSpace(t)
	fd := openFile(t, s, []byte("HELLO"))

	addr, err := s.Map(0, mem.PageSize, MapShared, fd)
	require.Nil(t, err)
	poke(t, s, addr, 'J')

	// Closing the file makes the write-back fail; the region must survive.
	s.Files.Close(fd)
	assert.Equal(t, errBadDescriptor, s.Unmap(addr))

	info := s.WmapInfo()
	assert.Equal(t, 1, info.TotalMmaps)
	assert.EqualValues(t, 1, info.NLoadedPages[0])
}

func TestRegionsStayPageAlignedAndDisjoint(t *testing.T) {
	_, s := newTestSpace(t)

	// Lengths are tracked in bytes; placement still happens in page strides.
	a, err := s.Map(0, 100, MapAnonymous|MapPrivate, -1)
	require.Nil(t, err)
	b, err := s.Map(0, mem.PageSize+1, MapAnonymous|MapPrivate, -1)
	require.Nil(t, err)
	c, err := s.Map(0, 3*mem.PageSize, MapAnonymous|MapShared, -1)
	require.Nil(t, err)

	for _, addr := range []uint32{a, b, c} {
		assert.Zero(t, addr%mem.PageSize, "region base 0x%x must be page-aligned", addr)
	}

	var occupied []*Region
	for _, r := range s.Regions {
		if r != nil {
			occupied = append(occupied, r)
		}
	}
	require.Len(t, occupied, 3)
	for i, r := range occupied {
		for _, other := range occupied[i+1:] {
			assert.False(t, r.overlaps(other.Addr, other.Length),
				"regions [0x%x,+0x%x) and [0x%x,+0x%x) overlap", r.Addr, r.Length, other.Addr, other.Length)
		}
	}
}
