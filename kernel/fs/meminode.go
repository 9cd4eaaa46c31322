package fs

import (
	"sync"

	"marmot/kernel"
)

// MemInode is an inode whose contents live in kernel memory. It stands in
// for the block-backed inode layer during bring-up and under test while
// honoring the same locked-access contract.
type MemInode struct {
	mu   sync.Mutex
	data []byte
}

// NewMemInode returns an inode initialized with a copy of data.
func NewMemInode(data []byte) *MemInode {
	ip := &MemInode{}
	ip.data = append(ip.data, data...)
	return ip
}

// Lock acquires the inode lock.
func (ip *MemInode) Lock() {
	ip.mu.Lock()
}

// Unlock releases the inode lock.
func (ip *MemInode) Unlock() {
	ip.mu.Unlock()
}

// Size returns the file length in bytes.
func (ip *MemInode) Size() uint32 {
	return uint32(len(ip.data))
}

// Read copies up to len(dst) bytes starting at off into dst.
func (ip *MemInode) Read(dst []byte, off uint32) (int, *kernel.Error) {
	if off >= ip.Size() {
		return 0, nil
	}
	return copy(dst, ip.data[off:]), nil
}

// Write copies len(src) bytes into the file starting at off, extending the
// file as needed.
func (ip *MemInode) Write(src []byte, off uint32) (int, *kernel.Error) {
	if end := int(off) + len(src); end > len(ip.data) {
		grown := make([]byte, end)
		copy(grown, ip.data)
		ip.data = grown
	}
	return copy(ip.data[off:], src), nil
}

// Bytes returns a copy of the file contents.
func (ip *MemInode) Bytes() []byte {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return append([]byte(nil), ip.data...)
}
