// Package fs declares the contracts the memory subsystem expects from the
// file layer: locked inode access, per-process open files, and the log
// transaction brackets. The block-backed implementations live outside this
// module; MemInode provides an in-memory stand-in.
package fs

import "marmot/kernel"

// NOFILE is the number of open files a process may hold.
const NOFILE = 16

var (
	// BeginOp and EndOp bracket file-system writes in a log transaction.
	// The block layer installs the real brackets during boot; the
	// defaults are no-ops so the subsystem can run without a disk.
	BeginOp = func() {}
	EndOp   = func() {}
)

// Inode is the locked-access contract of the inode layer. Read and Write
// require the lock to be held and may sleep.
type Inode interface {
	Lock()
	Unlock()

	// Size returns the current length of the file in bytes.
	Size() uint32

	// Read copies up to len(dst) bytes starting at off into dst and
	// returns the number of bytes read.
	Read(dst []byte, off uint32) (int, *kernel.Error)

	// Write copies len(src) bytes to the file starting at off, extending
	// it as needed, and returns the number of bytes written.
	Write(src []byte, off uint32) (int, *kernel.Error)
}

// Reader adapts a locked inode to io.ReaderAt so program images can be
// loaded straight into memory segments. The caller must hold the inode
// lock for the lifetime of the Reader.
type Reader struct {
	Ip Inode
}

// ReadAt implements io.ReaderAt.
func (r Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(r.Ip.Size()) {
		return 0, errBadOffset
	}

	n, err := r.Ip.Read(p, uint32(off))
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, errBadOffset
	}
	return n, nil
}

var errBadOffset = &kernel.Error{Module: "fs", Message: "read past end of file"}

// File is an open file description.
type File struct {
	Ip       Inode
	Off      uint32
	Readable bool
	Writable bool
}

// FileTable holds a process's open files, indexed by descriptor.
type FileTable struct {
	files [NOFILE]*File
}

// Get returns the open file for fd, or nil if fd is out of range or closed.
func (ft *FileTable) Get(fd int) *File {
	if fd < 0 || fd >= NOFILE {
		return nil
	}
	return ft.files[fd]
}

// Install places f in the first free slot and returns its descriptor, or -1
// when the table is full.
func (ft *FileTable) Install(f *File) int {
	for fd := range ft.files {
		if ft.files[fd] == nil {
			ft.files[fd] = f
			return fd
		}
	}
	return -1
}

// Close releases the slot for fd.
func (ft *FileTable) Close(fd int) {
	if fd >= 0 && fd < NOFILE {
		ft.files[fd] = nil
	}
}
