// Package elf decodes the little-endian ELF32 image headers used to load
// program segments into a fresh address space.
package elf

import (
	"bytes"
	"encoding/binary"
	"io"

	"marmot/kernel"
)

// Magic is the value of the first header word: "\x7FELF" read as a
// little-endian 32-bit integer.
const Magic = 0x464c457f

// LoadProg marks a program header whose segment must be loaded into memory.
const LoadProg = 1

// headerSize and progHeaderSize are the encoded sizes of the two headers.
const (
	headerSize     = 52
	progHeaderSize = 32
)

// ErrBadImage is returned when a file does not carry a decodable ELF32
// image.
var ErrBadImage = &kernel.Error{Module: "elf", Message: "not a valid ELF32 image"}

// Header is the ELF32 file header.
type Header struct {
	Magic     uint32
	Ident     [12]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// ProgHeader is an ELF32 program header describing one segment.
type ProgHeader struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

// ReadHeader decodes the file header from r.
func ReadHeader(r io.ReaderAt) (Header, *kernel.Error) {
	var h Header

	buf := make([]byte, headerSize)
	if n, _ := r.ReadAt(buf, 0); n != headerSize {
		return h, ErrBadImage
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &h); err != nil {
		return h, ErrBadImage
	}
	if h.Magic != Magic {
		return h, ErrBadImage
	}
	return h, nil
}

// ReadProgHeader decodes the index'th program header of the image described
// by h.
func ReadProgHeader(r io.ReaderAt, h Header, index int) (ProgHeader, *kernel.Error) {
	var ph ProgHeader

	if index < 0 || index >= int(h.Phnum) {
		return ph, ErrBadImage
	}

	buf := make([]byte, progHeaderSize)
	off := int64(h.Phoff) + int64(index)*int64(h.Phentsize)
	if n, _ := r.ReadAt(buf, off); n != progHeaderSize {
		return ph, ErrBadImage
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ph); err != nil {
		return ph, ErrBadImage
	}
	return ph, nil
}
