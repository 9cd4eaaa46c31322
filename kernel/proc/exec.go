package proc

import (
	"encoding/binary"

	"marmot/kernel"
	"marmot/kernel/elf"
	"marmot/kernel/fs"
	"marmot/kernel/mem"
	"marmot/kernel/vm"
)

// userStackPages is the stack allocation made by Exec: one inaccessible
// guard page followed by one stack page.
const userStackPages = 2

// maxExecArgs bounds the argv vector marshalled onto the new stack.
const maxExecArgs = 32

var (
	errBadSegment  = &kernel.Error{Module: "exec", Message: "malformed program segment"}
	errNoMemory    = &kernel.Error{Module: "exec", Message: "out of memory while loading image"}
	errTooManyArgs = &kernel.Error{Module: "exec", Message: "too many arguments"}
)

// Exec replaces the process image with the ELF executable read from ip and
// marshals argv onto the fresh user stack. It returns the program entry
// point and the initial stack pointer. The new image is built completely
// before the old one is released, so a failing Exec leaves the process
// intact.
func (p *Process) Exec(ip fs.Inode, argv []string) (uint32, uint32, *kernel.Error) {
	if len(argv) > maxExecArgs {
		return 0, 0, errTooManyArgs
	}

	ip.Lock()
	defer ip.Unlock()
	rd := fs.Reader{Ip: ip}

	h, err := elf.ReadHeader(rd)
	if err != nil {
		return 0, 0, err
	}

	space, err := vm.NewSpace(p.VM.Phys(), p.VM.Files)
	if err != nil {
		return 0, 0, err
	}

	var sz uint32
	for i := 0; i < int(h.Phnum); i++ {
		ph, perr := elf.ReadProgHeader(rd, h, i)
		if perr != nil {
			space.Free()
			return 0, 0, perr
		}
		if ph.Type != elf.LoadProg {
			continue
		}
		if ph.Memsz < ph.Filesz || ph.Vaddr+ph.Memsz < ph.Vaddr || ph.Vaddr%mem.PageSize != 0 {
			space.Free()
			return 0, 0, errBadSegment
		}

		if sz = space.Dir.Grow(sz, ph.Vaddr+ph.Memsz); sz == 0 {
			space.Free()
			return 0, 0, errNoMemory
		}
		if lerr := space.Dir.LoadSegment(ph.Vaddr, rd, int64(ph.Off), ph.Filesz); lerr != nil {
			space.Free()
			return 0, 0, lerr
		}
	}

	// Allocate the stack below a guard page that traps runaway growth.
	sz = mem.PageRoundUp(sz)
	if sz = space.Dir.Grow(sz, sz+userStackPages*mem.PageSize); sz == 0 {
		space.Free()
		return 0, 0, errNoMemory
	}
	space.Dir.ClearUser(sz - userStackPages*mem.PageSize)

	sp, aerr := pushArgs(space, sz, argv)
	if aerr != nil {
		space.Free()
		return 0, 0, aerr
	}

	old := p.VM
	p.VM = space
	p.Sz = sz
	old.Free()

	return h.Entry, sp, nil
}

// pushArgs lays out argv at the top of the stack: the strings themselves,
// then the pointer array, the argv pointer, argc, and a fake return
// address. It returns the resulting stack pointer.
func pushArgs(space *vm.Space, sp uint32, argv []string) (uint32, *kernel.Error) {
	addrs := make([]uint32, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		arg := append([]byte(argv[i]), 0)
		sp = (sp - uint32(len(arg))) &^ 3
		if err := space.Dir.CopyOut(sp, arg); err != nil {
			return 0, err
		}
		addrs[i] = sp
	}

	// [fake return PC | argc | argv | arg pointers... | 0]
	words := make([]uint32, 0, len(argv)+4)
	argvBase := sp - uint32(len(argv)+1)*4
	words = append(words, 0xffffffff, uint32(len(argv)), argvBase)
	words = append(words, addrs...)
	words = append(words, 0)

	frame := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(frame[i*4:], w)
	}

	sp -= uint32(len(frame))
	if err := space.Dir.CopyOut(sp, frame); err != nil {
		return 0, err
	}
	return sp, nil
}
