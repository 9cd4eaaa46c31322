// Package proc implements the process structure and the lifecycle
// operations that reshape its address space: fork, exec and exit.
package proc

import (
	"marmot/kernel"
	"marmot/kernel/vm"
)

// Process is one user process: its identity, its program size, its kill
// flag, and the virtual address space it runs in. The scheduler and the
// process table live outside this module; a Process is only ever
// manipulated by the CPU it is running on.
type Process struct {
	PID    int
	Name   string
	Killed bool

	// Sz is the size of the program image in bytes, starting at virtual
	// address zero. The wmap window is managed separately by VM.Regions.
	Sz uint32

	VM *vm.Space
}

// Fork clones the process into a child with the given PID. The child
// receives a duplicated address space: the program image is copied, shared
// mapping regions are aliased, private ones are copied.
func (p *Process) Fork(pid int) (*Process, *kernel.Error) {
	space, err := p.VM.Fork(p.Sz)
	if err != nil {
		return nil, err
	}

	return &Process{
		PID:  pid,
		Name: p.Name,
		Sz:   p.Sz,
		VM:   space,
	}, nil
}

// Exit releases the process address space. Mapping regions are released
// without write-back; persisting a shared file mapping is a wunmap effect.
func (p *Process) Exit() {
	if p.VM != nil {
		p.VM.Free()
		p.VM = nil
	}
}

// Kill marks the process for termination. The trap return path notices the
// flag and exits the process before it re-enters user mode.
func (p *Process) Kill() {
	p.Killed = true
}
