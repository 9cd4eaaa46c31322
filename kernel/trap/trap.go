// Package trap routes kernel entries: system calls, demand-paging faults,
// timer ticks, and the faults that kill a misbehaving process.
package trap

import (
	"marmot/kernel/kfmt"
	"marmot/kernel/proc"
	"marmot/kernel/vm"
)

// Trap numbers.
const (
	PageFault = 14
	Syscall   = 64

	IRQ0     = 32
	IRQTimer = IRQ0 + 0
)

// DPLUser is the privilege level of user-mode segment selectors; the low
// bits of a selector in a trap frame reveal the mode the trap came from.
const DPLUser = 3

// faultPresent is the page-fault error-code bit that distinguishes a
// protection violation from an access to a non-present page. Only the
// latter is a demand-paging candidate.
const faultPresent = 0x1

// Trapframe is the register state pushed when the CPU enters the kernel.
type Trapframe struct {
	EDI, ESI, EBP, OESP uint32
	EBX, EDX, ECX, EAX  uint32

	GS, FS, ES, DS uint16

	Trapno uint32
	Err    uint32
	EIP    uint32
	CS     uint32
	EFLAGS uint32
	ESP    uint32
	SS     uint32
}

// SyscallHandler executes the system call selected by the trap frame.
type SyscallHandler func(p *proc.Process, tf *Trapframe)

var (
	// syscallHandler is installed by the syscall package during boot.
	syscallHandler SyscallHandler

	// The following hooks are owned by the scheduler and are mocked by
	// tests: cpuID reports the CPU servicing the trap, yieldFn gives up
	// the CPU on a timer tick, and exitFn force-exits a killed process
	// before it returns to user mode.
	cpuID   = func() int { return 0 }
	yieldFn = func() {}
	exitFn  = func(p *proc.Process) { p.Exit() }

	// ticks counts timer interrupts on CPU 0.
	ticks uint32
)

// HandleSyscall registers the dispatcher invoked for Syscall traps.
func HandleSyscall(fn SyscallHandler) {
	syscallHandler = fn
}

// Trap routes one kernel entry for process p. For page faults, cr2 carries
// the faulting address.
func Trap(p *proc.Process, tf *Trapframe, cr2 uint32) {
	if tf.Trapno == Syscall {
		if p.Killed {
			exitFn(p)
			return
		}
		syscallHandler(p, tf)
		if p.Killed {
			exitFn(p)
		}
		return
	}

	switch tf.Trapno {
	case PageFault:
		if p == nil || tf.CS&3 == 0 {
			kfmt.Printf("unexpected trap %d from cpu %d eip %x (cr2=0x%x)\n", tf.Trapno, cpuID(), tf.EIP, cr2)
			panic("trap: page fault in kernel mode")
		}

		if tf.Err&faultPresent == 0 {
			err := p.VM.PageFault(cr2)
			if err == nil {
				break
			}
			if err != vm.ErrNoRegion {
				// The fault handler reported why; the process dies
				// without the protection-violation log line.
				p.Kill()
				break
			}
		}
		logKill(p, tf, cr2)
		p.Kill()

	case IRQTimer:
		if cpuID() == 0 {
			ticks++
		}
		yieldFn()

	default:
		if p == nil || tf.CS&3 == 0 {
			kfmt.Printf("unexpected trap %d from cpu %d eip %x (cr2=0x%x)\n", tf.Trapno, cpuID(), tf.EIP, cr2)
			panic("trap")
		}
		logKill(p, tf, cr2)
		p.Kill()
	}

	// Force the process exit if it has been killed and is in user space.
	if p != nil && p.Killed && tf.CS&3 == DPLUser {
		exitFn(p)
	}
}

func logKill(p *proc.Process, tf *Trapframe, cr2 uint32) {
	kfmt.Printf("pid %d %s: trap %d err %d on cpu %d eip 0x%x addr 0x%x--kill proc\n",
		p.PID, p.Name, tf.Trapno, tf.Err, cpuID(), tf.EIP, cr2)
}
