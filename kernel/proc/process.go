// Package proc implements the process table and the round-robin scheduler.
package proc

import (
	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/gnl2024/os-tutorial/kernel/segment"
)

// State describes the execution state of a process.
type State uint8

// The supported process states.
const (
	Ready State = iota
	Running
	Blocked
	Terminated
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	// initialRFlags has the interrupt-enable flag and the always-one
	// reserved bit set.
	initialRFlags = 0x202
)

// Process describes a process table entry.
type Process struct {
	PID       kernel.PID
	State     State
	Privilege privilege.Level

	// Entry is the address where execution starts.
	Entry uintptr

	// Stack and Heap are the base addresses of the process stack and heap.
	Stack uintptr
	Heap  uintptr

	// Regs holds the register snapshot that is loaded when the process is
	// scheduled.
	Regs gate.Registers

	CodeSelector segment.Selector
	DataSelector segment.Selector

	// StackRegion and HeapRegion identify the regions registered for the
	// process in the memory region table.
	StackRegion region.ID
	HeapRegion  region.ID
}

// Alive returns true if the process has not been terminated.
func (p *Process) Alive() bool {
	return p.State != Terminated
}
