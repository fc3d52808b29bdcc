package proc

import (
	"fmt"
	"io"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/mm"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/gnl2024/os-tutorial/kernel/segment"
	"github.com/hashicorp/go-hclog"
)

// MaxProcesses is the capacity of the process table, kernel process
// included.
const MaxProcesses = 16

var (
	// ErrProcessTableFull is returned once MaxProcesses PIDs have been
	// handed out during this boot session.
	ErrProcessTableFull = &kernel.Error{Module: "proc", Message: "process table full"}

	// ErrNoSuchProcess is returned for unknown or terminated PIDs.
	ErrNoSuchProcess = &kernel.Error{Module: "proc", Message: "no such process"}

	// ErrKernelProcess is returned when attempting to terminate or block
	// the kernel process.
	ErrKernelProcess = &kernel.Error{Module: "proc", Message: "operation not permitted on the kernel process"}

	// ErrInvalidTransition is returned for state changes that are not
	// allowed from the current state.
	ErrInvalidTransition = &kernel.Error{Module: "proc", Message: "invalid state transition"}

	// ErrAlreadyBootstrapped is returned if Bootstrap is invoked twice.
	ErrAlreadyBootstrapped = &kernel.Error{Module: "proc", Message: "kernel process already created"}
)

// Allocator reserves physical memory for process heaps.
type Allocator interface {
	Alloc(size uintptr, pageAligned bool) (uintptr, *kernel.Error)
}

// Config holds the sizes of the per-process memory footprint.
type Config struct {
	StackSize uintptr
	HeapSize  uintptr
}

// DefaultConfig reserves one page for each process stack and heap.
func DefaultConfig() Config {
	return Config{StackSize: mm.PageSize, HeapSize: mm.PageSize}
}

// TerminateHook is invoked after a process has been terminated.
type TerminateHook func(pid kernel.PID)

// SwitchHook is invoked after the scheduler has switched processes. prev is
// nil for the first dispatch.
type SwitchHook func(prev, next *Process)

// Table owns the process descriptors. PIDs double as slot indices because
// they are never reused.
type Table struct {
	cfg   Config
	procs [MaxProcesses]*Process

	nextPID kernel.PID
	current *Process

	// lastIndex is the slot of the last dispatched process; the
	// scheduler resumes its scan right after it.
	lastIndex int

	ticks uint64

	heap       Allocator
	memRegions *region.Table
	mpuRegions *region.Table
	segments   *segment.Table

	onTerminate []TerminateHook
	onSwitch    []SwitchHook

	log hclog.Logger
}

// NewTable creates an empty process table. Process stacks and heaps are
// registered in memRegions; terminating a process releases the regions it
// owns in both memRegions and mpuRegions.
func NewTable(cfg Config, heap Allocator, memRegions, mpuRegions *region.Table, segments *segment.Table, log hclog.Logger) *Table {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Table{
		cfg:        cfg,
		heap:       heap,
		memRegions: memRegions,
		mpuRegions: mpuRegions,
		segments:   segments,
		log:        log,
	}
}

// OnTerminate registers a hook that runs whenever a process is terminated.
func (t *Table) OnTerminate(hook TerminateHook) {
	t.onTerminate = append(t.onTerminate, hook)
}

// OnSwitch registers a hook that runs whenever the scheduler dispatches a
// process.
func (t *Table) OnSwitch(hook SwitchHook) {
	t.onSwitch = append(t.onSwitch, hook)
}

// Bootstrap creates the kernel process (PID 0) in the Running state. Its
// stack and heap live in the fixed kernel blocks which are registered by
// the caller, so no regions are reserved here.
func (t *Table) Bootstrap(stack, heap uintptr) (*Process, *kernel.Error) {
	if t.nextPID != 0 {
		return nil, ErrAlreadyBootstrapped
	}

	code, data, err := t.segments.Selectors(privilege.Kernel)
	if err != nil {
		return nil, err
	}

	p := &Process{
		PID:          kernel.KernelPID,
		State:        Running,
		Privilege:    privilege.Kernel,
		Stack:        stack,
		Heap:         heap,
		CodeSelector: code,
		DataSelector: data,
	}
	p.Regs = t.initialRegs(p)

	t.procs[0] = p
	t.current = p
	t.lastIndex = 0
	t.nextPID = 1

	t.log.Info("kernel process created", "pid", p.PID, "stack", hclog.Hex(stack), "heap", hclog.Hex(heap))
	return p, nil
}

func (t *Table) initialRegs(p *Process) gate.Registers {
	top := uint64(p.Stack + t.cfg.StackSize)
	return gate.Registers{
		RIP:    uint64(p.Entry),
		RSP:    top,
		RBP:    top,
		RFlags: initialRFlags,
		CS:     uint64(p.CodeSelector),
		SS:     uint64(p.DataSelector),
	}
}

// CreateProcess creates a new Ready process that starts executing at entry
// with its stack at [stack, stack+StackSize). If any of the resources the
// process needs cannot be reserved, the regions already registered for it
// are released and the PID is not consumed.
func (t *Table) CreateProcess(entry, stack uintptr, level privilege.Level) (*Process, *kernel.Error) {
	pid := t.nextPID
	if pid >= MaxProcesses {
		t.log.Warn("cannot create process", "error", ErrProcessTableFull)
		return nil, ErrProcessTableFull
	}

	code, data, err := t.segments.Selectors(level)
	if err != nil {
		return nil, err
	}

	heapAddr, err := t.heap.Alloc(t.cfg.HeapSize, true)
	if err != nil {
		t.log.Warn("cannot reserve process heap", "pid", pid, "error", err)
		return nil, err
	}

	p := &Process{
		PID:          pid,
		State:        Ready,
		Privilege:    level,
		Entry:        entry,
		Stack:        stack,
		Heap:         heapAddr,
		CodeSelector: code,
		DataSelector: data,
	}

	if p.StackRegion, err = t.memRegions.Allocate(stack, t.cfg.StackSize, region.PermRW, pid, region.KindStack); err != nil {
		t.log.Warn("cannot register process stack", "pid", pid, "stack", hclog.Hex(stack), "error", err)
		return nil, err
	}

	if p.HeapRegion, err = t.memRegions.Allocate(heapAddr, t.cfg.HeapSize, region.PermRW, pid, region.KindHeap); err != nil {
		t.log.Warn("cannot register process heap", "pid", pid, "heap", hclog.Hex(heapAddr), "error", err)
		t.memRegions.FreeOwnedBy(pid)
		return nil, err
	}

	p.Regs = t.initialRegs(p)
	t.procs[pid] = p
	t.nextPID++

	t.log.Info("created process",
		"pid", pid, "privilege", level, "entry", hclog.Hex(entry),
		"stack", hclog.Hex(stack), "heap", hclog.Hex(heapAddr),
	)
	return p, nil
}

// Current returns the process that was last dispatched or nil before the
// kernel process has been created.
func (t *Table) Current() *Process {
	return t.current
}

// Get returns the process with the given PID, terminated or not.
func (t *Table) Get(pid kernel.PID) (*Process, *kernel.Error) {
	if pid >= t.nextPID {
		return nil, ErrNoSuchProcess
	}

	return t.procs[pid], nil
}

// Alive returns true if pid identifies a process that has not been
// terminated.
func (t *Table) Alive(pid kernel.PID) bool {
	p, err := t.Get(pid)
	return err == nil && p.Alive()
}

// Count returns the number of PIDs handed out so far.
func (t *Table) Count() int {
	return int(t.nextPID)
}

// Visit invokes fn for every process in PID order. Visiting stops if fn
// returns false.
func (t *Table) Visit(fn func(*Process) bool) {
	for pid := kernel.PID(0); pid < t.nextPID; pid++ {
		if !fn(t.procs[pid]) {
			return
		}
	}
}

// Schedule switches to the next Ready process, scanning the table in round
// robin order starting right after the last dispatched slot. It returns the
// dispatched process or nil if no process is Ready.
//
// If frame is not nil it must point to the register snapshot of the
// interrupted process; it is saved into the outgoing process and replaced
// with the saved registers of the incoming one.
func (t *Table) Schedule(frame *gate.Registers) *Process {
	n := int(t.nextPID)
	for i := 1; i <= n; i++ {
		idx := (t.lastIndex + i) % n
		next := t.procs[idx]
		if next == nil || next.State != Ready {
			continue
		}

		prev := t.current
		if prev != nil {
			if prev.State == Running {
				prev.State = Ready
			}

			if frame != nil {
				prev.Regs = *frame
			}
		}

		if frame != nil {
			*frame = next.Regs
		}

		next.State = Running
		t.current = next
		t.lastIndex = idx

		if prev != nil {
			t.log.Debug("switching process", "from", prev.PID, "to", next.PID)
		} else {
			t.log.Debug("switching process", "to", next.PID)
		}

		for _, hook := range t.onSwitch {
			hook(prev, next)
		}

		return next
	}

	return nil
}

// Terminate marks pid as Terminated and releases every region it owns. The
// process slot is not reused.
func (t *Table) Terminate(pid kernel.PID) *kernel.Error {
	if pid == kernel.KernelPID {
		return ErrKernelProcess
	}

	p, err := t.Get(pid)
	if err != nil || !p.Alive() {
		return ErrNoSuchProcess
	}

	p.State = Terminated
	freed := t.memRegions.FreeOwnedBy(pid)
	if t.mpuRegions != nil {
		freed += t.mpuRegions.FreeOwnedBy(pid)
	}

	t.log.Info("terminated process", "pid", pid, "regions_freed", freed)

	for _, hook := range t.onTerminate {
		hook(pid)
	}

	return nil
}

// Block moves a Ready or Running process to the Blocked state.
func (t *Table) Block(pid kernel.PID) *kernel.Error {
	if pid == kernel.KernelPID {
		return ErrKernelProcess
	}

	p, err := t.Get(pid)
	if err != nil {
		return err
	}

	if p.State != Ready && p.State != Running {
		return ErrInvalidTransition
	}

	p.State = Blocked
	t.log.Debug("blocked process", "pid", pid)
	return nil
}

// Unblock moves a Blocked process back to the Ready state.
func (t *Table) Unblock(pid kernel.PID) *kernel.Error {
	p, err := t.Get(pid)
	if err != nil {
		return err
	}

	if p.State != Blocked {
		return ErrInvalidTransition
	}

	p.State = Ready
	t.log.Debug("unblocked process", "pid", pid)
	return nil
}

// Tick advances the kernel uptime by one timer tick.
func (t *Table) Tick() {
	t.ticks++
}

// Uptime returns the number of timer ticks since boot.
func (t *Table) Uptime() uint64 {
	return t.ticks
}

// Dump writes the process list to w.
func (t *Table) Dump(w io.Writer) {
	fmt.Fprintf(w, "PID  STATE       PRIV    STACK      HEAP       CS/SS\n")
	t.Visit(func(p *Process) bool {
		marker := ' '
		if p == t.current {
			marker = '*'
		}
		fmt.Fprintf(w, "%c%-3d %-11s %-7s 0x%-8x 0x%-8x 0x%02x/0x%02x\n",
			marker, p.PID, p.State, p.Privilege, p.Stack, p.Heap,
			uint16(p.CodeSelector), uint16(p.DataSelector),
		)
		return true
	})
}
