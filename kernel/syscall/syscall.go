// Package syscall implements the system call dispatch table. User code
// raises the syscall vector with the call number in RAX and up to five
// arguments in RBX, RCX, RDX, RSI and RDI; the result is returned in RAX.
package syscall

import (
	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/gnl2024/os-tutorial/kernel/proc"
	"github.com/hashicorp/go-hclog"
)

// TableSize is the number of slots in the dispatch table.
const TableSize = 30

// InvalidSyscall is returned in RAX for unknown calls and failed requests.
const InvalidSyscall = ^uint64(0)

// Number identifies a system call.
type Number uint64

// The supported system calls.
const (
	Exit              Number = 1
	Write             Number = 2
	Read              Number = 3
	Alloc             Number = 4
	Free              Number = 5
	IPCSend           Number = 10
	IPCReceive        Number = 11
	IPCCreateQueue    Number = 12
	IPCDeleteQueue    Number = 13
	IPCSendPriority   Number = 14
	IPCReceiveTimeout Number = 15
	IPCBroadcast      Number = 16
	IPCGetStats       Number = 17
	IPCSetPriority    Number = 18
)

var numberNames = map[Number]string{
	Exit:              "exit",
	Write:             "write",
	Read:              "read",
	Alloc:             "alloc",
	Free:              "free",
	IPCSend:           "ipc_send",
	IPCReceive:        "ipc_receive",
	IPCCreateQueue:    "ipc_create_queue",
	IPCDeleteQueue:    "ipc_delete_queue",
	IPCSendPriority:   "ipc_send_priority",
	IPCReceiveTimeout: "ipc_receive_timeout",
	IPCBroadcast:      "ipc_broadcast",
	IPCGetStats:       "ipc_get_stats",
	IPCSetPriority:    "ipc_set_priority",
}

// String implements fmt.Stringer for Number.
func (n Number) String() string {
	if name, ok := numberNames[n]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrInvalidNumber is returned when registering a handler outside the
	// table.
	ErrInvalidNumber = &kernel.Error{Module: "syscall", Message: "invalid system call number"}

	// ErrAlreadyRegistered is returned when a slot already has a handler.
	ErrAlreadyRegistered = &kernel.Error{Module: "syscall", Message: "system call already registered"}
)

// Context describes an in-flight system call.
type Context struct {
	Regs   *gate.Registers
	Caller kernel.PID
	Log    hclog.Logger

	yield bool
}

// Arg returns the i-th call argument.
func (c *Context) Arg(i int) uint64 {
	switch i {
	case 0:
		return c.Regs.RBX
	case 1:
		return c.Regs.RCX
	case 2:
		return c.Regs.RDX
	case 3:
		return c.Regs.RSI
	case 4:
		return c.Regs.RDI
	default:
		return 0
	}
}

// Yield asks the dispatcher to invoke the scheduler once the result has
// been stored.
func (c *Context) Yield() {
	c.yield = true
}

// Handler services a system call and returns the value placed in RAX.
type Handler func(*Context) uint64

// Scheduler is implemented by the process table.
type Scheduler interface {
	Current() *proc.Process
	Schedule(frame *gate.Registers) *proc.Process
}

// Table maps call numbers to handlers.
type Table struct {
	handlers [TableSize]Handler

	// levels holds the least privileged level allowed to issue each call.
	levels [TableSize]privilege.Level

	priv  *privilege.Manager
	sched Scheduler
	log   hclog.Logger
}

// NewTable creates an empty dispatch table.
func NewTable(priv *privilege.Manager, sched Scheduler, log hclog.Logger) *Table {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Table{priv: priv, sched: sched, log: log}
}

// Register binds h to the call number nr. Any process may issue the call.
func (t *Table) Register(nr Number, h Handler) *kernel.Error {
	return t.RegisterLevel(nr, privilege.User, h)
}

// RegisterLevel binds h to the call number nr. Callers running at a less
// privileged level than required are refused.
func (t *Table) RegisterLevel(nr Number, required privilege.Level, h Handler) *kernel.Error {
	if nr >= TableSize {
		return ErrInvalidNumber
	}

	if t.handlers[nr] != nil {
		return ErrAlreadyRegistered
	}

	t.handlers[nr] = h
	t.levels[nr] = required
	return nil
}

// Dispatch services the system call described by regs. It is bound to the
// syscall vector.
func (t *Table) Dispatch(regs *gate.Registers) {
	nr := Number(regs.RAX)

	caller := kernel.KernelPID
	if cur := t.sched.Current(); cur != nil {
		caller = cur.PID
	}

	if nr >= TableSize || t.handlers[nr] == nil {
		t.log.Warn("invalid system call", "nr", uint64(nr), "pid", caller)
		regs.RAX = InvalidSyscall
		return
	}

	if !t.priv.Check(t.levels[nr]) {
		t.log.Warn("privileged system call refused", "name", nr, "pid", caller, "level", t.priv.Current())
		regs.RAX = InvalidSyscall
		return
	}

	t.log.Trace("system call", "nr", uint64(nr), "name", nr, "pid", caller)

	ctx := &Context{Regs: regs, Caller: caller, Log: t.log.With("pid", caller)}

	prev := t.priv.EnterKernel()
	regs.RAX = t.handlers[nr](ctx)
	t.priv.Restore(prev)

	if ctx.yield {
		t.sched.Schedule(regs)
	}
}
