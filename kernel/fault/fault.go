// Package fault implements the access-fault policy. Page faults are checked
// against the MPU and memory region tables; a process that touches memory
// it does not own, or accesses it in a way the region does not permit, is
// terminated.
package fault

import (
	"io"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/cpu"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/irq"
	"github.com/gnl2024/os-tutorial/kernel/kfmt"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/proc"
	"github.com/hashicorp/go-hclog"
)

// Page fault error code bits.
const (
	errCodeWrite = 1 << 1
	errCodeFetch = 1 << 4
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errKernelFault     = &kernel.Error{Module: "fault", Message: "page fault in kernel mode"}
	errAccessViolation = &kernel.Error{Module: "fault", Message: "system halted due to access violation"}
	errProtectionFault = &kernel.Error{Module: "fault", Message: "general protection fault in kernel mode"}
	errUnhandledFault  = &kernel.Error{Module: "fault", Message: "unhandled CPU exception"}
)

// AccessFromErrorCode derives the kind of access that triggered a page
// fault from the error code pushed by the CPU.
func AccessFromErrorCode(code uint64) region.Perm {
	switch {
	case code&errCodeFetch != 0:
		return region.PermExec
	case code&errCodeWrite != 0:
		return region.PermWrite
	default:
		return region.PermRead
	}
}

// Policy decides what happens when a process faults.
type Policy struct {
	procs *proc.Table
	mem   *region.Table
	mpu   *region.Table

	// HaltOnViolation stops the machine after the offending process has
	// been terminated. When false, the scheduler is invoked instead so
	// that the trap returns into the next ready process.
	HaltOnViolation bool

	faultAddrFn func() uintptr
	out         io.Writer
	log         hclog.Logger
}

// NewPolicy creates a policy that consults mpu and then mem when a process
// faults. Halting on violations is enabled by default.
func NewPolicy(procs *proc.Table, mem, mpu *region.Table, log hclog.Logger) *Policy {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Policy{
		procs:           procs,
		mem:             mem,
		mpu:             mpu,
		HaltOnViolation: true,
		faultAddrFn:     func() uintptr { return uintptr(cpu.ReadCR2()) },
		out:             kfmt.Writer(),
		log:             log,
	}
}

// SetFaultAddrSource overrides the function used to obtain the faulting
// address. Hosted environments use it in place of reading CR2.
func (p *Policy) SetFaultAddrSource(fn func() uintptr) {
	p.faultAddrFn = fn
}

// SetOutput sets the writer that receives register dumps.
func (p *Policy) SetOutput(w io.Writer) {
	p.out = w
}

// Install binds the policy to the page fault and general protection fault
// vectors. Every other CPU exception without a handler is routed to a
// catch-all handler, except for the debug and breakpoint traps.
func (p *Policy) Install(r *irq.Router) *kernel.Error {
	if err := r.Register(gate.PageFaultException, p.HandlePageFault); err != nil {
		return err
	}

	if err := r.Register(gate.GPFException, p.HandleProtectionFault); err != nil {
		return err
	}

	for vec := gate.InterruptNumber(0); vec < gate.ExceptionCount; vec++ {
		if vec == gate.Debug || vec == gate.Breakpoint || r.Handled(vec) {
			continue
		}
		_ = r.Register(vec, p.handleException)
	}

	return nil
}

// classify checks the MPU table first; the memory table is only consulted
// when no MPU region covers addr.
func (p *Policy) classify(addr uintptr, pid kernel.PID, access region.Perm) (*region.Table, region.Verdict) {
	if p.mpu != nil {
		if v := p.mpu.Classify(addr, pid, access); v.Reason != region.ReasonNoRegion {
			return p.mpu, v
		}
	}

	return p.mem, p.mem.Classify(addr, pid, access)
}

// HandlePageFault is invoked for vector 14.
func (p *Policy) HandlePageFault(regs *gate.Registers) {
	var (
		addr   = p.faultAddrFn()
		access = AccessFromErrorCode(regs.Info)
		cur    = p.procs.Current()
	)

	p.log.Warn("page fault", "addr", hclog.Hex(addr), "access", access, "code", hclog.Hex(regs.Info))

	if cur == nil {
		p.fatal(regs, errKernelFault)
		return
	}

	// Nothing is mapped in on demand: every fault with a process context
	// ends that process, even inside a permitted region.
	table, v := p.classify(addr, cur.PID, access)
	if v.Allowed() {
		p.log.Error("unresolvable fault in permitted region", "pid", cur.PID, "table", table.Name(), "region", v.ID, "addr", hclog.Hex(addr))
	}

	if cur.PID == kernel.KernelPID {
		p.log.Error("kernel access violation", "table", table.Name(), "reason", v.Reason, "addr", hclog.Hex(addr))
		p.fatal(regs, errKernelFault)
		return
	}

	if !v.Allowed() {
		p.log.Error("access violation",
			"pid", cur.PID, "table", table.Name(), "reason", v.Reason,
			"addr", hclog.Hex(addr), "access", access,
		)
	}
	p.punish(regs, cur.PID)
}

// HandleProtectionFault is invoked for vector 13. The error code holds the
// offending segment selector, if any.
func (p *Policy) HandleProtectionFault(regs *gate.Registers) {
	cur := p.procs.Current()
	p.log.Error("general protection fault", "selector", hclog.Hex(regs.Info), "rip", hclog.Hex(regs.RIP))

	if cur == nil || cur.PID == kernel.KernelPID {
		p.fatal(regs, errProtectionFault)
		return
	}

	p.punish(regs, cur.PID)
}

// handleException deals with CPU exceptions that have no dedicated handler.
func (p *Policy) handleException(regs *gate.Registers) {
	vec := gate.InterruptNumber(regs.Vector)
	cur := p.procs.Current()
	p.log.Error("received exception", "vector", uint8(vec), "name", vec, "rip", hclog.Hex(regs.RIP))

	if cur == nil || cur.PID == kernel.KernelPID {
		p.fatal(regs, errUnhandledFault)
		return
	}

	p.punish(regs, cur.PID)
}

// punish terminates pid and either halts or hands the trap frame to the
// scheduler.
func (p *Policy) punish(regs *gate.Registers, pid kernel.PID) {
	p.dumpRegs(regs)

	if err := p.procs.Terminate(pid); err != nil {
		p.log.Error("cannot terminate faulting process", "pid", pid, "error", err)
	}

	if p.HaltOnViolation {
		panicFn(errAccessViolation)
		return
	}

	if next := p.procs.Schedule(regs); next == nil {
		p.log.Warn("no process ready after violation", "pid", pid)
	}
}

func (p *Policy) fatal(regs *gate.Registers, err *kernel.Error) {
	p.dumpRegs(regs)
	panicFn(err)
}

func (p *Policy) dumpRegs(regs *gate.Registers) {
	kfmt.Fprintf(p.out, "\nRegisters:\n")
	regs.DumpTo(p.out)
}
