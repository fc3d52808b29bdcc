// Package gate describes the state captured by the interrupt gate entry
// points: the register snapshot pushed for every trap and the names of the
// CPU-defined vectors.
package gate

import (
	"fmt"
	"io"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. Handlers may modify it; the modified values
// are restored when the trap returns.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the trap vector that was raised.
	Vector uint64

	// Info contains the error code pushed by the CPU for exceptions that
	// provide one and 0 otherwise.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RAX = %016x RBX = %016x\n", r.RAX, r.RBX)
	fmt.Fprintf(w, "RCX = %016x RDX = %016x\n", r.RCX, r.RDX)
	fmt.Fprintf(w, "RSI = %016x RDI = %016x\n", r.RSI, r.RDI)
	fmt.Fprintf(w, "RBP = %016x\n", r.RBP)
	fmt.Fprintf(w, "R8  = %016x R9  = %016x\n", r.R8, r.R9)
	fmt.Fprintf(w, "R10 = %016x R11 = %016x\n", r.R10, r.R11)
	fmt.Fprintf(w, "R12 = %016x R13 = %016x\n", r.R12, r.R13)
	fmt.Fprintf(w, "R14 = %016x R15 = %016x\n", r.R14, r.R15)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "RIP = %016x CS  = %016x\n", r.RIP, r.CS)
	fmt.Fprintf(w, "RSP = %016x SS  = %016x\n", r.RSP, r.SS)
	fmt.Fprintf(w, "RFL = %016x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug is raised by the debug facilities of the CPU.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = InterruptNumber(3)

	// Overflow occurs when the INTO instruction is executed while the
	// overflow flag is set.
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to load a segment
	// whose present bit is cleared.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when the stack segment limit checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs. The
	// error code holds the offending segment selector, if any.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when an access to a memory address is
	// refused. The faulting address is latched into CR2.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while
	// an unmasked FP exception is pending.
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1.
	SIMDFloatingPointException = InterruptNumber(19)

	// ExceptionCount is the number of vectors reserved for CPU exceptions.
	ExceptionCount = 32
)

var exceptionNames = [ExceptionCount]string{
	"Division By Zero",
	"Debug",
	"Non Maskable Interrupt",
	"Breakpoint",
	"Into Detected Overflow",
	"Out of Bounds",
	"Invalid Opcode",
	"No Coprocessor",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Bad TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection Fault",
	"Page Fault",
	"Unknown Interrupt",
	"Coprocessor Fault",
	"Alignment Check",
	"Machine Check",
}

// IsException returns true if n is one of the vectors reserved for CPU
// exceptions.
func (n InterruptNumber) IsException() bool {
	return n < ExceptionCount
}

// String returns the exception name for CPU exception vectors and a generic
// "vector N" label for everything else.
func (n InterruptNumber) String() string {
	if !n.IsException() {
		return fmt.Sprintf("vector %d", uint8(n))
	}

	if name := exceptionNames[n]; name != "" {
		return name
	}

	return "Reserved"
}
