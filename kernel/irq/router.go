// Package irq routes trap vectors to their handlers. Vectors 0-31 carry CPU
// exceptions and vectors 32-47 carry the hardware IRQs once the interrupt
// controllers have been remapped. Any vector, including the syscall vector,
// can be bound to a handler.
package irq

import (
	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/hashicorp/go-hclog"
)

const (
	// IRQBase is the vector of hardware IRQ 0 after remapping.
	IRQBase = uint8(0x20)

	// SlaveBase is the vector of hardware IRQ 8, the first IRQ served by
	// the slave controller.
	SlaveBase = uint8(0x28)

	// IRQCount is the number of hardware IRQ lines.
	IRQCount = 16

	// Timer is the vector of the PIT timer IRQ.
	Timer = gate.InterruptNumber(IRQBase)

	// Keyboard is the vector of the PS/2 keyboard IRQ.
	Keyboard = gate.InterruptNumber(IRQBase + 1)

	// SyscallVector is the software interrupt used for system calls.
	SyscallVector = gate.InterruptNumber(0x80)
)

var (
	// ErrHandlerExists is returned when binding a vector that already has
	// a handler.
	ErrHandlerExists = &kernel.Error{Module: "irq", Message: "vector already has a handler"}
)

// Handler processes a trap. It may modify the register snapshot.
type Handler func(*gate.Registers)

// IsIRQ returns true if vector carries a hardware IRQ.
func IsIRQ(vector gate.InterruptNumber) bool {
	return uint8(vector) >= IRQBase && uint8(vector) < IRQBase+IRQCount
}

// Router dispatches traps to the handlers registered for their vectors.
type Router struct {
	handlers [256]Handler
	counts   [256]uint64

	portWriteFn PortWriter
	log         hclog.Logger
}

// NewRouter creates a router with no handlers. Interrupt controller
// commands are issued through portWrite.
func NewRouter(portWrite PortWriter, log hclog.Logger) *Router {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Router{portWriteFn: portWrite, log: log}
}

// Remap reprograms the interrupt controllers so hardware IRQs do not
// collide with the CPU exception vectors.
func (r *Router) Remap() {
	remapPIC(r.portWriteFn)
	r.log.Debug("interrupt controllers remapped", "master", hclog.Hex(int(IRQBase)), "slave", hclog.Hex(int(SlaveBase)))
}

// Register binds h to vector.
func (r *Router) Register(vector gate.InterruptNumber, h Handler) *kernel.Error {
	if r.handlers[vector] != nil {
		return ErrHandlerExists
	}

	r.handlers[vector] = h
	r.log.Trace("handler registered", "vector", uint8(vector), "name", vector)
	return nil
}

// Unregister removes the handler bound to vector, if any.
func (r *Router) Unregister(vector gate.InterruptNumber) {
	r.handlers[vector] = nil
}

// Handled returns true if a handler is bound to vector.
func (r *Router) Handled(vector gate.InterruptNumber) bool {
	return r.handlers[vector] != nil
}

// Count returns the number of times vector has been dispatched.
func (r *Router) Count(vector gate.InterruptNumber) uint64 {
	return r.counts[vector]
}

// Dispatch is the common trap entry. Hardware IRQs are acknowledged before
// the handler runs; traps without a handler are ignored.
func (r *Router) Dispatch(regs *gate.Registers) {
	vector := gate.InterruptNumber(regs.Vector)
	r.counts[vector]++

	if IsIRQ(vector) {
		ackPIC(r.portWriteFn, uint8(vector))
	}

	if h := r.handlers[vector]; h != nil {
		h(regs)
		return
	}

	r.log.Trace("unhandled trap", "vector", uint8(vector), "name", vector)
}
