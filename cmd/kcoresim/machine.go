package main

import (
	"io"
	"sync"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/config"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/irq"
	"github.com/gnl2024/os-tutorial/kernel/kmain"
)

// machine runs the kernel core on the host. All traps are raised from a
// single goroutine against one CPU frame.
type machine struct {
	k     *kmain.Kernel
	mem   *kernel.ImageMemory
	frame gate.Registers
	keys  []byte

	portWrites int
	faultAddr  uintptr

	halted   chan struct{}
	haltOnce sync.Once
}

// imageSize returns the size of the memory image needed to back every block
// of cfg.
func imageSize(cfg config.Config) uintptr {
	var end uintptr
	for _, b := range cfg.Blocks() {
		if b.End() > end {
			end = b.End()
		}
	}
	return end
}

func newMachine(cfg config.Config, out io.Writer) (*machine, *kernel.Error) {
	m := &machine{
		mem:    kernel.NewImageMemory(0, imageSize(cfg)),
		halted: make(chan struct{}),
	}

	k, err := kmain.New(cfg, out, kmain.Hooks{
		PortWrite: func(uint16, uint8) { m.portWrites++ },
		Keyboard:  m.nextKey,
		Memory:    m.mem,
		FaultAddr: func() uintptr { return m.faultAddr },
		Halt:      m.halt,
	})
	if err != nil {
		return nil, err
	}

	m.k = k
	m.frame = k.Procs.Current().Regs
	return m, nil
}

func (m *machine) halt() {
	m.haltOnce.Do(func() { close(m.halted) })
}

func (m *machine) nextKey() (byte, bool) {
	if len(m.keys) == 0 {
		return 0, false
	}

	key := m.keys[0]
	m.keys = m.keys[1:]
	return key, true
}

func (m *machine) trap(vector gate.InterruptNumber) {
	m.frame.Vector = uint64(vector)
	m.k.Trap(&m.frame)
}

// tick raises a timer interrupt.
func (m *machine) tick() {
	m.trap(irq.Timer)
}

// press queues a keystroke and raises a keyboard interrupt.
func (m *machine) press(r rune) {
	key, ok := translateKey(r)
	if !ok {
		return
	}

	m.keys = append(m.keys, key)
	m.trap(irq.Keyboard)
}

// translateKey maps terminal input to the keys a PS/2 keyboard produces
// after scancode decoding.
func translateKey(r rune) (byte, bool) {
	switch {
	case r == '\r' || r == '\n':
		return '\n', true
	case r == 0x7f || r == 0x08:
		return 0x08, true
	case r >= 'a' && r <= 'z':
		return byte(r - 'a' + 'A'), true
	case r >= ' ' && r < 0x7f:
		return byte(r), true
	default:
		return 0, false
	}
}
