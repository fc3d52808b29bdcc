package irq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/hashicorp/go-hclog"
)

type portWrite struct {
	port uint16
	val  uint8
}

type portRecorder struct {
	writes []portWrite
}

func (r *portRecorder) write(port uint16, val uint8) {
	r.writes = append(r.writes, portWrite{port, val})
}

func TestRemap(t *testing.T) {
	var rec portRecorder
	NewRouter(rec.write, nil).Remap()

	exp := []portWrite{
		{0x20, 0x11}, {0xa0, 0x11},
		{0x21, 0x20}, {0xa1, 0x28},
		{0x21, 0x04}, {0xa1, 0x02},
		{0x21, 0x01}, {0xa1, 0x01},
		{0x21, 0x00}, {0xa1, 0x00},
	}

	if len(rec.writes) != len(exp) {
		t.Fatalf("expected %d port writes; got %d", len(exp), len(rec.writes))
	}

	for i, w := range exp {
		if rec.writes[i] != w {
			t.Errorf("[write %d] expected %+v; got %+v", i, w, rec.writes[i])
		}
	}
}

func TestDispatchEOI(t *testing.T) {
	specs := []struct {
		vector gate.InterruptNumber
		exp    []portWrite
	}{
		{gate.PageFaultException, nil},
		{Timer, []portWrite{{0x20, 0x20}}},
		{Keyboard, []portWrite{{0x20, 0x20}}},
		{gate.InterruptNumber(39), []portWrite{{0x20, 0x20}}},
		{gate.InterruptNumber(40), []portWrite{{0xa0, 0x20}, {0x20, 0x20}}},
		{gate.InterruptNumber(47), []portWrite{{0xa0, 0x20}, {0x20, 0x20}}},
		{gate.InterruptNumber(48), nil},
		{SyscallVector, nil},
	}

	for specIndex, spec := range specs {
		var rec portRecorder
		r := NewRouter(rec.write, nil)
		r.Dispatch(&gate.Registers{Vector: uint64(spec.vector)})

		if len(rec.writes) != len(spec.exp) {
			t.Errorf("[spec %d] expected %d EOI writes; got %d", specIndex, len(spec.exp), len(rec.writes))
			continue
		}

		for i, w := range spec.exp {
			if rec.writes[i] != w {
				t.Errorf("[spec %d] write %d: expected %+v; got %+v", specIndex, i, w, rec.writes[i])
			}
		}
	}
}

func TestDispatchHandler(t *testing.T) {
	var (
		rec   portRecorder
		order []string
	)

	r := NewRouter(func(port uint16, val uint8) {
		order = append(order, "eoi")
		rec.write(port, val)
	}, nil)

	if err := r.Register(Timer, func(regs *gate.Registers) {
		order = append(order, "handler")
		regs.RAX = 42
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.Register(Timer, func(*gate.Registers) {}); err != ErrHandlerExists {
		t.Fatalf("expected ErrHandlerExists; got %v", err)
	}

	regs := &gate.Registers{Vector: uint64(Timer)}
	r.Dispatch(regs)

	if regs.RAX != 42 {
		t.Fatalf("expected handler to update RAX; got %d", regs.RAX)
	}

	if exp, got := "eoi,handler", strings.Join(order, ","); got != exp {
		t.Fatalf("expected call order %q; got %q", exp, got)
	}

	if !r.Handled(Timer) || r.Count(Timer) != 1 {
		t.Fatalf("expected timer vector to be handled once; got handled=%t count=%d", r.Handled(Timer), r.Count(Timer))
	}

	r.Unregister(Timer)
	r.Dispatch(regs)
	if r.Handled(Timer) || r.Count(Timer) != 2 {
		t.Fatalf("expected timer vector to be unhandled after 2 dispatches; got handled=%t count=%d", r.Handled(Timer), r.Count(Timer))
	}
}

func TestDispatchUnhandledIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log := hclog.New(&hclog.LoggerOptions{Name: "irq", Level: hclog.Trace, Output: &buf, DisableTime: true})

	r := NewRouter(func(uint16, uint8) {}, log)
	r.Dispatch(&gate.Registers{Vector: uint64(gate.InvalidOpcode)})

	for _, exp := range []string{"unhandled trap", "vector=6", `name="Invalid Opcode"`} {
		if got := buf.String(); !strings.Contains(got, exp) {
			t.Errorf("expected log output to contain %q; got:\n%q", exp, got)
		}
	}
}

func TestIsIRQ(t *testing.T) {
	specs := []struct {
		vector gate.InterruptNumber
		exp    bool
	}{
		{31, false},
		{32, true},
		{47, true},
		{48, false},
		{SyscallVector, false},
	}

	for specIndex, spec := range specs {
		if got := IsIRQ(spec.vector); got != spec.exp {
			t.Errorf("[spec %d] expected IsIRQ(%d) to be %t", specIndex, spec.vector, spec.exp)
		}
	}
}
