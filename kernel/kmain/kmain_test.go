package kmain

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gnl2024/os-tutorial/kernel/config"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/irq"
	"github.com/hashicorp/go-hclog"
)

func TestApplyCmdLine(t *testing.T) {
	var buf bytes.Buffer
	log := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug, DisableTime: true})

	cfg := config.Default()
	ApplyCmdLine(&cfg, map[string]string{
		"fault.halt_on_violation": "false",
		"proc.stack_size":         "0x2000",
		"log.level":               "debug",
		"mem.heap_size":           "lots",
		"consoleFont":             "terminus",
	}, log)

	if cfg.HaltOnViolation {
		t.Error("expected fault.halt_on_violation to be applied")
	}

	if cfg.StackSize != 0x2000 {
		t.Errorf("expected stack size 0x2000; got 0x%x", cfg.StackSize)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug; got %q", cfg.LogLevel)
	}

	if exp := config.Default().KernelHeap.Size; cfg.KernelHeap.Size != exp {
		t.Errorf("expected the invalid heap size to be ignored; got 0x%x", cfg.KernelHeap.Size)
	}

	for _, exp := range []string{
		"ignoring boot option: key=mem.heap_size value=lots",
		"boot option applied: key=proc.stack_size value=0x2000",
	} {
		if got := buf.String(); !strings.Contains(got, exp) {
			t.Errorf("expected log output to contain %q; got:\n%q", exp, got)
		}
	}

	if strings.Contains(buf.String(), "consoleFont") {
		t.Error("expected unknown boot options to be skipped silently")
	}
}

func TestPackageTrap(t *testing.T) {
	defer func(orig *Kernel) {
		activeKernel = orig
	}(activeKernel)

	// no kernel booted yet
	activeKernel = nil
	Trap(&gate.Registers{Vector: uint64(irq.Timer)})

	m := newTestMachine(t, config.Default())
	activeKernel = m.k

	Trap(&gate.Registers{Vector: uint64(irq.Timer)})
	if got := m.k.Procs.Uptime(); got != 1 {
		t.Fatalf("expected the trap to reach the active kernel; uptime is %d", got)
	}
}
