// Package kmain contains the kernel entry point and the composition root
// that wires the kernel tables together.
package kmain

import (
	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/config"
	"github.com/gnl2024/os-tutorial/kernel/cpu"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/kfmt"
	"github.com/gnl2024/os-tutorial/multiboot"
	"github.com/hashicorp/go-hclog"
)

const com1 = uint16(0x3f8)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// activeKernel receives the traps raised after Kmain has booted the
	// kernel core.
	activeKernel *Kernel
)

// serialConsole writes console output to the first serial port.
type serialConsole struct{}

func (serialConsole) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			cpu.PortWriteByte(com1, '\r')
		}
		cpu.PortWriteByte(com1, b)
	}
	return len(p), nil
}

// ApplyCmdLine overrides cfg with the settings passed on the kernel command
// line. Unknown keys are ignored; invalid values are logged and skipped.
func ApplyCmdLine(cfg *config.Config, cmdLine map[string]string, log hclog.Logger) {
	for _, key := range config.Keys() {
		value, ok := cmdLine[key]
		if !ok {
			continue
		}

		if err := cfg.Set(key, value); err != nil {
			log.Warn("ignoring boot option", "key", key, "value", value, "error", err)
			continue
		}

		log.Debug("boot option applied", "key", key, "value", value)
	}
}

// Trap forwards a trap raised by the interrupt entry stubs to the running
// kernel.
func Trap(regs *gate.Registers) {
	if activeKernel == nil {
		return
	}
	activeKernel.Trap(regs)
}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code passes the address of the multiboot
// info payload provided by the bootloader as well as the physical addresses
// for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)
	kfmt.SetOutputSink(serialConsole{})

	bootLog := hclog.New(&hclog.LoggerOptions{Name: "boot", Output: kfmt.Writer(), DisableTime: true})
	bootLog.Info("starting kernel",
		"loader", multiboot.BootLoaderName(),
		"image_start", hclog.Hex(kernelStart), "image_end", hclog.Hex(kernelEnd),
		"available_memory", multiboot.AvailableMemory(),
	)

	cfg := config.Default()
	ApplyCmdLine(&cfg, multiboot.GetBootCmdLine(), bootLog)

	// Traps stay masked until the controllers are remapped and every
	// handler is bound.
	cpu.DisableInterrupts()
	k, err := New(cfg, kfmt.Writer(), Hooks{})
	if err != nil {
		kfmt.Panic(err)
		return
	}

	activeKernel = k
	cpu.EnableInterrupts()
	kfmt.Printf("System ready!\n%s", prompt)

	for k.Procs.Current() != nil {
		cpu.Idle()
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
