package kmain

import (
	"io"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/config"
	"github.com/gnl2024/os-tutorial/kernel/cpu"
	"github.com/gnl2024/os-tutorial/kernel/fault"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/ipc"
	"github.com/gnl2024/os-tutorial/kernel/irq"
	"github.com/gnl2024/os-tutorial/kernel/mm"
	"github.com/gnl2024/os-tutorial/kernel/mm/heap"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/gnl2024/os-tutorial/kernel/proc"
	"github.com/gnl2024/os-tutorial/kernel/segment"
	"github.com/gnl2024/os-tutorial/kernel/syscall"
	"github.com/hashicorp/go-hclog"
)

// flatLimit is the limit of the flat code and data segments.
const flatLimit = uintptr(0xffffffff)

// KeyboardSource returns the next decoded keystroke, if one is pending.
type KeyboardSource func() (byte, bool)

// Hooks connect the kernel core to the machine it runs on. Zero fields are
// replaced by their bare-metal defaults.
type Hooks struct {
	// PortWrite issues interrupt controller commands.
	PortWrite irq.PortWriter

	// Keyboard is polled when the keyboard IRQ fires.
	Keyboard KeyboardSource

	// Memory gives system calls access to user buffers.
	Memory kernel.Memory

	// FaultAddr returns the address of the last page fault. The default
	// reads CR2.
	FaultAddr func() uintptr

	// Halt stops the machine when the shell receives END.
	Halt func()
}

func (h *Hooks) setDefaults() {
	if h.PortWrite == nil {
		h.PortWrite = cpu.PortWriteByte
	}
	if h.Keyboard == nil {
		h.Keyboard = ps2Keyboard
	}
	if h.Memory == nil {
		h.Memory = kernel.PhysMemory{}
	}
	if h.Halt == nil {
		h.Halt = cpu.Halt
	}
}

// Kernel owns every kernel table. Subsystems refer to each other's entries
// by PID, region ID or queue ID only.
type Kernel struct {
	Config config.Config

	Privilege *privilege.Manager
	Segments  *segment.Table
	Memory    *region.Table
	MPU       *region.Table
	Heap      *heap.Allocator
	Procs     *proc.Table
	Bus       *ipc.Bus
	Router    *irq.Router
	Faults    *fault.Policy
	Syscalls  *syscall.Table

	hooks Hooks
	input inputBuffer
	shell *shell
	out   io.Writer
	log   hclog.Logger
}

// New boots the kernel core: it validates cfg, builds every table,
// registers the kernel memory blocks, creates the kernel process and binds
// the trap handlers. Console output and diagnostics are written to out.
func New(cfg config.Config, out io.Writer, hooks Hooks) (*Kernel, *kernel.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hooks.setDefaults()

	k := &Kernel{
		Config: cfg,
		hooks:  hooks,
		out:    out,
		log: hclog.New(&hclog.LoggerOptions{
			Name:        "kernel",
			Level:       cfg.Level(),
			Output:      out,
			DisableTime: true,
		}),
	}

	var err *kernel.Error
	if err = k.initMemory(); err != nil {
		return nil, err
	} else if err = k.initProcesses(); err != nil {
		return nil, err
	} else if err = k.initTraps(); err != nil {
		return nil, err
	}

	k.shell = newShell(k)
	k.log.Info("kernel core initialized",
		"processes", k.Procs.Count(), "regions", k.Memory.Len(),
		"halt_on_violation", cfg.HaltOnViolation,
	)

	if cfg.Demo {
		if err = k.startDemo(); err != nil {
			return nil, err
		}
	}

	return k, nil
}

func (k *Kernel) initMemory() *kernel.Error {
	var err *kernel.Error

	k.Privilege = privilege.NewManager(k.log.Named("priv"))
	k.Segments = segment.NewTable(k.log.Named("seg"))
	if err = k.Segments.InstallFlat(flatLimit); err != nil {
		return err
	}

	k.Memory = region.NewTable("memory", region.MemoryTableCapacity, k.log.Named("mem"))
	k.MPU = region.NewTable("mpu", region.MPUTableCapacity, k.log.Named("mpu"))

	for _, b := range []struct {
		block config.Block
		perm  region.Perm
		kind  region.Kind
	}{
		{k.Config.KernelCode, region.PermRWX, region.KindCode},
		{k.Config.KernelStack, region.PermRW, region.KindStack},
		{k.Config.KernelHeap, region.PermRW, region.KindHeap},
	} {
		if _, err = k.Memory.Allocate(b.block.Start, b.block.Size, b.perm, kernel.KernelPID, b.kind); err != nil {
			return err
		}
	}

	k.Heap, err = heap.New(k.Config.AllocStart, k.Config.AllocLimit, k.log.Named("heap"))
	return err
}

func (k *Kernel) initProcesses() *kernel.Error {
	k.Procs = proc.NewTable(
		proc.Config{StackSize: k.Config.StackSize, HeapSize: mm.PageSize},
		k.Heap, k.Memory, k.MPU, k.Segments, k.log.Named("proc"),
	)

	k.Bus = ipc.NewBus(k.Procs.Uptime, k.Procs.Alive, k.log.Named("ipc"))
	k.Procs.OnTerminate(k.Bus.CleanupProcess)
	k.Procs.OnSwitch(func(_, next *proc.Process) {
		k.Privilege.Set(next.Privilege)
	})

	_, err := k.Procs.Bootstrap(k.Config.KernelStack.Start, k.Config.KernelHeap.Start)
	return err
}

func (k *Kernel) initTraps() *kernel.Error {
	k.Router = irq.NewRouter(k.hooks.PortWrite, k.log.Named("irq"))
	k.Router.Remap()

	k.Faults = fault.NewPolicy(k.Procs, k.Memory, k.MPU, k.log.Named("fault"))
	k.Faults.HaltOnViolation = k.Config.HaltOnViolation
	k.Faults.SetOutput(k.out)
	if k.hooks.FaultAddr != nil {
		k.Faults.SetFaultAddrSource(k.hooks.FaultAddr)
	}

	k.Syscalls = syscall.NewTable(k.Privilege, k.Procs, k.log.Named("syscall"))
	services := &syscall.Services{
		Procs:   k.Procs,
		Regions: k.Memory,
		Heap:    k.Heap,
		Bus:     k.Bus,
		Memory:  k.hooks.Memory,
		Console: k.out,
		Input:   &k.input,
	}

	var err *kernel.Error
	if err = k.Faults.Install(k.Router); err != nil {
		return err
	} else if err = services.Install(k.Syscalls); err != nil {
		return err
	} else if err = k.Router.Register(irq.SyscallVector, k.Syscalls.Dispatch); err != nil {
		return err
	} else if err = k.Router.Register(irq.Timer, k.onTimer); err != nil {
		return err
	}

	return k.Router.Register(irq.Keyboard, k.onKeyboard)
}

// Spawn creates a process whose stack is placed at the slot reserved for
// its PID.
func (k *Kernel) Spawn(entry uintptr, level privilege.Level) (*proc.Process, *kernel.Error) {
	stack := k.Config.ProcessStack(kernel.PID(k.Procs.Count()))
	return k.Procs.CreateProcess(entry, stack, level)
}

// Trap is the common entry point for every trap vector.
func (k *Kernel) Trap(regs *gate.Registers) {
	k.Router.Dispatch(regs)
}

// Logger returns the root kernel logger.
func (k *Kernel) Logger() hclog.Logger {
	return k.log
}

func (k *Kernel) onTimer(regs *gate.Registers) {
	k.Procs.Tick()
	k.Procs.Schedule(regs)
}

func (k *Kernel) onKeyboard(_ *gate.Registers) {
	for {
		key, ok := k.hooks.Keyboard()
		if !ok {
			return
		}

		k.input.WriteByte(key)
		k.shell.handleKey(key)
	}
}
