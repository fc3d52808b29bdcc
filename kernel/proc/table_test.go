package proc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/gate"
	"github.com/gnl2024/os-tutorial/kernel/mm/heap"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/gnl2024/os-tutorial/kernel/segment"
	"github.com/hashicorp/go-hclog"
)

const userStackBase = uintptr(0x100000)

type testEnv struct {
	procs *Table
	mem   *region.Table
	mpu   *region.Table
	log   bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:        "proc",
		Level:       hclog.Trace,
		Output:      &env.log,
		DisableTime: true,
	})

	seg := segment.NewTable(nil)
	if err := seg.InstallFlat(0x400000); err != nil {
		t.Fatal(err)
	}

	alloc, err := heap.New(0x30000, userStackBase, nil)
	if err != nil {
		t.Fatal(err)
	}

	env.mem = region.NewTable("memory", region.MemoryTableCapacity, nil)
	env.mpu = region.NewTable("mpu", region.MPUTableCapacity, nil)
	env.procs = NewTable(DefaultConfig(), alloc, env.mem, env.mpu, seg, logger)

	if _, err := env.procs.Bootstrap(0x10000, 0x20000); err != nil {
		t.Fatal(err)
	}

	return env
}

func (env *testEnv) spawn(t *testing.T, n int) []*Process {
	var out []*Process
	for i := 0; i < n; i++ {
		stack := userStackBase + uintptr(env.procs.Count()-1)*0x1000
		p, err := env.procs.CreateProcess(0x400000+uintptr(i)*0x100, stack, privilege.User)
		if err != nil {
			t.Fatalf("unexpected error creating process %d: %v", i, err)
		}
		out = append(out, p)
	}
	return out
}

func TestBootstrap(t *testing.T) {
	env := newTestEnv(t)

	cur := env.procs.Current()
	if cur == nil || cur.PID != kernel.KernelPID || cur.State != Running {
		t.Fatalf("expected the kernel process to be running; got %+v", cur)
	}

	if cur.CodeSelector != segment.KernelCode || cur.DataSelector != segment.KernelData {
		t.Fatalf("expected kernel selectors; got 0x%x/0x%x", uint16(cur.CodeSelector), uint16(cur.DataSelector))
	}

	if _, err := env.procs.Bootstrap(0x10000, 0x20000); err != ErrAlreadyBootstrapped {
		t.Fatalf("expected ErrAlreadyBootstrapped; got %v", err)
	}
}

func TestCreateProcess(t *testing.T) {
	env := newTestEnv(t)
	procs := env.spawn(t, 2)

	for i, p := range procs {
		expPID := kernel.PID(i + 1)
		if p.PID != expPID {
			t.Errorf("expected PID %d; got %d", expPID, p.PID)
		}

		if p.State != Ready {
			t.Errorf("[pid %d] expected new process to be ready; got %s", p.PID, p.State)
		}

		if p.CodeSelector != segment.UserCode || p.DataSelector != segment.UserData {
			t.Errorf("[pid %d] expected user selectors; got 0x%x/0x%x", p.PID, uint16(p.CodeSelector), uint16(p.DataSelector))
		}

		expTop := uint64(p.Stack + 0x1000)
		if p.Regs.RIP != uint64(p.Entry) || p.Regs.RSP != expTop || p.Regs.RBP != expTop || p.Regs.RFlags != 0x202 {
			t.Errorf("[pid %d] unexpected initial registers: %+v", p.PID, p.Regs)
		}

		if p.Regs.CS != uint64(segment.UserCode) || p.Regs.SS != uint64(segment.UserData) {
			t.Errorf("[pid %d] unexpected initial segment registers: CS 0x%x SS 0x%x", p.PID, p.Regs.CS, p.Regs.SS)
		}

		if p.Heap&0xfff != 0 {
			t.Errorf("[pid %d] expected page-aligned heap; got 0x%x", p.PID, p.Heap)
		}

		for _, addr := range []uintptr{p.Stack, p.Stack + 0xfff, p.Heap, p.Heap + 0xfff} {
			if !env.mem.CheckAccess(addr, p.PID, region.PermRW) {
				t.Errorf("[pid %d] expected RW access to 0x%x", p.PID, addr)
			}
		}
	}

	if !strings.Contains(env.log.String(), "created process: pid=2") {
		t.Fatalf("expected creation to be logged; got:\n%s", env.log.String())
	}
}

func TestCreateProcessTableFull(t *testing.T) {
	env := newTestEnv(t)
	env.spawn(t, MaxProcesses-1)

	if _, err := env.procs.CreateProcess(0x400000, 0x200000, privilege.User); err != ErrProcessTableFull {
		t.Fatalf("expected ErrProcessTableFull; got %v", err)
	}

	// Terminating a process does not free its PID
	if err := env.procs.Terminate(3); err != nil {
		t.Fatal(err)
	}

	if _, err := env.procs.CreateProcess(0x400000, 0x200000, privilege.User); err != ErrProcessTableFull {
		t.Fatalf("expected ErrProcessTableFull after termination; got %v", err)
	}
}

func TestCreateProcessRollback(t *testing.T) {
	env := newTestEnv(t)
	first := env.spawn(t, 1)[0]
	regionCount := env.mem.Len()

	// Reuse the stack of the first process
	if _, err := env.procs.CreateProcess(0x400000, first.Stack, privilege.User); err != region.ErrOverlap {
		t.Fatalf("expected region.ErrOverlap; got %v", err)
	}

	// Occupy the next heap page so the heap region registration fails
	// after the stack region has been registered
	env.mem.Allocate(0x32000, 0x1000, region.PermRW, 0, region.KindData)
	if _, err := env.procs.CreateProcess(0x400000, 0x300000, privilege.User); err != region.ErrOverlap {
		t.Fatalf("expected region.ErrOverlap; got %v", err)
	}

	if exp, got := regionCount+1, env.mem.Len(); got != exp {
		t.Fatalf("expected %d active regions after failed creations; got %d", exp, got)
	}

	if _, found := env.mem.Find(0x300000); found {
		t.Fatal("expected stack region of the failed process to be released")
	}

	p, err := env.procs.CreateProcess(0x400000, 0x300000, privilege.User)
	if err != nil {
		t.Fatal(err)
	}

	if p.PID != 2 {
		t.Fatalf("expected failed creations not to consume PIDs; got PID %d", p.PID)
	}
}

func TestScheduleRoundRobin(t *testing.T) {
	env := newTestEnv(t)
	env.spawn(t, 2)

	var switches []string
	env.procs.OnSwitch(func(prev, next *Process) {
		switches = append(switches, prev.State.String()+"->"+next.State.String())
	})

	expOrder := []kernel.PID{1, 2, 0, 1, 2}
	for i, exp := range expOrder {
		p := env.procs.Schedule(nil)
		if p == nil || p.PID != exp {
			t.Fatalf("[round %d] expected PID %d to be dispatched; got %+v", i, exp, p)
		}

		running := 0
		env.procs.Visit(func(p *Process) bool {
			if p.State == Running {
				running++
			}
			return true
		})

		if running != 1 {
			t.Fatalf("[round %d] expected exactly one running process; got %d", i, running)
		}
	}

	if len(switches) != len(expOrder) || switches[0] != "ready->running" {
		t.Fatalf("unexpected switch hook invocations: %v", switches)
	}
}

func TestScheduleSkipsBlockedAndTerminated(t *testing.T) {
	env := newTestEnv(t)
	env.spawn(t, 3)

	if err := env.procs.Block(1); err != nil {
		t.Fatal(err)
	}
	if err := env.procs.Terminate(2); err != nil {
		t.Fatal(err)
	}

	if p := env.procs.Schedule(nil); p == nil || p.PID != 3 {
		t.Fatalf("expected PID 3 to be dispatched; got %+v", p)
	}

	if p := env.procs.Schedule(nil); p == nil || p.PID != 0 {
		t.Fatalf("expected PID 0 to be dispatched; got %+v", p)
	}

	env.procs.Block(3)
	// Only the running kernel process is left; scheduling is a no-op
	if p := env.procs.Schedule(nil); p != nil {
		t.Fatalf("expected no process to be dispatched; got PID %d", p.PID)
	}

	if cur := env.procs.Current(); cur.PID != 0 || cur.State != Running {
		t.Fatalf("expected kernel process to keep running; got %+v", cur)
	}

	if err := env.procs.Unblock(1); err != nil {
		t.Fatal(err)
	}

	if p := env.procs.Schedule(nil); p == nil || p.PID != 1 {
		t.Fatalf("expected unblocked PID 1 to be dispatched; got %+v", p)
	}
}

func TestScheduleSwapsRegisters(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.spawn(t, 1)[0]

	frame := &gate.Registers{RAX: 0xdead, RIP: 0x1234, RSP: 0x1fff0}
	if p := env.procs.Schedule(frame); p != p1 {
		t.Fatalf("expected PID 1 to be dispatched")
	}

	if frame.RIP != uint64(p1.Entry) || frame.CS != uint64(segment.UserCode) {
		t.Fatalf("expected frame to be loaded with the registers of PID 1; got %+v", frame)
	}

	kernelProc, _ := env.procs.Get(0)
	if kernelProc.Regs.RAX != 0xdead || kernelProc.Regs.RIP != 0x1234 {
		t.Fatalf("expected interrupted registers to be saved in the kernel process; got %+v", kernelProc.Regs)
	}

	frame.RAX = 42
	env.procs.Schedule(frame)
	if frame.RAX != 0xdead || frame.RIP != 0x1234 {
		t.Fatalf("expected kernel registers to be restored; got %+v", frame)
	}

	if p1.Regs.RAX != 42 {
		t.Fatalf("expected PID 1 registers to be saved; got RAX %d", p1.Regs.RAX)
	}
}

func TestTerminate(t *testing.T) {
	env := newTestEnv(t)
	procs := env.spawn(t, 2)
	env.mpu.Allocate(procs[0].Stack, 0x1000, region.PermRW, procs[0].PID, region.KindStack)

	var terminated []kernel.PID
	env.procs.OnTerminate(func(pid kernel.PID) {
		terminated = append(terminated, pid)
	})

	if err := env.procs.Terminate(kernel.KernelPID); err != ErrKernelProcess {
		t.Fatalf("expected ErrKernelProcess; got %v", err)
	}

	if err := env.procs.Terminate(1); err != nil {
		t.Fatal(err)
	}

	if procs[0].State != Terminated || env.procs.Alive(1) {
		t.Fatal("expected PID 1 to be terminated")
	}

	for _, addr := range []uintptr{procs[0].Stack, procs[0].Heap} {
		if _, found := env.mem.Find(addr); found {
			t.Errorf("expected region at 0x%x to be released", addr)
		}
	}

	if _, found := env.mpu.Find(procs[0].Stack); found {
		t.Error("expected MPU region of PID 1 to be released")
	}

	// Regions of other processes are untouched
	for _, addr := range []uintptr{procs[1].Stack, procs[1].Heap} {
		if !env.mem.CheckAccess(addr, 2, region.PermRW) {
			t.Errorf("expected region of PID 2 at 0x%x to remain active", addr)
		}
	}

	if len(terminated) != 1 || terminated[0] != 1 {
		t.Fatalf("expected termination hook to run for PID 1; got %v", terminated)
	}

	if err := env.procs.Terminate(1); err != ErrNoSuchProcess {
		t.Fatalf("expected ErrNoSuchProcess; got %v", err)
	}

	if err := env.procs.Terminate(9); err != ErrNoSuchProcess {
		t.Fatalf("expected ErrNoSuchProcess; got %v", err)
	}
}

func TestBlockUnblock(t *testing.T) {
	env := newTestEnv(t)
	env.spawn(t, 1)

	specs := []struct {
		op     func(kernel.PID) *kernel.Error
		pid    kernel.PID
		expErr *kernel.Error
		expSt  State
	}{
		{env.procs.Unblock, 1, ErrInvalidTransition, Ready},
		{env.procs.Block, 1, nil, Blocked},
		{env.procs.Block, 1, ErrInvalidTransition, Blocked},
		{env.procs.Unblock, 1, nil, Ready},
		{env.procs.Block, 0, ErrKernelProcess, Ready},
		{env.procs.Block, 5, ErrNoSuchProcess, Ready},
	}

	for specIndex, spec := range specs {
		if err := spec.op(spec.pid); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}

		if p, _ := env.procs.Get(1); p.State != spec.expSt {
			t.Errorf("[spec %d] expected PID 1 to be %s; got %s", specIndex, spec.expSt, p.State)
		}
	}
}

func TestTickAndDump(t *testing.T) {
	env := newTestEnv(t)
	env.spawn(t, 1)

	for i := 0; i < 5; i++ {
		env.procs.Tick()
	}

	if exp, got := uint64(5), env.procs.Uptime(); got != exp {
		t.Fatalf("expected uptime %d; got %d", exp, got)
	}

	var buf bytes.Buffer
	env.procs.Dump(&buf)

	for _, exp := range []string{
		"*0   running     kernel  0x10000    0x20000    0x08/0x10",
		" 1   ready       user    0x100000   0x30000    0x1b/0x23",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected dump to contain %q; got:\n%s", exp, buf.String())
		}
	}
}
