package kmain

import (
	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/ipc"
	"github.com/gnl2024/os-tutorial/kernel/mm"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/hashicorp/go-hclog"
)

const demoProcesses = 2

// startDemo populates the tables so that the shell commands have something
// to show: two user processes with an MPU-protected code page each, a few
// allocations and some IPC traffic.
func (k *Kernel) startDemo() *kernel.Error {
	for i := 0; i < demoProcesses; i++ {
		code, err := k.Heap.Alloc(mm.PageSize, true)
		if err != nil {
			return err
		}

		p, err := k.Spawn(code, privilege.User)
		if err != nil {
			return err
		}

		if _, err = k.MPU.Allocate(code, mm.PageSize, region.PermRX, p.PID, region.KindCode); err != nil {
			return err
		}
	}

	for _, size := range []uintptr{1024, 2048, 512} {
		if _, err := k.Heap.Alloc(size, true); err != nil {
			return err
		}
	}

	if _, err := k.Bus.CreateQueue(kernel.KernelPID, 10); err != nil {
		return err
	}
	if _, err := k.Bus.CreateQueue(1, 5); err != nil {
		return err
	}
	if err := k.Bus.SetProcessPriority(1, ipc.High); err != nil {
		return err
	}

	for _, m := range []struct {
		typ  ipc.Type
		data string
	}{
		{ipc.TypeData, "Hello from kernel!"},
		{ipc.TypeControl, "Test message 2"},
	} {
		if _, err := k.Bus.Send(kernel.KernelPID, 1, m.typ, []byte(m.data), ipc.Normal); err != nil {
			return err
		}
	}
	delivered := k.Bus.Broadcast(kernel.KernelPID, ipc.TypeSignal, []byte("Broadcast test"))

	k.log.Info("demo started", "processes", demoProcesses, "broadcast_receivers", delivered, "next_alloc", hclog.Hex(k.Heap.Stats().Next))
	return nil
}
