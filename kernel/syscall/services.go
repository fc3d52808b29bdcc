package syscall

import (
	"io"
	"math"
	"time"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/ipc"
	"github.com/gnl2024/os-tutorial/kernel/mm"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/gnl2024/os-tutorial/kernel/proc"
	"github.com/hashicorp/go-hclog"
)

// File descriptors understood by Read and Write.
const (
	Stdin  = 0
	Stdout = 1
	Stderr = 2
)

// Services implements the kernel side of the system calls.
type Services struct {
	Procs   *proc.Table
	Regions *region.Table
	Heap    proc.Allocator
	Bus     *ipc.Bus

	// Memory provides access to user buffers once their addresses have
	// been validated against Regions.
	Memory kernel.Memory

	// Console receives the output of Write calls.
	Console io.Writer

	// Input supplies the bytes returned by reads from Stdin.
	Input io.Reader
}

// Install registers every system call with t.
func (s *Services) Install(t *Table) *kernel.Error {
	for _, e := range []struct {
		nr Number
		h  Handler
	}{
		{Exit, s.exit},
		{Write, s.write},
		{Read, s.read},
		{Alloc, s.alloc},
		{Free, s.free},
		{IPCSend, s.ipcSend},
		{IPCReceive, s.ipcReceive},
		{IPCCreateQueue, s.ipcCreateQueue},
		{IPCDeleteQueue, s.ipcDeleteQueue},
		{IPCSendPriority, s.ipcSendPriority},
		{IPCReceiveTimeout, s.ipcReceiveTimeout},
		{IPCBroadcast, s.ipcBroadcast},
		{IPCGetStats, s.ipcGetStats},
	} {
		if err := t.Register(e.nr, e.h); err != nil {
			return err
		}
	}

	return t.RegisterLevel(IPCSetPriority, privilege.Kernel, s.ipcSetPriority)
}

// copyIn reads size bytes at addr from the caller's address space.
func (s *Services) copyIn(ctx *Context, addr, size uint64) ([]byte, bool) {
	if size == 0 {
		return nil, true
	}

	if !s.Regions.CheckRange(uintptr(addr), uintptr(size), ctx.Caller, region.PermRead) {
		ctx.Log.Warn("user buffer not readable", "addr", hclog.Hex(addr), "size", size)
		return nil, false
	}

	buf := make([]byte, size)
	if err := s.Memory.Read(uintptr(addr), buf); err != nil {
		ctx.Log.Warn("cannot read user buffer", "addr", hclog.Hex(addr), "error", err)
		return nil, false
	}

	return buf, true
}

// copyOut writes data at addr in the caller's address space.
func (s *Services) copyOut(ctx *Context, addr uint64, data []byte) bool {
	if !s.Regions.CheckRange(uintptr(addr), uintptr(len(data)), ctx.Caller, region.PermWrite) {
		ctx.Log.Warn("user buffer not writable", "addr", hclog.Hex(addr), "size", len(data))
		return false
	}

	if err := s.Memory.Write(uintptr(addr), data); err != nil {
		ctx.Log.Warn("cannot write user buffer", "addr", hclog.Hex(addr), "error", err)
		return false
	}

	return true
}

func (s *Services) exit(ctx *Context) uint64 {
	ctx.Log.Info("process exit", "code", ctx.Arg(0))

	if err := s.Procs.Terminate(ctx.Caller); err != nil {
		ctx.Log.Warn("exit refused", "error", err)
		return InvalidSyscall
	}

	ctx.Yield()
	return 0
}

func (s *Services) write(ctx *Context) uint64 {
	fd, addr, size := ctx.Arg(0), ctx.Arg(1), ctx.Arg(2)
	ctx.Log.Debug("write", "fd", fd, "size", size)

	data, ok := s.copyIn(ctx, addr, size)
	if !ok {
		return InvalidSyscall
	}

	if (fd == Stdout || fd == Stderr) && s.Console != nil {
		_, _ = s.Console.Write(data)
	}

	return size
}

func (s *Services) read(ctx *Context) uint64 {
	fd, addr, size := ctx.Arg(0), ctx.Arg(1), ctx.Arg(2)
	ctx.Log.Debug("read", "fd", fd, "size", size)

	if fd != Stdin || s.Input == nil || size == 0 {
		return 0
	}

	if !s.Regions.CheckRange(uintptr(addr), uintptr(size), ctx.Caller, region.PermWrite) {
		ctx.Log.Warn("user buffer not writable", "addr", hclog.Hex(addr), "size", size)
		return InvalidSyscall
	}

	buf := make([]byte, size)
	n, _ := s.Input.Read(buf)
	if n == 0 {
		return 0
	}

	if !s.copyOut(ctx, addr, buf[:n]) {
		return InvalidSyscall
	}

	return uint64(n)
}

func (s *Services) alloc(ctx *Context) uint64 {
	size, ok := mm.AlignUp(uintptr(ctx.Arg(0)), mm.PageSize)
	if !ok || size == 0 {
		ctx.Log.Warn("invalid allocation size", "size", ctx.Arg(0))
		return InvalidSyscall
	}

	addr, err := s.Heap.Alloc(size, true)
	if err != nil {
		ctx.Log.Warn("allocation failed", "size", size, "error", err)
		return InvalidSyscall
	}

	if _, err = s.Regions.Allocate(addr, size, region.PermRW, ctx.Caller, region.KindHeap); err != nil {
		ctx.Log.Warn("cannot register heap region", "addr", hclog.Hex(addr), "error", err)
		return InvalidSyscall
	}

	ctx.Log.Debug("allocated", "addr", hclog.Hex(addr), "size", size)
	return uint64(addr)
}

// free releases a heap region returned by alloc. The backing memory is not
// returned to the bump allocator.
func (s *Services) free(ctx *Context) uint64 {
	addr := uintptr(ctx.Arg(0))

	id, found := s.Regions.Find(addr)
	if !found {
		ctx.Log.Warn("free of unknown address", "addr", hclog.Hex(addr))
		return InvalidSyscall
	}

	r, _ := s.Regions.Region(id)
	if r.Start != addr || r.Owner != ctx.Caller || r.Kind != region.KindHeap {
		ctx.Log.Warn("free refused", "addr", hclog.Hex(addr), "region", r)
		return InvalidSyscall
	}

	_ = s.Regions.Free(id)
	return 0
}

// maxTimeoutMillis is the largest receive timeout that fits a time.Duration.
const maxTimeoutMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

func (s *Services) send(ctx *Context, receiver, typ, addr, size, prio uint64) uint64 {
	if receiver > math.MaxUint32 || typ > math.MaxUint8 || prio > math.MaxUint8 {
		ctx.Log.Warn("invalid message argument", "receiver", receiver, "type", typ, "priority", prio)
		return InvalidSyscall
	}

	if size > ipc.MaxPayload {
		ctx.Log.Warn("payload too large", "size", size)
		return InvalidSyscall
	}

	payload, ok := s.copyIn(ctx, addr, size)
	if !ok {
		return InvalidSyscall
	}

	id, err := s.Bus.Send(ctx.Caller, kernel.PID(receiver), ipc.Type(typ), payload, ipc.Priority(prio))
	if err != nil {
		ctx.Log.Debug("send failed", "receiver", receiver, "error", err)
		return InvalidSyscall
	}

	return uint64(id)
}

func (s *Services) ipcSend(ctx *Context) uint64 {
	return s.send(ctx, ctx.Arg(0), ctx.Arg(1), ctx.Arg(2), ctx.Arg(3), uint64(ipc.Normal))
}

func (s *Services) ipcSendPriority(ctx *Context) uint64 {
	return s.send(ctx, ctx.Arg(0), ctx.Arg(1), ctx.Arg(2), ctx.Arg(3), ctx.Arg(4))
}

func (s *Services) receive(ctx *Context, addr uint64, timeout time.Duration) uint64 {
	// Validate the destination first so a message is never dequeued
	// without a place to put it.
	if !s.Regions.CheckRange(uintptr(addr), MessageSize, ctx.Caller, region.PermWrite) {
		ctx.Log.Warn("user buffer not writable", "addr", hclog.Hex(addr), "size", MessageSize)
		return InvalidSyscall
	}

	msg, err := s.Bus.Receive(ctx.Caller, timeout)
	if err != nil {
		ctx.Log.Trace("receive failed", "error", err)
		return InvalidSyscall
	}

	if !s.copyOut(ctx, addr, EncodeMessage(&msg)) {
		return InvalidSyscall
	}

	return uint64(msg.ID)
}

func (s *Services) ipcReceive(ctx *Context) uint64 {
	return s.receive(ctx, ctx.Arg(0), 0)
}

func (s *Services) ipcReceiveTimeout(ctx *Context) uint64 {
	millis := ctx.Arg(1)
	if millis > maxTimeoutMillis {
		millis = maxTimeoutMillis
	}
	return s.receive(ctx, ctx.Arg(0), time.Duration(millis)*time.Millisecond)
}

func (s *Services) ipcCreateQueue(ctx *Context) uint64 {
	id, err := s.Bus.CreateQueue(ctx.Caller, int(ctx.Arg(0)))
	if err != nil {
		ctx.Log.Warn("cannot create queue", "error", err)
		return InvalidSyscall
	}

	return uint64(id)
}

// ipcDeleteQueue only lets a process delete queues it owns.
func (s *Services) ipcDeleteQueue(ctx *Context) uint64 {
	if ctx.Arg(0) > math.MaxUint32 {
		ctx.Log.Warn("cannot delete queue", "queue", ctx.Arg(0))
		return InvalidSyscall
	}
	id := ipc.QueueID(ctx.Arg(0))

	st, err := s.Bus.QueueStatus(id)
	if err != nil || st.Owner != ctx.Caller {
		ctx.Log.Warn("cannot delete queue", "queue", uint32(id))
		return InvalidSyscall
	}

	_ = s.Bus.DeleteQueue(id)
	return 0
}

func (s *Services) ipcBroadcast(ctx *Context) uint64 {
	typ, addr, size := ctx.Arg(0), ctx.Arg(1), ctx.Arg(2)
	if typ > math.MaxUint8 {
		ctx.Log.Warn("invalid message argument", "type", typ)
		return InvalidSyscall
	}

	if size > ipc.MaxPayload {
		ctx.Log.Warn("payload too large", "size", size)
		return InvalidSyscall
	}

	payload, ok := s.copyIn(ctx, addr, size)
	if !ok {
		return InvalidSyscall
	}

	return uint64(s.Bus.Broadcast(ctx.Caller, ipc.Type(typ), payload))
}

func (s *Services) ipcGetStats(ctx *Context) uint64 {
	if !s.copyOut(ctx, ctx.Arg(0), EncodeStats(s.Bus.SystemStats())) {
		return InvalidSyscall
	}

	return 0
}

// ipcSetPriority changes the IPC priority of a process. It is only
// available to kernel-mode callers.
func (s *Services) ipcSetPriority(ctx *Context) uint64 {
	pid, prio := ctx.Arg(0), ctx.Arg(1)
	if pid > math.MaxUint32 || prio > math.MaxUint8 {
		ctx.Log.Warn("invalid priority argument", "target", pid, "priority", prio)
		return InvalidSyscall
	}

	if err := s.Bus.SetProcessPriority(kernel.PID(pid), ipc.Priority(prio)); err != nil {
		ctx.Log.Warn("cannot set priority", "target", pid, "error", err)
		return InvalidSyscall
	}

	return 0
}
