package kernel

// PID identifies a process for the lifetime of a boot session. PIDs are handed
// out in increasing order and are never reused.
type PID uint32

// KernelPID is the PID of the kernel process that is created during boot.
const KernelPID = PID(0)
