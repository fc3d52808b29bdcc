package kernel

import "unsafe"

var (
	// ErrOutOfBounds is returned by Memory implementations when an access
	// falls outside the memory they expose.
	ErrOutOfBounds = &Error{Module: "kernel", Message: "memory access out of bounds"}
)

// Memory provides byte-level access to the flat physical address space. The
// syscall layer uses it to move data between user buffers and kernel
// structures once the caller's access rights have been checked.
type Memory interface {
	// Read copies len(p) bytes starting at addr into p.
	Read(addr uintptr, p []byte) *Error

	// Write copies p to the memory starting at addr.
	Write(addr uintptr, p []byte) *Error
}

// PhysMemory accesses physical memory directly. It must only be used when
// the kernel runs on bare metal with an identity-mapped address space.
type PhysMemory struct{}

// Read implements Memory.
func (PhysMemory) Read(addr uintptr, p []byte) *Error {
	if len(p) == 0 {
		return nil
	}

	Memcopy(addr, uintptr(unsafe.Pointer(&p[0])), uintptr(len(p)))
	return nil
}

// Write implements Memory.
func (PhysMemory) Write(addr uintptr, p []byte) *Error {
	if len(p) == 0 {
		return nil
	}

	Memcopy(uintptr(unsafe.Pointer(&p[0])), addr, uintptr(len(p)))
	return nil
}

// ImageMemory is a Memory backed by a byte slice that mirrors the physical
// address range [Base, Base+len(Data)). It is used when the kernel is hosted
// by the simulator.
type ImageMemory struct {
	Base uintptr
	Data []byte
}

// NewImageMemory allocates an image covering size bytes starting at base.
func NewImageMemory(base, size uintptr) *ImageMemory {
	return &ImageMemory{Base: base, Data: make([]byte, size)}
}

func (m *ImageMemory) window(addr uintptr, size int) ([]byte, *Error) {
	if addr < m.Base || addr-m.Base+uintptr(size) > uintptr(len(m.Data)) || addr+uintptr(size) < addr {
		return nil, ErrOutOfBounds
	}

	off := addr - m.Base
	return m.Data[off : off+uintptr(size)], nil
}

// Read implements Memory.
func (m *ImageMemory) Read(addr uintptr, p []byte) *Error {
	src, err := m.window(addr, len(p))
	if err != nil {
		return err
	}

	copy(p, src)
	return nil
}

// Write implements Memory.
func (m *ImageMemory) Write(addr uintptr, p []byte) *Error {
	dst, err := m.window(addr, len(p))
	if err != nil {
		return err
	}

	copy(dst, p)
	return nil
}

// Memset sets size bytes at the given address to the supplied value. Instead
// of a byte loop it performs log2(size) copy calls.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	copy(
		unsafe.Slice((*byte)(unsafe.Pointer(dst)), size),
		unsafe.Slice((*byte)(unsafe.Pointer(src)), size),
	)
}
