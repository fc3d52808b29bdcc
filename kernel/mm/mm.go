// Package mm contains the memory sizing primitives shared by the region
// tables and the kernel allocator.
package mm

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// PageShift is equal to log2(PageSize).
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes. Process stacks and
	// heaps are reserved in PageSize units.
	PageSize = uintptr(1 << PageShift)
)

// AlignUp rounds addr up to the next multiple of align, which must be a
// power of 2. It returns false if the rounded address overflows.
func AlignUp(addr, align uintptr) (uintptr, bool) {
	aligned := (addr + align - 1) &^ (align - 1)
	return aligned, aligned >= addr
}

// PageAligned returns true if addr is a multiple of PageSize.
func PageAligned(addr uintptr) bool {
	return addr&(PageSize-1) == 0
}
