// Package heap provides the kernel's bump-pointer allocator. It hands out
// physical memory for process heaps and for the Alloc syscall.
package heap

import (
	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/mm"
	"github.com/hashicorp/go-hclog"
)

var (
	errOutOfMemory  = &kernel.Error{Module: "heap", Message: "out of memory"}
	errInvalidSize  = &kernel.Error{Module: "heap", Message: "invalid allocation size"}
	errInvalidRange = &kernel.Error{Module: "heap", Message: "invalid allocator range"}
)

// Stats summarizes the allocations served so far.
type Stats struct {
	// TotalAllocated is the sum of all requested sizes.
	TotalAllocated mm.Size

	// Allocations is the number of successful allocations.
	Allocations uint64

	// LargestAllocation is the largest requested size.
	LargestAllocation mm.Size

	// Next is the address the next unaligned allocation would start at.
	Next uintptr

	// Remaining is the number of bytes left before the limit.
	Remaining mm.Size
}

// Allocator implements a bump-pointer allocator over the physical range
// [start, limit). Allocated memory is never returned to the allocator.
type Allocator struct {
	start, next, limit uintptr
	stats              Stats
	log                hclog.Logger
}

// New creates an allocator that serves memory from [start, limit).
func New(start, limit uintptr, log hclog.Logger) (*Allocator, *kernel.Error) {
	if limit <= start {
		return nil, errInvalidRange
	}

	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Allocator{start: start, next: start, limit: limit, log: log}, nil
}

// Alloc reserves size bytes. If pageAligned is set the returned address is a
// multiple of mm.PageSize.
func (a *Allocator) Alloc(size uintptr, pageAligned bool) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, errInvalidSize
	}

	addr := a.next
	if pageAligned {
		var ok bool
		if addr, ok = mm.AlignUp(addr, mm.PageSize); !ok {
			return 0, errOutOfMemory
		}
	}

	end := addr + size
	if end < addr || end > a.limit {
		a.log.Warn("allocation failed", "size", size, "next", hclog.Hex(a.next), "limit", hclog.Hex(a.limit))
		return 0, errOutOfMemory
	}

	a.next = end
	a.stats.TotalAllocated += mm.Size(size)
	a.stats.Allocations++
	if mm.Size(size) > a.stats.LargestAllocation {
		a.stats.LargestAllocation = mm.Size(size)
	}

	a.log.Trace("allocated", "addr", hclog.Hex(addr), "size", size)
	return addr, nil
}

// Stats returns a snapshot of the allocator statistics.
func (a *Allocator) Stats() Stats {
	s := a.stats
	s.Next = a.next
	s.Remaining = mm.Size(a.limit - a.next)
	return s
}
