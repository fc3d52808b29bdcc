package heap

import (
	"testing"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/mm"
)

func TestNew(t *testing.T) {
	if _, err := New(0x30000, 0x30000, nil); err != errInvalidRange {
		t.Fatalf("expected errInvalidRange; got %v", err)
	}

	if _, err := New(0x30000, 0x40000, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAlloc(t *testing.T) {
	alloc, _ := New(0x30000, 0x34000, nil)

	specs := []struct {
		size        uintptr
		pageAligned bool
		expAddr     uintptr
		expErr      *kernel.Error
	}{
		{1024, true, 0x30000, nil},
		{2048, true, 0x31000, nil},
		{512, false, 0x31800, nil},
		{512, false, 0x31a00, nil},
		{0, false, 0, errInvalidSize},
		{0x1000, true, 0x32000, nil},
		{0x1000, true, 0x33000, nil},
		{1, false, 0, errOutOfMemory},
	}

	for specIndex, spec := range specs {
		addr, err := alloc.Alloc(spec.size, spec.pageAligned)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		if err == nil && addr != spec.expAddr {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.expAddr, addr)
		}

		if err == nil && spec.pageAligned && !mm.PageAligned(addr) {
			t.Errorf("[spec %d] expected page-aligned address; got 0x%x", specIndex, addr)
		}
	}

	stats := alloc.Stats()
	if exp := mm.Size(1024 + 2048 + 512 + 512 + 0x1000 + 0x1000); stats.TotalAllocated != exp {
		t.Errorf("expected total allocated to be %d; got %d", exp, stats.TotalAllocated)
	}

	if exp := uint64(6); stats.Allocations != exp {
		t.Errorf("expected %d allocations; got %d", exp, stats.Allocations)
	}

	if exp := mm.Size(0x1000); stats.LargestAllocation != exp {
		t.Errorf("expected largest allocation to be %d; got %d", exp, stats.LargestAllocation)
	}

	if stats.Next != 0x34000 || stats.Remaining != 0 {
		t.Errorf("expected allocator to be exhausted; next 0x%x, remaining %d", stats.Next, stats.Remaining)
	}
}
