package segment

import (
	"bytes"
	"testing"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
)

func TestAllocate(t *testing.T) {
	tbl := NewTable(nil)

	specs := []struct {
		sel    Selector
		expErr *kernel.Error
	}{
		{0, ErrInvalidSelector},
		{3, ErrInvalidSelector},
		{KernelCode, nil},
		{KernelCode, ErrDuplicateSelector},
		{KernelData, nil},
	}

	for specIndex, spec := range specs {
		if err := tbl.Allocate(spec.sel, 0, 0x100000, privilege.Kernel, region.PermRW); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	for i := 2; i < MaxEntries; i++ {
		if err := tbl.Allocate(Selector(0x28+8*i), 0, 0x1000, privilege.User, region.PermRead); err != nil {
			t.Fatalf("unexpected error filling the table: %v", err)
		}
	}

	if err := tbl.Allocate(Selector(0x400), 0, 0x1000, privilege.User, region.PermRead); err != ErrTableFull {
		t.Fatalf("expected ErrTableFull; got %v", err)
	}

	if err := tbl.Free(KernelData); err != nil {
		t.Fatal(err)
	}

	if err := tbl.Free(KernelData); err != ErrNoSuchSelector {
		t.Fatalf("expected ErrNoSuchSelector; got %v", err)
	}

	if err := tbl.Allocate(Selector(0x400), 0, 0x1000, privilege.User, region.PermRead); err != nil {
		t.Fatalf("expected freed slot to be reused; got %v", err)
	}
}

func TestCheckAccess(t *testing.T) {
	tbl := NewTable(nil)
	if err := tbl.InstallFlat(0x400000); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		sel    Selector
		level  privilege.Level
		access region.Perm
		exp    bool
	}{
		{KernelCode, privilege.Kernel, region.PermExec, true},
		{KernelCode, privilege.Kernel, region.PermWrite, false},
		{KernelData, privilege.User, region.PermRead, false},
		{UserData, privilege.User, region.PermRW, true},
		{UserData, privilege.Kernel, region.PermRW, true},
		{UserCode, privilege.User, region.PermWrite, false},
		{Selector(0x30), privilege.Kernel, region.PermRead, false},
	}

	for specIndex, spec := range specs {
		if got := tbl.CheckAccess(spec.sel, spec.level, spec.access); got != spec.exp {
			t.Errorf("[spec %d] expected CheckAccess(0x%x, %s, %s) to return %t; got %t", specIndex, uint16(spec.sel), spec.level, spec.access, spec.exp, got)
		}
	}
}

func TestSelectors(t *testing.T) {
	tbl := NewTable(nil)

	if _, _, err := tbl.Selectors(privilege.User); err != ErrNoSuchSelector {
		t.Fatalf("expected ErrNoSuchSelector before installing descriptors; got %v", err)
	}

	tbl.InstallFlat(0x400000)

	specs := []struct {
		level            privilege.Level
		expCode, expData Selector
	}{
		{privilege.Kernel, 0x08, 0x10},
		{privilege.User, 0x1b, 0x23},
	}

	for specIndex, spec := range specs {
		code, data, err := tbl.Selectors(spec.level)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if code != spec.expCode || data != spec.expData {
			t.Errorf("[spec %d] expected selectors (0x%x, 0x%x); got (0x%x, 0x%x)", specIndex, uint16(spec.expCode), uint16(spec.expData), uint16(code), uint16(data))
		}

		if code.RPL() != spec.level {
			t.Errorf("[spec %d] expected code selector RPL %s; got %s", specIndex, spec.level, code.RPL())
		}
	}

	var buf bytes.Buffer
	tbl.Dump(&buf)
	if exp := "  selector 0x1b base 0x0 limit 0x400000 r-x user\n"; !bytes.Contains(buf.Bytes(), []byte(exp)) {
		t.Fatalf("expected dump to contain %q; got:\n%s", exp, buf.String())
	}
}
