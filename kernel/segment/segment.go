// Package segment keeps the protection attributes of the descriptor table
// selectors that processes run with. The descriptor tables themselves are
// built by the boot code; this package only records which selectors exist,
// the ring that may use them and the accesses they permit.
package segment

import (
	"fmt"
	"io"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
	"github.com/gnl2024/os-tutorial/kernel/privilege"
	"github.com/hashicorp/go-hclog"
)

// MaxEntries is the capacity of the protection table.
const MaxEntries = 16

// Selector is a descriptor table selector: index<<3 | table bit | RPL.
type Selector uint16

// The flat selectors installed by the boot code.
const (
	KernelCode = Selector(0x08)
	KernelData = Selector(0x10)
	UserCode   = Selector(0x18 | 3)
	UserData   = Selector(0x20 | 3)
)

// Index returns the descriptor table index encoded in the selector.
func (s Selector) Index() uint16 { return uint16(s) >> 3 }

// RPL returns the requested privilege level encoded in the selector.
func (s Selector) RPL() privilege.Level { return privilege.Level(s & 3) }

var (
	// ErrDuplicateSelector is returned when a selector is registered twice.
	ErrDuplicateSelector = &kernel.Error{Module: "segment", Message: "selector already registered"}

	// ErrTableFull is returned when the protection table has no free slot.
	ErrTableFull = &kernel.Error{Module: "segment", Message: "segment protection table is full"}

	// ErrNoSuchSelector is returned for selectors that are not registered.
	ErrNoSuchSelector = &kernel.Error{Module: "segment", Message: "no such selector"}

	// ErrInvalidSelector is returned for the null selector.
	ErrInvalidSelector = &kernel.Error{Module: "segment", Message: "invalid selector"}
)

// Entry describes the protection attributes of a selector.
type Entry struct {
	Selector  Selector
	Base      uintptr
	Limit     uintptr
	Privilege privilege.Level
	Perm      region.Perm
}

// Table is the fixed-capacity segment protection table.
type Table struct {
	entries [MaxEntries]Entry
	used    [MaxEntries]bool
	log     hclog.Logger
}

// NewTable returns an empty protection table.
func NewTable(log hclog.Logger) *Table {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Table{log: log}
}

// InstallFlat registers the flat kernel and user code/data selectors that
// the boot code places in the descriptor table. All of them span
// [0, limit).
func (t *Table) InstallFlat(limit uintptr) *kernel.Error {
	for _, e := range []Entry{
		{KernelCode, 0, limit, privilege.Kernel, region.PermRX},
		{KernelData, 0, limit, privilege.Kernel, region.PermRW},
		{UserCode, 0, limit, privilege.User, region.PermRX},
		{UserData, 0, limit, privilege.User, region.PermRW},
	} {
		if err := t.Allocate(e.Selector, e.Base, e.Limit, e.Privilege, e.Perm); err != nil {
			return err
		}
	}

	return nil
}

// Allocate registers the protection attributes for sel.
func (t *Table) Allocate(sel Selector, base, limit uintptr, level privilege.Level, perm region.Perm) *kernel.Error {
	if sel.Index() == 0 {
		return ErrInvalidSelector
	}

	free := -1
	for i := range t.entries {
		if !t.used[i] {
			if free == -1 {
				free = i
			}
			continue
		}

		if t.entries[i].Selector == sel {
			return ErrDuplicateSelector
		}
	}

	if free == -1 {
		t.log.Warn("segment protection table full")
		return ErrTableFull
	}

	t.entries[free] = Entry{Selector: sel, Base: base, Limit: limit, Privilege: level, Perm: perm}
	t.used[free] = true
	t.log.Debug("segment protection allocated", "selector", hclog.Hex(sel), "privilege", level)

	return nil
}

func (t *Table) index(sel Selector) int {
	for i := range t.entries {
		if t.used[i] && t.entries[i].Selector == sel {
			return i
		}
	}

	return -1
}

// Find returns the entry registered for sel.
func (t *Table) Find(sel Selector) (Entry, bool) {
	if i := t.index(sel); i != -1 {
		return t.entries[i], true
	}

	return Entry{}, false
}

// Free removes the entry registered for sel.
func (t *Table) Free(sel Selector) *kernel.Error {
	i := t.index(sel)
	if i == -1 {
		return ErrNoSuchSelector
	}

	t.used[i] = false
	t.log.Debug("segment protection freed", "selector", hclog.Hex(sel))
	return nil
}

// CheckAccess returns true if code running at level may perform access
// through sel. Access is refused for unknown selectors, for callers less
// privileged than the descriptor and for accesses the descriptor does not
// permit.
func (t *Table) CheckAccess(sel Selector, level privilege.Level, access region.Perm) bool {
	e, found := t.Find(sel)
	if !found {
		return false
	}

	if level > e.Privilege {
		t.log.Warn("segment violation", "selector", hclog.Hex(sel), "privilege", level)
		return false
	}

	return e.Perm.Allows(access)
}

// Selectors returns the code and data selectors that processes running at
// level are issued.
func (t *Table) Selectors(level privilege.Level) (code, data Selector, err *kernel.Error) {
	code, data = UserCode, UserData
	if level == privilege.Kernel {
		code, data = KernelCode, KernelData
	}

	if t.index(code) == -1 || t.index(data) == -1 {
		return 0, 0, ErrNoSuchSelector
	}

	return code, data, nil
}

// Dump writes the registered selectors to w.
func (t *Table) Dump(w io.Writer) {
	fmt.Fprintf(w, "segment protections:\n")
	for i := range t.entries {
		if !t.used[i] {
			continue
		}

		e := t.entries[i]
		fmt.Fprintf(w, "  selector 0x%02x base 0x%x limit 0x%x %s %s\n", uint16(e.Selector), e.Base, e.Limit, e.Perm, e.Privilege)
	}
}
