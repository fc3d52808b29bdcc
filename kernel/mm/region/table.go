package region

import (
	"fmt"
	"io"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/hashicorp/go-hclog"
)

const (
	// MemoryTableCapacity is the number of slots in the general memory
	// region table.
	MemoryTableCapacity = 64

	// MPUTableCapacity is the number of slots in the MPU region table.
	MPUTableCapacity = 8
)

var (
	// ErrOverlap is returned when a new region intersects an active one.
	ErrOverlap = &kernel.Error{Module: "region", Message: "region overlaps an active region"}

	// ErrTableFull is returned when every slot holds an active region.
	ErrTableFull = &kernel.Error{Module: "region", Message: "region table is full"}

	// ErrInvalidRegion is returned for empty or wrapping intervals.
	ErrInvalidRegion = &kernel.Error{Module: "region", Message: "invalid region bounds"}

	// ErrNoSuchRegion is returned for unknown, stale or freed region IDs.
	ErrNoSuchRegion = &kernel.Error{Module: "region", Message: "no such region"}
)

type slot struct {
	Region
	gen uint16
}

// Table is a fixed-capacity region table. Freed slots are reused by later
// allocations; the first inactive slot is always picked.
type Table struct {
	name  string
	slots []slot
	log   hclog.Logger
}

// NewTable creates a region table with the given number of slots. The name
// is used to tag diagnostics ("memory", "mpu").
func NewTable(name string, capacity int, log hclog.Logger) *Table {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Table{
		name:  name,
		slots: make([]slot, capacity),
		log:   log,
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Cap returns the number of slots in the table.
func (t *Table) Cap() int { return len(t.slots) }

// Len returns the number of active regions.
func (t *Table) Len() int {
	var n int
	for i := range t.slots {
		if t.slots[i].Active {
			n++
		}
	}
	return n
}

// Allocate registers the interval [start, start+size) for owner. It fails if
// the interval overlaps any active region of this table, regardless of who
// owns it.
func (t *Table) Allocate(start, size uintptr, perm Perm, owner kernel.PID, kind Kind) (ID, *kernel.Error) {
	end := start + size
	if size == 0 || end < start {
		return InvalidID, ErrInvalidRegion
	}

	free := -1
	for i := range t.slots {
		s := &t.slots[i]
		if !s.Active {
			if free == -1 {
				free = i
			}
			continue
		}

		if s.overlaps(start, end) {
			t.log.Warn("region overlaps existing region",
				"start", hclog.Hex(start), "end", hclog.Hex(end),
				"conflict", makeID(i, s.gen), "owner", s.Owner,
			)
			return InvalidID, ErrOverlap
		}
	}

	if free == -1 {
		t.log.Warn("region table full", "capacity", len(t.slots))
		return InvalidID, ErrTableFull
	}

	s := &t.slots[free]
	s.gen++
	s.Region = Region{
		Start:  start,
		End:    end,
		Perm:   perm,
		Owner:  owner,
		Kind:   kind,
		Active: true,
	}

	id := makeID(free, s.gen)
	t.log.Info("region allocated",
		"id", id, "start", hclog.Hex(start), "end", hclog.Hex(end),
		"perm", perm, "kind", kind, "owner", owner,
	)

	return id, nil
}

func (t *Table) lookup(id ID) (*slot, *kernel.Error) {
	idx := id.slot()
	if idx < 0 || idx >= len(t.slots) {
		return nil, ErrNoSuchRegion
	}

	s := &t.slots[idx]
	if !s.Active || s.gen != id.generation() {
		return nil, ErrNoSuchRegion
	}

	return s, nil
}

// Region returns the descriptor of an active region.
func (t *Table) Region(id ID) (Region, *kernel.Error) {
	s, err := t.lookup(id)
	if err != nil {
		return Region{}, err
	}

	return s.Region, nil
}

// Free deactivates the region identified by id.
func (t *Table) Free(id ID) *kernel.Error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	s.Active = false
	t.log.Info("region freed", "id", id, "start", hclog.Hex(s.Start), "owner", s.Owner)
	return nil
}

// FreeOwnedBy deactivates every region owned by pid and returns the number
// of regions that were released.
func (t *Table) FreeOwnedBy(pid kernel.PID) int {
	var freed int
	for i := range t.slots {
		if s := &t.slots[i]; s.Active && s.Owner == pid {
			s.Active = false
			freed++
		}
	}

	if freed != 0 {
		t.log.Info("released regions", "owner", pid, "count", freed)
	}

	return freed
}

// Find returns the first active region containing addr.
func (t *Table) Find(addr uintptr) (ID, bool) {
	for i := range t.slots {
		if s := &t.slots[i]; s.Active && s.Contains(addr) {
			return makeID(i, s.gen), true
		}
	}

	return InvalidID, false
}

// Classify checks whether pid may perform access at addr and explains the
// outcome.
func (t *Table) Classify(addr uintptr, pid kernel.PID, access Perm) Verdict {
	id, found := t.Find(addr)
	if !found {
		return Verdict{Reason: ReasonNoRegion}
	}

	v := Verdict{ID: id, Region: t.slots[id.slot()].Region}
	switch {
	case v.Region.Owner != pid:
		v.Reason = ReasonWrongOwner
	case !v.Region.Perm.Allows(access):
		v.Reason = ReasonPermission
	}

	return v
}

// CheckAccess returns true only if an active region contains addr, it is
// owned by pid and it grants every bit in access.
func (t *Table) CheckAccess(addr uintptr, pid kernel.PID, access Perm) bool {
	return t.Classify(addr, pid, access).Allowed()
}

// CheckRange is like CheckAccess but requires the whole interval
// [addr, addr+size) to lie inside a single permitted region.
func (t *Table) CheckRange(addr, size uintptr, pid kernel.PID, access Perm) bool {
	if size == 0 || addr+size < addr {
		return false
	}

	v := t.Classify(addr, pid, access)
	return v.Allowed() && addr+size <= v.Region.End
}

// Visit invokes fn for each active region in slot order. Visiting stops if
// fn returns false.
func (t *Table) Visit(fn func(ID, Region) bool) {
	for i := range t.slots {
		if s := &t.slots[i]; s.Active {
			if !fn(makeID(i, s.gen), s.Region) {
				return
			}
		}
	}
}

// Dump writes a human-readable listing of the active regions to w.
func (t *Table) Dump(w io.Writer) {
	fmt.Fprintf(w, "%s regions (%d/%d active):\n", t.name, t.Len(), len(t.slots))
	t.Visit(func(id ID, r Region) bool {
		fmt.Fprintf(w, "  %-6s %s\n", id, r)
		return true
	})
}
