// Package region implements fixed-capacity tables of memory protection
// regions. The kernel keeps two independent instances: the general memory
// region table and the MPU region table. Both share the same semantics:
// active regions never overlap and an address belongs to the first active
// region, in slot order, whose interval contains it.
package region

import (
	"fmt"
	"strings"

	"github.com/gnl2024/os-tutorial/kernel"
)

// Perm is a set of access permission bits.
type Perm uint8

// Access permission bits.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec

	PermRW  = PermRead | PermWrite
	PermRX  = PermRead | PermExec
	PermRWX = PermRead | PermWrite | PermExec
)

// Allows returns true if every bit in access is also set in p.
func (p Perm) Allows(access Perm) bool {
	return p&access == access
}

// String renders the permission bits in "rwx" notation.
func (p Perm) String() string {
	var sb strings.Builder
	for _, bit := range []struct {
		flag Perm
		ch   byte
	}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExec, 'x'}} {
		if p&bit.flag != 0 {
			sb.WriteByte(bit.ch)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Kind tags the purpose of a region.
type Kind uint8

// The supported region kinds.
const (
	KindCode Kind = iota
	KindData
	KindStack
	KindHeap
)

// String implements fmt.Stringer for Kind.
func (k Kind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindData:
		return "data"
	case KindStack:
		return "stack"
	case KindHeap:
		return "heap"
	default:
		return "unknown"
	}
}

// Region describes the half-open address interval [Start, End) together with
// the PID that owns it and the accesses it permits.
type Region struct {
	Start  uintptr
	End    uintptr
	Perm   Perm
	Owner  kernel.PID
	Kind   Kind
	Active bool
}

// Size returns the length of the region in bytes.
func (r Region) Size() uintptr {
	return r.End - r.Start
}

// Contains returns true if addr lies inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

func (r Region) overlaps(start, end uintptr) bool {
	return start < r.End && end > r.Start
}

// String implements fmt.Stringer for Region.
func (r Region) String() string {
	return fmt.Sprintf("[0x%x - 0x%x) %s %s pid %d", r.Start, r.End, r.Perm, r.Kind, r.Owner)
}

// ID is a stable handle to a region table slot. It carries the generation of
// the slot at the time of allocation so handles to freed regions are
// rejected even after the slot has been reused. The zero ID is invalid.
type ID uint32

// InvalidID is never returned for a successful allocation.
const InvalidID = ID(0)

func makeID(slot int, gen uint16) ID {
	return ID(uint32(gen)<<16 | uint32(slot+1))
}

func (id ID) slot() int {
	return int(id&0xffff) - 1
}

func (id ID) generation() uint16 {
	return uint16(id >> 16)
}

// String implements fmt.Stringer for ID.
func (id ID) String() string {
	if id == InvalidID {
		return "invalid"
	}
	return fmt.Sprintf("%d.%d", id.slot(), id.generation())
}

// Reason explains the outcome of an access classification.
type Reason uint8

// The possible classification outcomes.
const (
	// ReasonNone indicates that the access is permitted.
	ReasonNone Reason = iota

	// ReasonNoRegion indicates that no active region contains the address.
	ReasonNoRegion

	// ReasonWrongOwner indicates that the containing region belongs to a
	// different process.
	ReasonWrongOwner

	// ReasonPermission indicates that the containing region does not
	// grant the requested access.
	ReasonPermission
)

// String implements fmt.Stringer for Reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "access permitted"
	case ReasonNoRegion:
		return "address not in any region"
	case ReasonWrongOwner:
		return "wrong process"
	case ReasonPermission:
		return "insufficient permissions"
	default:
		return "unknown"
	}
}

// Verdict is the result of classifying an access against a region table.
type Verdict struct {
	Reason Reason

	// ID and Region describe the containing region. They are only valid
	// when Reason is not ReasonNoRegion.
	ID     ID
	Region Region
}

// Allowed returns true if the classified access is permitted.
func (v Verdict) Allowed() bool {
	return v.Reason == ReasonNone
}
