// Package privilege tracks the privilege ring the CPU is executing in on
// behalf of the current process.
package privilege

import (
	"strconv"

	"github.com/hashicorp/go-hclog"
)

// Level is an x86 privilege ring. Lower values are more privileged.
type Level uint8

// The rings used by the kernel.
const (
	Kernel Level = 0
	User   Level = 3
)

// String implements fmt.Stringer for Level.
func (l Level) String() string {
	switch l {
	case Kernel:
		return "kernel"
	case User:
		return "user"
	default:
		return "ring" + strconv.Itoa(int(l))
	}
}

// Manager records the current privilege level. The syscall dispatcher
// raises it to Kernel for the duration of a call and restores the caller's
// level afterwards; the scheduler sets it whenever it switches processes.
type Manager struct {
	current Level
	log     hclog.Logger
}

// NewManager returns a Manager that starts at the Kernel level.
func NewManager(log hclog.Logger) *Manager {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Manager{current: Kernel, log: log}
}

// Current returns the current privilege level.
func (m *Manager) Current() Level {
	return m.current
}

// Set changes the current privilege level.
func (m *Manager) Set(l Level) {
	if l != m.current {
		m.log.Trace("privilege level changed", "from", m.current, "to", l)
	}
	m.current = l
}

// EnterKernel switches to the Kernel level and returns the level that was
// active before the call so it can later be passed to Restore.
func (m *Manager) EnterKernel() Level {
	prev := m.current
	m.Set(Kernel)
	return prev
}

// Restore returns to a level previously returned by EnterKernel.
func (m *Manager) Restore(prev Level) {
	m.Set(prev)
}

// Check returns true if the current level is at least as privileged as
// required.
func (m *Manager) Check(required Level) bool {
	return m.current <= required
}
