package kmain

import (
	"fmt"
	"strings"

	"github.com/gnl2024/os-tutorial/kernel/kfmt"
)

const (
	maxLineLen = 255
	prompt     = "> "
)

// shell implements the kernel console commands.
type shell struct {
	k    *Kernel
	line []byte
	out  *kfmt.PrefixWriter
}

func newShell(k *Kernel) *shell {
	return &shell{
		k:    k,
		line: make([]byte, 0, maxLineLen),
		out:  &kfmt.PrefixWriter{Sink: k.out, Prefix: []byte("  ")},
	}
}

// handleKey echoes key and runs the current line when it is terminated.
func (s *shell) handleKey(key byte) {
	switch key {
	case keyBackspace:
		if len(s.line) > 0 {
			s.line = s.line[:len(s.line)-1]
			fmt.Fprint(s.k.out, "\b \b")
		}
	case keyEnter, '\r':
		fmt.Fprint(s.k.out, "\n")
		s.run(string(s.line))
		s.line = s.line[:0]
	default:
		if key < ' ' || len(s.line) == maxLineLen {
			return
		}
		s.line = append(s.line, key)
		fmt.Fprintf(s.k.out, "%c", key)
	}
}

func (s *shell) run(input string) {
	w := s.k.out

	switch strings.TrimSpace(input) {
	case "END":
		fmt.Fprint(w, "Stopping the CPU. Bye!\n")
		s.k.hooks.Halt()
		return
	case "MEMORY":
		st := s.k.Heap.Stats()
		fmt.Fprint(w, "Memory statistics:\n")
		fmt.Fprintf(s.out, "total allocated:  %d bytes\n", st.TotalAllocated)
		fmt.Fprintf(s.out, "allocations:      %d\n", st.Allocations)
		fmt.Fprintf(s.out, "max allocation:   %d bytes\n", st.LargestAllocation)
		fmt.Fprintf(s.out, "remaining:        %d bytes\n", st.Remaining)
	case "STATS":
		s.k.Bus.Dump(w)
	case "PS":
		s.k.Procs.Dump(s.out)
	case "REGIONS":
		s.k.Memory.Dump(s.out)
		s.k.MPU.Dump(s.out)
		s.k.Segments.Dump(s.out)
	case "HELP":
		fmt.Fprint(w, "Available commands:\n")
		fmt.Fprint(s.out, "END      stop the CPU\n")
		fmt.Fprint(s.out, "MEMORY   show allocator statistics\n")
		fmt.Fprint(s.out, "STATS    show IPC statistics\n")
		fmt.Fprint(s.out, "PS       list processes\n")
		fmt.Fprint(s.out, "REGIONS  list memory regions and segments\n")
		fmt.Fprint(s.out, "HELP     show this message\n")
	case "":
	default:
		fmt.Fprintf(w, "You said: %s\n", input)
	}

	fmt.Fprint(w, prompt)
}
