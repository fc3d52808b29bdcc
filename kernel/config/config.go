// Package config holds the boot-time settings of the kernel: the physical
// memory layout, the fault policy and the log level. Defaults can be
// overridden from the boot command line or, when hosted, from a JSON file.
package config

import (
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/gnl2024/os-tutorial/kernel/mm"
	"github.com/gnl2024/os-tutorial/kernel/proc"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrUnknownKey is returned by Set for unsupported keys.
	ErrUnknownKey = &kernel.Error{Module: "config", Message: "unknown configuration key"}

	// ErrInvalidValue is returned by Set when a value cannot be parsed.
	ErrInvalidValue = &kernel.Error{Module: "config", Message: "invalid configuration value"}

	// ErrInvalidLayout is returned by Validate for empty, overflowing or
	// misaligned memory blocks.
	ErrInvalidLayout = &kernel.Error{Module: "config", Message: "invalid memory layout"}

	// ErrOverlap is returned by Validate when two memory blocks overlap.
	ErrOverlap = &kernel.Error{Module: "config", Message: "memory layout blocks overlap"}

	// ErrInvalidLogLevel is returned by Validate for unknown log levels.
	ErrInvalidLogLevel = &kernel.Error{Module: "config", Message: "invalid log level"}
)

// Block is a contiguous range of physical memory.
type Block struct {
	Start uintptr `json:"start"`
	Size  uintptr `json:"size"`
}

// End returns the first address past the block.
func (b Block) End() uintptr {
	return b.Start + b.Size
}

// Config contains the kernel settings.
type Config struct {
	KernelCode  Block `json:"kernel_code"`
	KernelStack Block `json:"kernel_stack"`
	KernelHeap  Block `json:"kernel_heap"`

	// AllocStart and AllocLimit bound the bump allocator that backs
	// process heaps and Alloc system calls.
	AllocStart uintptr `json:"alloc_start"`
	AllocLimit uintptr `json:"alloc_limit"`

	// Process n (n > 0) gets its stack at StackBase + (n-1)*StackSize.
	StackBase uintptr `json:"stack_base"`
	StackSize uintptr `json:"stack_size"`

	HaltOnViolation bool   `json:"halt_on_violation"`
	LogLevel        string `json:"log_level"`

	// Demo spawns a pair of processes that exchange messages at boot.
	Demo bool `json:"demo"`
}

// Default returns the default kernel configuration.
func Default() Config {
	return Config{
		KernelCode:      Block{Start: 0x0, Size: 0x10000},
		KernelStack:     Block{Start: 0x10000, Size: 0x10000},
		KernelHeap:      Block{Start: 0x20000, Size: 0x10000},
		AllocStart:      0x30000,
		AllocLimit:      0x100000,
		StackBase:       0x100000,
		StackSize:       mm.PageSize,
		HaltOnViolation: true,
		LogLevel:        "info",
	}
}

// ProcessStack returns the stack address reserved for pid.
func (c *Config) ProcessStack(pid kernel.PID) uintptr {
	if pid == kernel.KernelPID {
		return c.KernelStack.Start
	}
	return c.StackBase + uintptr(pid-1)*c.StackSize
}

// Level returns the configured log level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

type setter func(c *Config, value string) bool

func addrSetter(field func(*Config) *uintptr) setter {
	return func(c *Config, value string) bool {
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return false
		}
		*field(c) = uintptr(v)
		return true
	}
}

func boolSetter(field func(*Config) *bool) setter {
	return func(c *Config, value string) bool {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return false
		}
		*field(c) = v
		return true
	}
}

var setters = map[string]setter{
	"mem.code_start":  addrSetter(func(c *Config) *uintptr { return &c.KernelCode.Start }),
	"mem.code_size":   addrSetter(func(c *Config) *uintptr { return &c.KernelCode.Size }),
	"mem.stack_start": addrSetter(func(c *Config) *uintptr { return &c.KernelStack.Start }),
	"mem.stack_size":  addrSetter(func(c *Config) *uintptr { return &c.KernelStack.Size }),
	"mem.heap_start":  addrSetter(func(c *Config) *uintptr { return &c.KernelHeap.Start }),
	"mem.heap_size":   addrSetter(func(c *Config) *uintptr { return &c.KernelHeap.Size }),
	"mem.alloc_start": addrSetter(func(c *Config) *uintptr { return &c.AllocStart }),
	"mem.alloc_limit": addrSetter(func(c *Config) *uintptr { return &c.AllocLimit }),
	"proc.stack_base": addrSetter(func(c *Config) *uintptr { return &c.StackBase }),
	"proc.stack_size": addrSetter(func(c *Config) *uintptr { return &c.StackSize }),

	"fault.halt_on_violation": boolSetter(func(c *Config) *bool { return &c.HaltOnViolation }),
	"kernel.demo":             boolSetter(func(c *Config) *bool { return &c.Demo }),

	"log.level": func(c *Config, value string) bool {
		if hclog.LevelFromString(value) == hclog.NoLevel {
			return false
		}
		c.LogLevel = value
		return true
	},
}

// Keys returns the supported configuration keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set updates the setting identified by key. Numeric values may use a 0x
// or 0 prefix.
func (c *Config) Set(key, value string) *kernel.Error {
	fn, ok := setters[key]
	if !ok {
		return ErrUnknownKey
	}

	if !fn(c, value) {
		return ErrInvalidValue
	}

	return nil
}

// Load reads a JSON document from r. Settings missing from the document
// keep their default values.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// NamedBlock is a labelled memory block.
type NamedBlock struct {
	Name string
	Block
}

// Blocks returns the reserved memory blocks in address order: the three
// kernel blocks, the allocator arena and the process stack area.
func (c *Config) Blocks() []NamedBlock {
	blocks := []NamedBlock{
		{"kernel code", c.KernelCode},
		{"kernel stack", c.KernelStack},
		{"kernel heap", c.KernelHeap},
		{"allocator", Block{Start: c.AllocStart, Size: c.AllocLimit - c.AllocStart}},
		{"process stacks", Block{Start: c.StackBase, Size: (proc.MaxProcesses - 1) * c.StackSize}},
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Start < blocks[j].Start })
	return blocks
}

// Validate checks the memory layout and the log level.
func (c *Config) Validate() *kernel.Error {
	if c.AllocLimit <= c.AllocStart || c.StackSize == 0 || !mm.PageAligned(c.StackSize) || !mm.PageAligned(c.AllocStart) {
		return ErrInvalidLayout
	}

	blocks := c.Blocks()
	for i, b := range blocks {
		if b.Size == 0 || b.End() < b.Start {
			return ErrInvalidLayout
		}

		if i > 0 && blocks[i-1].End() > b.Start {
			return ErrOverlap
		}
	}

	if c.Level() == hclog.NoLevel {
		return ErrInvalidLogLevel
	}

	return nil
}
