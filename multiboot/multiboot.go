// Package multiboot parses the multiboot2 information block that the boot
// loader hands to the kernel: the boot command line, the boot loader name
// and the physical memory map.
package multiboot

import (
	"strings"
	"unsafe"
)

var (
	infoData  uintptr
	cmdLineKV map[string]string
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader describes the header that precedes each tag.
type tagHeader struct {
	tagType tagType

	// The size of the tag including the header but not including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a physical memory region reported by the boot
// loader.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. It
// returns false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// SetInfoPtr updates the multiboot information pointer. It must be invoked
// before any other function exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
	cmdLineKV = nil
}

// VisitMemRegions invokes visitor for each memory region defined by the
// boot loader's memory map. Entries with an unknown type are reported as
// reserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += unsafe.Sizeof(*ptrMapHeader)

	for ; curPtr < endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		entry := *(*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}
	}
}

// AvailableMemory returns the number of bytes reported as available.
func AvailableMemory() uint64 {
	var total uint64
	VisitMemRegions(func(e *MemoryMapEntry) bool {
		if e.Type == MemAvailable {
			total += e.Length
		}
		return true
	})
	return total
}

// cString returns the NULL-terminated string stored in a tag payload.
func cString(ptr uintptr, size uint32) string {
	if size == 0 {
		return ""
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// BootLoaderName returns the name reported by the boot loader, if any.
func BootLoaderName() string {
	return cString(findTagByType(tagBootLoaderName))
}

// GetBootCmdLine returns the key-value pairs passed to the kernel on its
// command line. Flags without a value map to themselves.
func GetBootCmdLine() map[string]string {
	if cmdLineKV != nil {
		return cmdLineKV
	}

	cmdLineKV = make(map[string]string)
	for _, pair := range strings.Fields(cString(findTagByType(tagBootCmdLine))) {
		if k, v, found := strings.Cut(pair, "="); found {
			cmdLineKV[k] = v
		} else {
			cmdLineKV[k] = k
		}
	}

	return cmdLineKV
}

// findTagByType scans the multiboot info data for a tag of the specified
// type. It returns a pointer to the tag payload and the payload length, or
// (0, 0) if no such tag exists.
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
