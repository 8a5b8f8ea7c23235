// Package multiboot decodes the boot information that a multiboot2-compliant
// boot loader passes to the kernel. Only the tags that the kernel consumes are
// decoded: the kernel command line and the physical memory map.
package multiboot

import "unsafe"

const (
	// infoHeaderSize is the size of the total size and reserved words
	// that precede the tag list.
	infoHeaderSize = 8

	// tagHeaderSize is the size of the type and size words that start
	// each tag. Tags begin at 8-byte aligned offsets.
	tagHeaderSize = 8

	// mmapHeaderSize is the size of the entry size and entry version words
	// that precede the memory map entries.
	mmapHeaderSize = 8

	// mmapEntrySize is the size of a version 0 memory map entry.
	mmapEntrySize = 24
)

type tagType uint32

const (
	tagEnd       tagType = 0
	tagCmdLine   tagType = 1
	tagMemoryMap tagType = 6
)

var infoData uintptr

type tagHeader struct {
	tagType tagType

	// size includes the header but not the padding up to the next tag.
	size uint32
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

	// Any value >= memUnknown is reported as MemReserved.
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

// MemoryMapEntry describes a region of physical memory.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// End returns the address of the first byte past the region.
func (e MemoryMapEntry) End() uint64 {
	return e.PhysAddress + e.Length
}

// Contains returns true if [start, start+size) lies within the region.
func (e MemoryMapEntry) Contains(start, size uint64) bool {
	return start >= e.PhysAddress && start+size >= start && start+size <= e.End()
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(MemoryMapEntry) bool

// SetInfoPtr sets the address of the boot information. It must be invoked
// before any other function exported by this package. A zero address means
// that no boot information is available.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes visitor for each region in the memory map supplied
// by the boot loader. Regions of an unknown type are reported as reserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	payload, size, ok := findTag(tagMemoryMap)
	if !ok || size < mmapHeaderSize {
		return
	}

	entrySize := *(*uint32)(unsafe.Pointer(payload))
	if entrySize < mmapEntrySize {
		return
	}

	for off := uint32(mmapHeaderSize); off+entrySize <= size; off += entrySize {
		entry := *(*MemoryMapEntry)(unsafe.Pointer(payload + uintptr(off)))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// BootCmdLine returns the command line passed to the kernel by the boot
// loader, without the terminating NUL byte. The returned slice points to the
// boot information and must not be modified.
func BootCmdLine() []byte {
	payload, size, ok := findTag(tagCmdLine)
	if !ok {
		return nil
	}

	cmdLine := unsafe.Slice((*byte)(unsafe.Pointer(payload)), size)
	for i, ch := range cmdLine {
		if ch == 0 {
			return cmdLine[:i:i]
		}
	}
	return cmdLine
}

// BootOption looks up a "key=value" or "key" entry in the kernel command line
// and returns its value. The second return value is false if the key is not
// present. Lookups do not allocate memory so they can be performed before
// the kernel heap is available.
func BootOption(key string) ([]byte, bool) {
	cmdLine := BootCmdLine()

	for start := 0; start < len(cmdLine); {
		// skip separators
		if cmdLine[start] == ' ' {
			start++
			continue
		}

		end := start
		for end < len(cmdLine) && cmdLine[end] != ' ' {
			end++
		}

		field := cmdLine[start:end]
		if len(field) >= len(key) && string(field[:len(key)]) == key {
			switch {
			case len(field) == len(key): // nofoo
				return field[len(field):], true
			case field[len(key)] == '=': // foo=bar
				return field[len(key)+1:], true
			}
		}

		start = end
	}

	return nil, false
}

// HasBootFlag returns true if the kernel command line contains the supplied
// flag, either on its own or as the key of a "key=value" entry.
func HasBootFlag(flag string) bool {
	_, found := BootOption(flag)
	return found
}

// findTag returns the address and size of the payload of the first tag of the
// requested type. The scan ends at the end tag, at a malformed tag or at the
// end of the boot information, whichever comes first.
func findTag(typ tagType) (uintptr, uint32, bool) {
	if infoData == 0 {
		return 0, 0, false
	}

	totalSize := uintptr(*(*uint32)(unsafe.Pointer(infoData)))
	for off := uintptr(infoHeaderSize); off+tagHeaderSize <= totalSize; {
		hdr := (*tagHeader)(unsafe.Pointer(infoData + off))
		if hdr.tagType == tagEnd || hdr.size < tagHeaderSize || off+uintptr(hdr.size) > totalSize {
			break
		}

		if hdr.tagType == typ {
			return infoData + off + tagHeaderSize, hdr.size - tagHeaderSize, true
		}

		off += (uintptr(hdr.size) + 7) &^ 7
	}

	return 0, 0, false
}
