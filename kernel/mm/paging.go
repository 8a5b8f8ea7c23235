package mm

import (
	"minicore/kernel"
	"unsafe"
)

const (
	// EntriesPerTable is the number of entries in a page directory or a
	// page table.
	EntriesPerTable = 1024

	// IdentityMapSize is the size of the region at the start of physical
	// memory that the kernel page tables map 1:1.
	IdentityMapSize = identityMappedTables * EntriesPerTable * PageSize

	identityMappedTables = 1

	// a virtual address is split into a 10-bit directory index, a 10-bit
	// table index and a 12-bit page offset.
	pdShift   = 22
	ptShift   = PageShift
	indexMask = EntriesPerTable - 1
)

// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
var ErrInvalidMapping = &kernel.Error{Module: "mm", Message: "virtual address does not point to a mapped physical page"}

type pageTable [EntriesPerTable]pageTableEntry

var (
	pageDirectory pageTable
	pageTables    [identityMappedTables]pageTable
)

// InitPaging populates the kernel page directory so that the first
// IdentityMapSize bytes of physical memory are identity-mapped as present
// and writable. The structures are prepared for a future switch to paged
// mode but are not loaded into CR3.
func InitPaging() {
	for i := range pageDirectory {
		pageDirectory[i] = 0
	}

	for tableIndex := range pageTables {
		table := &pageTables[tableIndex]
		for entryIndex := range table {
			pte := &table[entryIndex]
			*pte = 0
			pte.SetFrame(Frame(tableIndex*EntriesPerTable + entryIndex))
			pte.SetFlags(FlagPresent | FlagRW)
		}

		pde := &pageDirectory[tableIndex]
		pde.SetFrame(FrameFromAddress(uintptr(unsafe.Pointer(table))))
		pde.SetFlags(FlagPresent | FlagRW)
	}
}

// Translate returns the physical address that corresponds to the supplied
// virtual address according to the kernel page tables or ErrInvalidMapping
// if the virtual address is not mapped.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pdIndex := (virtAddr >> pdShift) & indexMask
	if !pageDirectory[pdIndex].HasFlags(FlagPresent) || pdIndex >= identityMappedTables {
		return 0, ErrInvalidMapping
	}

	pte := pageTables[pdIndex][(virtAddr>>ptShift)&indexMask]
	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + PageOffset(virtAddr), nil
}
