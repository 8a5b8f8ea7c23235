package heap

import (
	"io"
	"minicore/kernel/kfmt"
	"minicore/kernel/mem"
)

// maxDumpBlocks limits the number of blocks listed by DumpTo.
const maxDumpBlocks = 20

// Stats contains the allocator usage counters.
type Stats struct {
	// Total is the size of the arena including block headers.
	Total mem.Size

	// Used and Free hold the payload bytes in allocated and free blocks.
	// Together with the headers they always add up to Total.
	Used mem.Size
	Free mem.Size

	Allocations uint64
	Frees       uint64

	// LargestFree is the payload size of the largest free block.
	LargestFree mem.Size
}

// DumpTo writes a human-readable version of the counters to w.
func (s Stats) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "=== Memory Statistics ===\n")
	kfmt.Fprintf(w, "Total Memory: %d bytes\n", uint64(s.Total))
	kfmt.Fprintf(w, "Used Memory: %d bytes\n", uint64(s.Used))
	kfmt.Fprintf(w, "Free Memory: %d bytes\n", uint64(s.Free))
	kfmt.Fprintf(w, "Allocations: %d\n", s.Allocations)
	kfmt.Fprintf(w, "Frees: %d\n", s.Frees)
	kfmt.Fprintf(w, "Largest Free Block: %d bytes\n", uint64(s.LargestFree))
}

// Block describes a heap block as reported by VisitBlocks.
type Block struct {
	// Offset of the block header from the start of the arena.
	Offset uint32

	// Payload size.
	Size mem.Size

	Free bool
}

// BlockVisitor is invoked by VisitBlocks for each block in the heap. The
// visitor must return true to continue or false to abort the scan.
type BlockVisitor func(Block) bool

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	if a.arena == nil {
		return Stats{}
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	s := a.stats
	s.LargestFree = 0
	for b := uint32(0); b != noBlock; b = a.next(b) {
		if size := mem.Size(a.size(b)); a.isFree(b) && size > s.LargestFree {
			s.LargestFree = size
		}
	}

	return s
}

// VisitBlocks invokes visitor for each block in arena order.
func (a *Allocator) VisitBlocks(visitor BlockVisitor) {
	if a.arena == nil {
		return
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	for b := uint32(0); b != noBlock; b = a.next(b) {
		if !visitor(Block{Offset: b, Size: mem.Size(a.size(b)), Free: a.isFree(b)}) {
			return
		}
	}
}

// CheckIntegrity walks the block list and returns false if any block lies
// outside the arena, if the forward and backward links disagree, if the
// blocks do not tile the arena exactly or if two free blocks are adjacent.
// An allocator without an arena is never intact.
func (a *Allocator) CheckIntegrity() bool {
	if a.arena == nil {
		return false
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	var (
		arenaLen  = uint64(len(a.arena))
		expect    uint64
		prev      = noBlock
		prevFree  bool
		maxBlocks = arenaLen / HeaderSize
		count     uint64
	)

	for b := uint32(0); b != noBlock; b = a.next(b) {
		if uint64(b) != expect || uint64(b)+HeaderSize > arenaLen {
			return false
		}

		if count++; count > maxBlocks {
			return false
		}

		end := uint64(b) + HeaderSize + uint64(a.size(b))
		if end > arenaLen || a.prev(b) != prev {
			return false
		}

		free := a.isFree(b)
		if free && prevFree {
			return false
		}

		prev, prevFree, expect = b, free, end
	}

	return expect == arenaLen
}

// DumpTo writes the block list to w.
func (a *Allocator) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "=== Heap Debug ===\n")
	if a.arena == nil {
		return
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	b, index := uint32(0), 0
	for ; b != noBlock && index < maxDumpBlocks; b, index = a.next(b), index+1 {
		state := "USED"
		if a.isFree(b) {
			state = "FREE"
		}

		kfmt.Fprintf(w, "Block %d: Addr=0x%x, Size=%d, %s\n", index, a.base+uintptr(b), a.size(b), state)
	}

	if b != noBlock {
		kfmt.Fprintf(w, "... (more blocks)\n")
	}
}

// PrintMemoryMap writes the arena bounds to w.
func (a *Allocator) PrintMemoryMap(w io.Writer) {
	kfmt.Fprintf(w, "=== Memory Map ===\n")
	kfmt.Fprintf(w, "Kernel Heap Start: 0x%x\n", a.base)
	kfmt.Fprintf(w, "Kernel Heap End: 0x%x\n", a.base+uintptr(len(a.arena)))
	kfmt.Fprintf(w, "Heap Size: %d bytes\n", len(a.arena))
}
