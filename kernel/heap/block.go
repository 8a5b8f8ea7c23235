package heap

import "encoding/binary"

// Block header layout. Each block starts with a HeaderSize-byte header
// followed by its payload:
//
//	+0  payload size
//	+4  flags
//	+8  arena offset of the next block (noBlock if last)
//	+12 arena offset of the previous block (noBlock if first)
//
// All fields are stored as little-endian uint32 values.
const (
	hdrSizeOffset  = 0
	hdrFlagsOffset = 4
	hdrNextOffset  = 8
	hdrPrevOffset  = 12

	flagFree = uint32(1)

	// noBlock marks a missing neighbor link.
	noBlock = ^uint32(0)
)

func (a *Allocator) field(b, off uint32) uint32 {
	return binary.LittleEndian.Uint32(a.arena[b+off:])
}

func (a *Allocator) setField(b, off, val uint32) {
	binary.LittleEndian.PutUint32(a.arena[b+off:], val)
}

func (a *Allocator) size(b uint32) uint32   { return a.field(b, hdrSizeOffset) }
func (a *Allocator) next(b uint32) uint32   { return a.field(b, hdrNextOffset) }
func (a *Allocator) prev(b uint32) uint32   { return a.field(b, hdrPrevOffset) }
func (a *Allocator) isFree(b uint32) bool   { return a.field(b, hdrFlagsOffset)&flagFree != 0 }
func (a *Allocator) setSize(b, size uint32) { a.setField(b, hdrSizeOffset, size) }
func (a *Allocator) setNext(b, next uint32) { a.setField(b, hdrNextOffset, next) }
func (a *Allocator) setPrev(b, prev uint32) { a.setField(b, hdrPrevOffset, prev) }
func (a *Allocator) setFree(b uint32, free bool) {
	var flags uint32
	if free {
		flags = flagFree
	}
	a.setField(b, hdrFlagsOffset, flags)
}

func (a *Allocator) writeHeader(b, size uint32, free bool, next, prev uint32) {
	a.setSize(b, size)
	a.setFree(b, free)
	a.setNext(b, next)
	a.setPrev(b, prev)
}

// payload returns the handle for the payload of block b.
func payload(b uint32) Ptr {
	return Ptr(b + HeaderSize)
}

// split carves a free tail block out of b if b is larger than req by more
// than one header plus splitSlack bytes. It returns the offset of the new
// tail block or noBlock if b was left intact. Callers are responsible for
// updating the statistics counters.
func (a *Allocator) split(b, req uint32) uint32 {
	size := a.size(b)
	if size <= req+HeaderSize+splitSlack {
		return noBlock
	}

	tail := b + HeaderSize + req
	next := a.next(b)
	a.writeHeader(tail, size-req-HeaderSize, true, next, b)
	if next != noBlock {
		a.setPrev(next, tail)
	}

	a.setNext(b, tail)
	a.setSize(b, req)
	return tail
}

// absorbNext merges the block following b into b.
func (a *Allocator) absorbNext(b uint32) {
	n := a.next(b)
	nn := a.next(n)
	a.setSize(b, a.size(b)+HeaderSize+a.size(n))
	a.setNext(b, nn)
	if nn != noBlock {
		a.setPrev(nn, b)
	}
	a.stats.Free += HeaderSize
}

// coalesce merges the free block b with all of its free neighbors and
// returns the offset of the resulting block.
func (a *Allocator) coalesce(b uint32) uint32 {
	for n := a.next(b); n != noBlock && a.isFree(n); n = a.next(b) {
		a.absorbNext(b)
	}

	for p := a.prev(b); p != noBlock && a.isFree(p); p = a.prev(b) {
		a.absorbNext(p)
		b = p
	}

	return b
}

// blockFor maps a payload handle back to its block header. The header is
// located via a fixed back-offset and is only accepted if it is linked into
// the block list; this rejects handles that point outside the arena, into
// the middle of a payload or to a block that has since been coalesced.
func (a *Allocator) blockFor(p Ptr) (uint32, bool) {
	arenaLen := uint64(len(a.arena))
	if uint64(p) < HeaderSize || uint64(p) >= arenaLen {
		return 0, false
	}

	b := uint32(p) - HeaderSize
	end := uint64(b) + HeaderSize + uint64(a.size(b))
	if end > arenaLen {
		return 0, false
	}

	switch prev := a.prev(b); {
	case prev == noBlock:
		if b != 0 {
			return 0, false
		}
	case prev >= b || uint64(prev)+HeaderSize > arenaLen || a.next(prev) != b:
		return 0, false
	}

	switch next := a.next(b); {
	case next == noBlock:
		if end != arenaLen {
			return 0, false
		}
	case uint64(next) != end:
		return 0, false
	}

	return b, true
}
