// Package heap implements the kernel's first-fit heap allocator. The heap
// manages a single contiguous arena which is tiled by a doubly-linked list of
// blocks; each block carries an in-arena header followed by its payload.
package heap

import (
	"encoding/binary"
	"minicore/kernel"
	"minicore/kernel/mem"
	"minicore/kernel/sync"
	"unsafe"
)

const (
	// HeaderSize is the size of the header that precedes each block payload.
	HeaderSize = 16

	// Alignment is the granularity of block payload sizes.
	Alignment = 8

	// ArenaBase is the physical address of the kernel heap arena.
	ArenaBase = uintptr(0x00200000)

	// ArenaSize is the size of the kernel heap arena.
	ArenaSize = 1 * mem.Mb

	// a block is only split if the remainder can hold a header and more
	// than splitSlack bytes of payload.
	splitSlack = 32

	// size of the raw handle stashed in front of an aligned allocation.
	stashSize = 4
)

var (
	// ErrZeroSize is returned when a zero-byte allocation is requested.
	ErrZeroSize = &kernel.Error{Module: "heap", Message: "zero-sized allocation"}

	// ErrOutOfMemory is returned when no free block can satisfy a request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	// ErrOverflow is returned when the size of a zeroed allocation overflows.
	ErrOverflow = &kernel.Error{Module: "heap", Message: "allocation size overflow"}

	// ErrBadAlignment is returned when an aligned allocation requests an
	// alignment that is not a power of two.
	ErrBadAlignment = &kernel.Error{Module: "heap", Message: "alignment must be a power of two"}

	// ErrDoubleFree is returned by strict allocators when a block is freed
	// twice.
	ErrDoubleFree = &kernel.Error{Module: "heap", Message: "block already free"}

	// ErrInvalidPointer is returned by strict allocators when a pointer that
	// does not reference a heap block is released.
	ErrInvalidPointer = &kernel.Error{Module: "heap", Message: "pointer does not reference a heap block"}

	// ErrArenaSize is returned by Init when the arena is too small to hold a
	// single block or too large to be addressed by 32-bit offsets.
	ErrArenaSize = &kernel.Error{Module: "heap", Message: "unsupported arena size"}

	// ErrNotInitialized is returned when an allocator is used before Init.
	ErrNotInitialized = &kernel.Error{Module: "heap", Message: "allocator not initialized"}

	// KernelHeap is the allocator that manages the kernel heap arena.
	KernelHeap Allocator
)

// Ptr is a handle to a heap allocation. It holds the offset of the payload
// from the start of the arena; the zero Ptr is never a valid allocation.
type Ptr uint32

// Nil is the zero handle.
const Nil = Ptr(0)

// Config defines the run-time options for an Allocator.
type Config struct {
	// Strict makes Free report double and invalid frees instead of
	// silently ignoring them.
	Strict bool

	// Guard protects allocator operations. If not specified, interrupts
	// are masked for the duration of each operation.
	Guard sync.Guard
}

// Allocator is a first-fit allocator that manages a single arena.
type Allocator struct {
	arena  []byte
	base   uintptr
	strict bool
	guard  sync.Guard
	stats  Stats
}

// Init sets up the allocator to manage arena. After Init returns, the arena
// holds a single free block spanning all of its contents.
func (a *Allocator) Init(arena []byte, cfg Config) *kernel.Error {
	if len(arena) < HeaderSize+Alignment || uint64(len(arena)) >= uint64(noBlock) {
		return ErrArenaSize
	}

	a.arena = arena
	a.base = uintptr(unsafe.Pointer(&arena[0]))
	a.strict = cfg.Strict
	a.guard = cfg.Guard
	if a.guard == nil {
		a.guard = sync.IRQGuard{}
	}

	freeSize := uint32(len(arena)) - HeaderSize
	a.writeHeader(0, freeSize, true, noBlock, noBlock)
	a.stats = Stats{
		Total:       mem.Size(len(arena)),
		Free:        mem.Size(freeSize),
		LargestFree: mem.Size(freeSize),
	}

	return nil
}

// Alloc reserves a block with at least size bytes of payload using a
// first-fit scan of the block list.
func (a *Allocator) Alloc(size mem.Size) (Ptr, *kernel.Error) {
	if a.arena == nil {
		return Nil, ErrNotInitialized
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	return a.alloc(size)
}

func (a *Allocator) alloc(size mem.Size) (Ptr, *kernel.Error) {
	if size == 0 {
		return Nil, ErrZeroSize
	}

	// Requests larger than the arena can never be satisfied; checking this
	// first also keeps the rounded size within 32 bits.
	if size > mem.Size(len(a.arena)) {
		return Nil, ErrOutOfMemory
	}

	req := uint32(size.AlignUp(Alignment))
	for b := uint32(0); b != noBlock; b = a.next(b) {
		if !a.isFree(b) || a.size(b) < req {
			continue
		}

		if a.split(b, req) != noBlock {
			a.stats.Free -= HeaderSize
		}

		a.setFree(b, false)
		blockSize := mem.Size(a.size(b))
		a.stats.Used += blockSize
		a.stats.Free -= blockSize
		a.stats.Allocations++
		return payload(b), nil
	}

	return Nil, ErrOutOfMemory
}

// Free releases the block referenced by p and merges it with any adjacent
// free blocks. Releasing Nil is a no-op. Double frees and pointers that do
// not reference a heap block are ignored unless the allocator is strict.
func (a *Allocator) Free(p Ptr) *kernel.Error {
	if p == Nil {
		return nil
	}

	if a.arena == nil {
		return ErrNotInitialized
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	return a.free(p)
}

func (a *Allocator) free(p Ptr) *kernel.Error {
	b, ok := a.blockFor(p)
	if !ok {
		return a.violation(ErrInvalidPointer)
	}

	if a.isFree(b) {
		return a.violation(ErrDoubleFree)
	}

	a.setFree(b, true)
	blockSize := mem.Size(a.size(b))
	a.stats.Used -= blockSize
	a.stats.Free += blockSize
	a.stats.Frees++

	a.coalesce(b)
	return nil
}

func (a *Allocator) violation(err *kernel.Error) *kernel.Error {
	if a.strict {
		return err
	}
	return nil
}

// Realloc resizes the allocation referenced by p to size bytes. A Nil p
// behaves like Alloc and a zero size behaves like Free. If the existing block
// can hold the new size it is shrunk in place; otherwise a new block is
// allocated, the old contents are copied over and the old block is released.
// If the allocation fails, the original block is left untouched.
func (a *Allocator) Realloc(p Ptr, size mem.Size) (Ptr, *kernel.Error) {
	if p == Nil {
		return a.Alloc(size)
	}

	if size == 0 {
		return Nil, a.Free(p)
	}

	if a.arena == nil {
		return Nil, ErrNotInitialized
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	b, ok := a.blockFor(p)
	if !ok || a.isFree(b) {
		return Nil, ErrInvalidPointer
	}

	if size > mem.Size(len(a.arena)) {
		return Nil, ErrOutOfMemory
	}

	req := uint32(size.AlignUp(Alignment))
	cur := a.size(b)
	if cur >= req {
		if tail := a.split(b, req); tail != noBlock {
			shrunk := mem.Size(cur - req)
			a.stats.Used -= shrunk
			a.stats.Free += shrunk - HeaderSize
			a.coalesce(tail)
		}
		return p, nil
	}

	np, err := a.alloc(size)
	if err != nil {
		return Nil, err
	}

	copy(a.arena[np:uint32(np)+cur], a.arena[p:uint32(p)+cur])
	_ = a.free(p)
	return np, nil
}

// AllocZeroed reserves a zero-filled block large enough to hold count
// elements of the given size.
func (a *Allocator) AllocZeroed(count, size mem.Size) (Ptr, *kernel.Error) {
	total := count * size
	if count != 0 && total/count != size {
		return Nil, ErrOverflow
	}

	if a.arena == nil {
		return Nil, ErrNotInitialized
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	p, err := a.alloc(total)
	if err != nil {
		return Nil, err
	}

	b := uint32(p) - HeaderSize
	mem.Memset(a.arena[p:uint32(p)+a.size(b)], 0)
	return p, nil
}

// AllocAligned reserves size bytes whose machine address is a multiple of
// alignment. The returned handle must be released with FreeAligned.
func (a *Allocator) AllocAligned(size, alignment mem.Size) (Ptr, *kernel.Error) {
	if !alignment.IsPowerOfTwo() {
		return Nil, ErrBadAlignment
	}

	if size == 0 {
		return Nil, ErrZeroSize
	}

	if a.arena == nil {
		return Nil, ErrNotInitialized
	}

	arenaLen := mem.Size(len(a.arena))
	if size > arenaLen || alignment > arenaLen {
		return Nil, ErrOutOfMemory
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	raw, err := a.alloc(size + alignment + stashSize)
	if err != nil {
		return Nil, err
	}

	mask := uintptr(alignment) - 1
	addr := (a.base + uintptr(raw) + stashSize + mask) &^ mask
	aligned := Ptr(addr - a.base)
	binary.LittleEndian.PutUint32(a.arena[aligned-stashSize:], uint32(raw))

	return aligned, nil
}

// FreeAligned releases an allocation obtained via AllocAligned.
func (a *Allocator) FreeAligned(p Ptr) *kernel.Error {
	if p == Nil {
		return nil
	}

	if a.arena == nil {
		return ErrNotInitialized
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	if uint64(p) < HeaderSize+stashSize || uint64(p) >= uint64(len(a.arena)) {
		return a.violation(ErrInvalidPointer)
	}

	raw := Ptr(binary.LittleEndian.Uint32(a.arena[p-stashSize:]))
	if raw == Nil || raw >= p {
		return a.violation(ErrInvalidPointer)
	}

	return a.free(raw)
}

// ValidatePointer returns true if p points inside the payload area of the
// arena.
func (a *Allocator) ValidatePointer(p Ptr) bool {
	return uint64(p) >= HeaderSize && uint64(p) < uint64(len(a.arena))
}

// Bytes returns the payload of the block referenced by p. The returned slice
// spans the full block capacity which may exceed the requested size. Bytes
// returns nil if p does not reference an allocated block.
func (a *Allocator) Bytes(p Ptr) []byte {
	if a.arena == nil {
		return nil
	}

	restore := a.guard.Acquire()
	defer a.guard.Release(restore)

	b, ok := a.blockFor(p)
	if !ok || a.isFree(b) {
		return nil
	}

	end := uint32(p) + a.size(b)
	return a.arena[p:end:end]
}

// Address returns the machine address that corresponds to p.
func (a *Allocator) Address(p Ptr) uintptr {
	return a.base + uintptr(p)
}
