package sched

import (
	"encoding/binary"
	"minicore/kernel/cpu"
	"minicore/kernel/irq"
	"unsafe"
)

const (
	// Segment selectors for the flat kernel code and data segments set up
	// by the boot loader.
	kernelCodeSelector = 0x08
	kernelDataSelector = 0x10

	// initialEFlags has IF and the reserved bit 1 set.
	initialEFlags = 0x202
)

var (
	// active is the scheduler that receives Exit calls from tasks that
	// return from their entry point.
	active *Scheduler

	// haltFn is mocked by tests and is automatically inlined by the compiler.
	haltFn = cpu.Halt
)

// funcPC returns the entry address of the code behind fn.
func funcPC(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// funcContext returns the closure context pointer for fn. The Go calling
// convention expects it in the context register when fn is entered.
func funcContext(fn func()) uintptr {
	return *(*uintptr)(unsafe.Pointer(&fn))
}

// taskReturn is pushed as the return address of every task entry point. A
// task that returns from its entry point ends up here and is terminated.
func taskReturn() {
	if active != nil {
		active.Exit()
	}

	// Exit never returns once the task has been switched out.
	haltFn()
}

// buildContext prepares the initial register snapshot for t so that the
// first dispatch starts executing entry on the task's private stack.
func buildContext(t *Task, entry func()) {
	base := uintptr(unsafe.Pointer(&t.stack[0]))
	top := (base + StackSize) &^ 3

	// Reserve a word for the return address of the entry point.
	sp := top - 4
	binary.LittleEndian.PutUint32(t.stack[sp-base:], uint32(funcPC(taskReturn)))

	t.ctx = irq.Registers{
		DS:     kernelDataSelector,
		ESP:    uint32(sp),
		EDX:    uint32(funcContext(entry)),
		EIP:    uint32(funcPC(entry)),
		CS:     kernelCodeSelector,
		EFlags: initialEFlags,
		SS:     kernelDataSelector,
	}
}
