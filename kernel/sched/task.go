package sched

import (
	"minicore/kernel/irq"
	"unsafe"
)

// State describes the lifecycle state of a task.
type State uint8

const (
	// Terminated tasks have finished running; their slot may be reused.
	Terminated State = iota

	// Ready tasks are waiting in the ready queue.
	Ready

	// Running is the state of the task that currently owns the CPU.
	Running

	// Sleeping tasks are parked until the tick counter reaches their
	// wake-up time.
	Sleeping
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Sleeping:
		return "SLEEPING"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Task is a task control block. Tasks live in a fixed pool owned by the
// Scheduler and each one carries its own stack.
type Task struct {
	id    uint32
	name  [NameLen]byte
	state State

	// ctx holds the register snapshot that is restored when the task is
	// dispatched.
	ctx irq.Registers

	timeSlice uint32
	remaining uint32
	wakeAt    uint64

	// link to the next task in the ready queue.
	next *Task

	stack [StackSize]byte
}

// ID returns the task id. Ids are never reused.
func (t *Task) ID() uint32 { return t.id }

// Name returns the task name. The returned string shares storage with the
// task slot and is only valid until the slot is reused.
func (t *Task) Name() string {
	n := 0
	for n < NameLen && t.name[n] != 0 {
		n++
	}

	if n == 0 {
		return ""
	}
	return unsafe.String(&t.name[0], n)
}

// State returns the task state.
func (t *Task) State() State { return t.state }

// WakeAt returns the tick at which a sleeping task becomes ready.
func (t *Task) WakeAt() uint64 { return t.wakeAt }

// Remaining returns the number of ticks left in the task's current slice.
func (t *Task) Remaining() uint32 { return t.remaining }

// Context returns the saved register snapshot for the task.
func (t *Task) Context() *irq.Registers { return &t.ctx }

// setName copies name into the fixed-size name field truncating it so that
// the field always ends with at least one NUL byte.
func (t *Task) setName(name string) {
	n := copy(t.name[:NameLen-1], name)
	for ; n < NameLen; n++ {
		t.name[n] = 0
	}
}
