// Package sched implements a preemptive round-robin scheduler for a fixed
// pool of kernel tasks. Task switches always happen at a trap boundary: the
// scheduler swaps the register snapshot that the trap entry stub hands to the
// interrupt dispatcher and the stub resumes whichever context the snapshot
// describes when it returns.
package sched

import (
	"io"
	"minicore/kernel"
	"minicore/kernel/cpu"
	"minicore/kernel/irq"
	"minicore/kernel/kfmt"
	"minicore/kernel/sync"
)

const (
	// MaxTasks is the size of the task pool.
	MaxTasks = 8

	// StackSize is the size of the private stack of each task.
	StackSize = 4096

	// DefaultTimeSlice is the number of timer ticks a task may run before
	// being preempted.
	DefaultTimeSlice = 10

	// NameLen is the size of the task name field including the
	// terminating NUL byte.
	NameLen = 32

	// TimerVector is the vector raised by the system timer (IRQ0).
	TimerVector = irq.FirstIRQVector

	// YieldVector is the software interrupt used by tasks to enter the
	// scheduler voluntarily.
	YieldVector = irq.Vector(0x81)
)

var (
	// ErrNilEntry is returned when creating a task without an entry point.
	ErrNilEntry = &kernel.Error{Module: "sched", Message: "task entry point is nil"}

	// ErrPoolExhausted is returned when all task slots are in use.
	ErrPoolExhausted = &kernel.Error{Module: "sched", Message: "task pool exhausted"}

	// ErrNotInitialized is returned when a scheduler is used before Init.
	ErrNotInitialized = &kernel.Error{Module: "sched", Message: "scheduler not initialized"}

	// raiseTrapFn is mocked by tests and is automatically inlined by the
	// compiler.
	raiseTrapFn = cpu.RaiseScheduleTrap
)

// Config defines the run-time options for a Scheduler.
type Config struct {
	// TimeSlice overrides DefaultTimeSlice if non-zero.
	TimeSlice uint32

	// GraceTicks is the number of ticks after Init during which sleepers
	// are woken up but no task is preempted or dispatched.
	GraceTicks uint64

	// Guard protects the scheduler state. If not specified, interrupts are
	// masked while the state is being updated.
	Guard sync.Guard

	// Trap enters the scheduler from task context. It must cause Schedule
	// to be invoked with the caller's register snapshot. If not specified,
	// YieldVector is raised.
	Trap func()
}

// Scheduler multiplexes the CPU between the tasks in its pool.
type Scheduler struct {
	tasks   [MaxTasks]Task
	ready   queue
	current *Task

	// idle holds the context of the boot thread which runs whenever no
	// task is runnable.
	idle        irq.Registers
	idleRunning bool

	nextID uint32
	ticks  uint64
	cfg    Config
}

// Init resets the scheduler. All task slots are marked as terminated and the
// calling thread becomes the idle context.
func (s *Scheduler) Init(cfg Config) {
	if cfg.TimeSlice == 0 {
		cfg.TimeSlice = DefaultTimeSlice
	}
	if cfg.Guard == nil {
		cfg.Guard = sync.IRQGuard{}
	}
	if cfg.Trap == nil {
		cfg.Trap = raiseTrapFn
	}

	for i := range s.tasks {
		s.tasks[i].id = 0
		s.tasks[i].state = Terminated
		s.tasks[i].next = nil
	}

	s.ready = queue{}
	s.current = nil
	s.idle = irq.Registers{}
	s.idleRunning = true
	s.nextID = 1
	s.ticks = 0
	s.cfg = cfg
}

func (s *Scheduler) initialized() bool {
	return s.cfg.Guard != nil && s.cfg.Trap != nil
}

// guard returns the guard protecting the scheduler state. Before Init there
// is no state shared with interrupt handlers so nothing needs masking.
func (s *Scheduler) guard() sync.Guard {
	if s.cfg.Guard == nil {
		return sync.NopGuard{}
	}
	return s.cfg.Guard
}

// Start makes s the scheduler that terminates tasks returning from their
// entry point.
func (s *Scheduler) Start() {
	active = s
}

// CreateTask sets up a new task that will start executing entry once it is
// dispatched. Names longer than NameLen-1 bytes are truncated. The task is
// appended to the ready queue but is not run immediately.
func (s *Scheduler) CreateTask(name string, entry func()) (*Task, *kernel.Error) {
	if entry == nil {
		return nil, ErrNilEntry
	}

	if !s.initialized() {
		return nil, ErrNotInitialized
	}

	restore := s.cfg.Guard.Acquire()
	defer s.cfg.Guard.Release(restore)

	var t *Task
	for i := range s.tasks {
		if s.tasks[i].state == Terminated {
			t = &s.tasks[i]
			break
		}
	}

	if t == nil {
		return nil, ErrPoolExhausted
	}

	t.id = s.nextID
	s.nextID++
	t.setName(name)
	buildContext(t, entry)
	t.timeSlice = s.cfg.TimeSlice
	t.remaining = t.timeSlice
	t.wakeAt = 0
	t.state = Ready
	s.ready.push(t)

	return t, nil
}

// Tick advances the tick counter, wakes up any sleeping tasks whose deadline
// has passed and charges the running task for the elapsed tick. When the
// running task exhausts its slice, or when the CPU is idle and a task is
// ready, a task switch is performed by rewriting frame.
func (s *Scheduler) Tick(frame *irq.Registers) {
	if !s.initialized() {
		return
	}

	restore := s.cfg.Guard.Acquire()
	defer s.cfg.Guard.Release(restore)

	s.ticks++
	for i := range s.tasks {
		if t := &s.tasks[i]; t.state == Sleeping && t.wakeAt <= s.ticks {
			t.state = Ready
			s.ready.push(t)
		}
	}

	if s.ticks <= s.cfg.GraceTicks {
		return
	}

	switch cur := s.current; {
	case cur != nil && cur.state == Running:
		if cur.remaining > 0 {
			cur.remaining--
		}
		if cur.remaining == 0 {
			s.schedule(frame)
		}
	case cur == nil && s.ready.len != 0:
		s.schedule(frame)
	}
}

// Schedule selects the next task to run. The interrupted context described by
// frame is saved and frame is overwritten with the context of the selected
// task. A running task that is switched out is appended to the ready queue.
func (s *Scheduler) Schedule(frame *irq.Registers) {
	if !s.initialized() {
		return
	}

	restore := s.cfg.Guard.Acquire()
	defer s.cfg.Guard.Release(restore)

	s.schedule(frame)
}

func (s *Scheduler) schedule(frame *irq.Registers) {
	next := s.ready.pop()
	if next == nil {
		if cur := s.current; cur != nil && cur.state == Running {
			cur.remaining = cur.timeSlice
			return
		}

		// Nothing to run; fall back to the idle context.
		s.saveContext(frame)
		s.current = nil
		if !s.idleRunning {
			*frame = s.idle
			s.idleRunning = true
		}
		return
	}

	s.saveContext(frame)
	if prev := s.current; prev != nil && prev.state == Running {
		prev.state = Ready
		prev.remaining = prev.timeSlice
		s.ready.push(prev)
	}

	next.state = Running
	next.remaining = next.timeSlice
	s.current = next
	s.idleRunning = false
	*frame = next.ctx
}

// saveContext stores frame as the context of whatever is being switched out.
// The context of a task that has exited is discarded.
func (s *Scheduler) saveContext(frame *irq.Registers) {
	switch {
	case s.current != nil:
		s.current.ctx = *frame
	case s.idleRunning:
		s.idle = *frame
	}
}

// Yield gives up the remainder of the calling task's slice.
func (s *Scheduler) Yield() {
	if !s.initialized() {
		return
	}
	s.cfg.Trap()
}

// Sleep suspends the calling task for the given number of ticks.
func (s *Scheduler) Sleep(ticks uint64) {
	if !s.initialized() {
		return
	}

	restore := s.cfg.Guard.Acquire()
	if cur := s.current; cur != nil {
		cur.state = Sleeping
		cur.wakeAt = s.ticks + ticks
	}
	s.cfg.Trap()
	s.cfg.Guard.Release(restore)
}

// Exit terminates the calling task. Once the trap switches away from the
// task it is never resumed, so Exit does not return when called from a task
// running on the CPU.
func (s *Scheduler) Exit() {
	if !s.initialized() {
		return
	}

	restore := s.cfg.Guard.Acquire()
	if cur := s.current; cur != nil {
		cur.state = Terminated
		s.current = nil
	}
	s.cfg.Trap()
	s.cfg.Guard.Release(restore)
}

// HandleInterrupt implements irq.Handler. Timer interrupts advance the tick
// counter and schedule traps raised via YieldVector perform a task switch.
func (s *Scheduler) HandleInterrupt(regs *irq.Registers) {
	switch irq.Vector(regs.Vector) {
	case TimerVector:
		s.Tick(regs)
	case YieldVector:
		s.Schedule(regs)
	}
}

// Current returns the running task or nil if the CPU is idle.
func (s *Scheduler) Current() *Task {
	guard := s.guard()
	restore := guard.Acquire()
	defer guard.Release(restore)

	return s.current
}

// Ticks returns the number of timer ticks since Init.
func (s *Scheduler) Ticks() uint64 {
	guard := s.guard()
	restore := guard.Acquire()
	defer guard.Release(restore)

	return s.ticks
}

// ReadyLen returns the number of tasks in the ready queue.
func (s *Scheduler) ReadyLen() int {
	guard := s.guard()
	restore := guard.Acquire()
	defer guard.Release(restore)

	return s.ready.len
}

// Lookup returns the live task with the given id or nil if no such task
// exists.
func (s *Scheduler) Lookup(id uint32) *Task {
	guard := s.guard()
	restore := guard.Acquire()
	defer guard.Release(restore)

	for i := range s.tasks {
		if t := &s.tasks[i]; t.state != Terminated && t.id == id {
			return t
		}
	}
	return nil
}

// TaskVisitor is invoked by Visit for each live task. The visitor must
// return true to continue or false to abort the scan.
type TaskVisitor func(*Task) bool

// Visit invokes visitor for each live task in pool order.
func (s *Scheduler) Visit(visitor TaskVisitor) {
	guard := s.guard()
	restore := guard.Acquire()
	defer guard.Release(restore)

	for i := range s.tasks {
		if t := &s.tasks[i]; t.state != Terminated {
			if !visitor(t) {
				return
			}
		}
	}
}

// DumpTo writes the task table to w.
func (s *Scheduler) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "%3s %-31s %10s\n", "ID", "Name", "State")
	s.Visit(func(t *Task) bool {
		kfmt.Fprintf(w, "%3d %-31s %10s\n", t.id, t.Name(), t.state.String())
		return true
	})
}
