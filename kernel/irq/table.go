// Package irq implements the interrupt dispatch layer: the vector table, the
// unhandled exception policy and the 8259A PIC acknowledgment protocol.
package irq

import (
	"minicore/kernel"
	"minicore/kernel/kfmt"
)

var (
	// fatalFn is mocked by tests and is automatically inlined by the compiler.
	fatalFn = kfmt.Fatal

	// errUnhandledException carries the name of the exception being
	// reported.
	errUnhandledException = &kernel.Error{Module: "irq", Message: "unhandled CPU exception"}

	// defaultTable is the table that the trap entry stubs dispatch to.
	defaultTable Table
)

// Handler is implemented by types that service an interrupt vector. Any
// changes a handler applies to the supplied Registers are propagated back to
// the interrupted context when the trap returns.
type Handler interface {
	HandleInterrupt(*Registers)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(*Registers)

// HandleInterrupt calls f(regs).
func (f HandlerFunc) HandleInterrupt(regs *Registers) {
	f(regs)
}

// Acknowledger signals the end of an interrupt to the controller that raised
// it.
type Acknowledger interface {
	Ack(irq uint8)
}

// Table maps interrupt vectors to handlers.
type Table struct {
	handlers [NumVectors]Handler
	pic      Acknowledger
}

// Init clears all registered handlers and sets the controller that receives
// end-of-interrupt notifications for IRQ vectors.
func (t *Table) Init(pic Acknowledger) {
	for i := range t.handlers {
		t.handlers[i] = nil
	}
	t.pic = pic
}

// Register installs h as the handler for vector v replacing any previously
// registered handler.
func (t *Table) Register(v Vector, h Handler) {
	t.handlers[v] = h
}

// Handler returns the handler registered for v or nil.
func (t *Table) Handler(v Vector) Handler {
	return t.handlers[v]
}

// Dispatch routes the trap described by regs to its handler.
//
// CPU exceptions without a handler are fatal: the exception name and the
// register snapshot are reported through kfmt.Fatal which halts the CPU. For vectors raised by
// the PIC an end-of-interrupt is sent before invoking the handler (if any) so
// the line is never left blocked. Other vectors (software interrupts) are
// passed to their handler; unhandled ones are ignored.
func (t *Table) Dispatch(regs *Registers) {
	v := Vector(regs.Vector)

	if v.IsException() {
		if h := t.handlers[v]; h != nil {
			h.HandleInterrupt(regs)
			return
		}

		errUnhandledException.Message = ExceptionName(v)
		fatalFn(errUnhandledException, regs)
		return
	}

	if line, ok := v.IRQ(); ok && t.pic != nil {
		t.pic.Ack(line)
	}

	if h := t.handlers[v]; h != nil {
		h.HandleInterrupt(regs)
	}
}

// Init prepares the default vector table.
func Init(pic Acknowledger) {
	defaultTable.Init(pic)
}

// Register installs h as the handler for vector v in the default table.
func Register(v Vector, h Handler) {
	defaultTable.Register(v, h)
}

// Dispatch is invoked by the trap entry stubs for every interrupt, exception
// and software trap with a pointer to the saved register snapshot.
func Dispatch(regs *Registers) {
	defaultTable.Dispatch(regs)
}
