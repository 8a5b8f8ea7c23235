package irq

import (
	"io"
	"minicore/kernel/kfmt"
)

// Registers contains a snapshot of the interrupted context. The trap entry
// stubs push the fields in the same order as they are declared so that a
// pointer to the top of the trap frame can be passed to Dispatch as-is.
//
// Handlers may modify the snapshot; the stubs restore the registers from it
// before returning from the trap. The scheduler relies on this to resume a
// different task.
type Registers struct {
	DS uint32

	// General purpose registers in PUSHA order.
	EDI uint32
	ESI uint32
	EBP uint32
	ESP uint32
	EBX uint32
	EDX uint32
	ECX uint32
	EAX uint32

	// Vector is the number of the interrupt that triggered the trap.
	Vector uint32

	// ErrorCode contains the error code pushed by the CPU for the
	// exceptions that supply one or 0 otherwise.
	ErrorCode uint32

	// The return frame used by IRET.
	EIP     uint32
	CS      uint32
	EFlags  uint32
	UserESP uint32
	SS      uint32
}

// HasErrorCode returns true if the CPU pushes an error code when raising
// the exception that triggered this trap.
func (r *Registers) HasErrorCode() bool {
	switch Vector(r.Vector) {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault, GPFException, PageFaultException, AlignmentCheck:
		return true
	default:
		return false
	}
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %8x ESP = %8x\n", r.EBP, r.ESP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "DS  = %8x SS  = %8x\n", r.DS, r.SS)
	kfmt.Fprintf(w, "EFL = %8x INT = %8x\n", r.EFlags, r.Vector)
	if r.HasErrorCode() {
		kfmt.Fprintf(w, "ERR = %8x\n", r.ErrorCode)
	}
}
