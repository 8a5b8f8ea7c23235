package irq

// Vector describes an x86 interrupt/exception/trap slot.
type Vector uint8

const (
	// NumVectors is the number of entries in the interrupt vector table.
	NumVectors = 256

	// FirstIRQVector is the first vector that is not reserved for CPU
	// exceptions. The PIC is remapped so that IRQ 0 arrives here.
	FirstIRQVector = Vector(32)

	// NumIRQs is the number of IRQ lines served by the master/slave PIC
	// pair.
	NumIRQs = 16
)

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = Vector(0)

	// Debug is raised by debug traps and breakpoint registers.
	Debug = Vector(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems.
	NMI = Vector(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = Vector(3)

	// Overflow is raised by the INTO instruction when OF is set.
	Overflow = Vector(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = Vector(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = Vector(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an FPU
	// instruction while no FPU is available.
	DeviceNotAvailable = Vector(7)

	// DoubleFault occurs when an exception is raised while the CPU is
	// trying to invoke the handler for a prior exception.
	DoubleFault = Vector(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = Vector(10)

	// SegmentNotPresent occurs when the CPU attempts to load a segment
	// whose present bit is cleared.
	SegmentNotPresent = Vector(11)

	// StackSegmentFault occurs when the stack segment limit checks fail.
	StackSegmentFault = Vector(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = Vector(13)

	// PageFaultException occurs when a page directory or table entry is
	// not present or when a privilege and/or RW protection check fails.
	PageFaultException = Vector(14)

	// FloatingPointException is raised by x87 instructions with an
	// unmasked pending exception.
	FloatingPointException = Vector(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = Vector(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = Vector(18)
)

var exceptionNames = [FirstIRQVector]string{
	"Division By Zero",
	"Debug",
	"Non Maskable Interrupt",
	"Breakpoint",
	"Into Detected Overflow",
	"Out of Bounds",
	"Invalid Opcode",
	"No Coprocessor",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Bad TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection Fault",
	"Page Fault",
	"Unknown Interrupt",
	"Coprocessor Fault",
	"Alignment Check",
	"Machine Check",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
}

// ExceptionName returns the canonical name of a CPU exception vector or
// "Unknown Exception" for vectors outside the exception range.
func ExceptionName(v Vector) string {
	if v < FirstIRQVector {
		return exceptionNames[v]
	}
	return "Unknown Exception"
}

// IsException returns true if v is reserved for CPU exceptions.
func (v Vector) IsException() bool {
	return v < FirstIRQVector
}

// IRQ returns the PIC line that raises v and true, or false if v is not
// wired to the PIC.
func (v Vector) IRQ() (uint8, bool) {
	if v < FirstIRQVector || v >= FirstIRQVector+NumIRQs {
		return 0, false
	}
	return uint8(v - FirstIRQVector), true
}

// IRQVector returns the vector that IRQ line irq is delivered on.
func IRQVector(irq uint8) Vector {
	return FirstIRQVector + Vector(irq)
}
