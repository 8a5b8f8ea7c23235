// Package cpu exposes the privileged x86 instructions used by the kernel.
// Every function without a body is implemented in assembly for the current
// GOARCH.
package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag is set.
func InterruptsEnabled() bool

// Halt disables interrupts and stops instruction execution. Calls to Halt
// never return.
func Halt()

// WaitForInterrupt enables interrupts and idles the CPU until the next
// interrupt has been serviced.
func WaitForInterrupt()

// RaiseScheduleTrap issues a software interrupt on the scheduler's yield
// vector (0x81). It returns once the interrupted context is resumed.
func RaiseScheduleTrap()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// Vendor writes the 12-byte vendor identification string reported by CPUID
// leaf 0 into buf.
func Vendor(buf *[12]byte) {
	_, ebx, ecx, edx := cpuidFn(0)
	for i, reg := range [3]uint32{ebx, edx, ecx} {
		buf[i*4] = byte(reg)
		buf[i*4+1] = byte(reg >> 8)
		buf[i*4+2] = byte(reg >> 16)
		buf[i*4+3] = byte(reg >> 24)
	}
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// Ports performs port I/O using the in/out instructions.
type Ports struct{}

// Out8 writes val to port.
func (Ports) Out8(port uint16, val uint8) { PortWriteByte(port, val) }

// In8 reads a byte from port.
func (Ports) In8(port uint16) uint8 { return PortReadByte(port) }
