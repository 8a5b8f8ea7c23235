// Package pit provides a driver for the 8253/8254 programmable interval timer.
package pit

import (
	"io"
	"minicore/device"
	"minicore/kernel"
	"minicore/kernel/cpu"
	"minicore/kernel/irq"
	"minicore/kernel/kfmt"
)

const (
	// BaseFrequency is the frequency of the oscillator that drives the PIT.
	BaseFrequency = 1193182

	// DefaultFrequency is the rate at which channel 0 raises IRQ0.
	DefaultFrequency = 100

	channel0Port = 0x40
	commandPort  = 0x43

	// channel 0, lobyte/hibyte access, mode 3 (square wave generator),
	// binary counting.
	cmdChannel0SquareWave = 0x36

	// the PIT channel 0 output is wired to IRQ0.
	timerIRQ = 0
)

var (
	// portWriteByteFn is mocked by tests and is automatically inlined by
	// the compiler.
	portWriteByteFn = cpu.PortWriteByte

	errBadFrequency = &kernel.Error{Module: "pit", Message: "unsupported timer frequency"}
)

// PIT drives channel 0 of the programmable interval timer.
type PIT struct {
	frequency uint32
	divisor   uint16

	// ports overrides the CPU port space if set.
	ports irq.PortIO
}

// New returns a PIT driver that programs channel 0 to fire at the given
// frequency.
func New(frequency uint32) *PIT {
	return &PIT{frequency: frequency}
}

// NewWithPorts returns a PIT driver that is programmed through ports instead
// of the CPU I/O instructions.
func NewWithPorts(frequency uint32, ports irq.PortIO) *PIT {
	return &PIT{frequency: frequency, ports: ports}
}

// DriverName returns the name of this driver.
func (p *PIT) DriverName() string {
	return "pit"
}

// DriverVersion returns the version of this driver.
func (p *PIT) DriverVersion() (uint16, uint16, uint16) {
	return 1, 0, 0
}

// DriverInit programs channel 0 as a square wave generator running at the
// configured frequency.
func (p *PIT) DriverInit(w io.Writer) *kernel.Error {
	if p.frequency == 0 {
		return errBadFrequency
	}

	divisor := BaseFrequency / p.frequency
	if divisor == 0 || divisor > 0xffff {
		return errBadFrequency
	}

	p.divisor = uint16(divisor)
	p.out(commandPort, cmdChannel0SquareWave)
	p.out(channel0Port, uint8(p.divisor))
	p.out(channel0Port, uint8(p.divisor>>8))

	kfmt.Fprintf(w, "channel 0 running at %dHz (divisor %d)\n", p.frequency, p.divisor)
	return nil
}

// Divisor returns the reload value programmed into channel 0. It is zero
// until DriverInit succeeds.
func (p *PIT) Divisor() uint16 {
	return p.divisor
}

func (p *PIT) out(port uint16, val uint8) {
	if p.ports != nil {
		p.ports.Out8(port, val)
		return
	}
	portWriteByteFn(port, val)
}

// Frequency returns the number of timer interrupts per second.
func (p *PIT) Frequency() uint32 {
	return p.frequency
}

// IRQ returns the interrupt line raised by the timer.
func (p *PIT) IRQ() uint8 {
	return timerIRQ
}

func probeForPIT() device.Driver {
	return New(DefaultFrequency)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderPlatform,
		Probe: probeForPIT,
	})
}
