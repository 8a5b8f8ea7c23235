// Package timer defines the interface implemented by system timer drivers.
package timer

import "minicore/device"

// Device is implemented by drivers for devices that raise a periodic
// interrupt.
type Device interface {
	device.Driver

	// Frequency returns the number of interrupts raised per second.
	Frequency() uint32

	// IRQ returns the interrupt line the timer is wired to.
	IRQ() uint8
}
