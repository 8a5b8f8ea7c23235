// Package device defines the interfaces implemented by device drivers and the
// registry that the hal package uses to probe for hardware.
package device

import (
	"io"
	"minicore/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprint.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

const (
	// DetectOrderEarly specifies that the driver's probe function should
	// be executed at the beginning of the HW detection phase. It is used
	// by output devices so that the log lines of every later probe are
	// visible as they happen.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderPlatform specifies that the driver's probe function
	// should be executed once an output device is available. It is used
	// by the platform devices that are wired to the PIC (e.g. the system
	// timer).
	DetectOrderPlatform DetectOrder = 0
)

// DriverInfo is used by device drivers to register themselves with the
// hal package.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection step the probe
	// function should be invoked.
	Order DetectOrder

	// Probe is a function that scans for the presence of the device and
	// returns a driver for it or nil if the device is not present.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface. Drivers are sorted by their detection order.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var (
	// registeredDrivers is populated by the drivers' init functions.
	registeredDrivers DriverInfoList
)

// RegisterDriver adds the supplied driver info to the list of drivers that
// the hal package probes for.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
