// Package hal probes for the platform devices and keeps track of the drivers
// that were successfully initialized.
package hal

import (
	"minicore/device"
	"minicore/device/timer"
	"minicore/device/video/console"
	"minicore/kernel/kfmt"
	"sort"
)

// maxDrivers is the number of initialized drivers that the HAL can track.
const maxDrivers = 8

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole console.Device
	activeTimer   timer.Device

	// activeDrivers tracks all initialized device drivers.
	activeDrivers     [maxDrivers]device.Driver
	activeDriverCount int
}

// prefixBuffer is a fixed-size io.Writer used for building log line prefixes
// without allocating memory. Writes that do not fit are truncated.
type prefixBuffer struct {
	data [64]byte
	len  int
}

func (b *prefixBuffer) Reset() { b.len = 0 }

func (b *prefixBuffer) Bytes() []byte { return b.data[:b.len] }

func (b *prefixBuffer) Write(p []byte) (int, error) {
	n := copy(b.data[b.len:], p)
	b.len += n
	return len(p), nil
}

// outputWriter forwards writes to whatever the kfmt output sink is at the
// time of the write so that log lines emitted while probing end up on a
// console that gets attached midway.
type outputWriter struct{}

func (outputWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

var (
	devices managedDevices
	strBuf  prefixBuffer
)

// ActiveConsole returns the console that receives the kernel output or nil
// if no console was detected.
func ActiveConsole() console.Device {
	return devices.activeConsole
}

// ActiveTimer returns the system timer or nil if no timer was detected.
func ActiveTimer() timer.Device {
	return devices.activeTimer
}

// ActiveDrivers invokes visitor for each initialized driver in detection
// order.
func ActiveDrivers(visitor func(device.Driver)) {
	for i := 0; i < devices.activeDriverCount; i++ {
		visitor(devices.activeDrivers[i])
	}
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Sort(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: outputWriter{}}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		onDriverInit(drv)
		kfmt.Fprintf(&w, "initialized\n")
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized.
func onDriverInit(drv device.Driver) {
	if devices.activeDriverCount < maxDrivers {
		devices.activeDrivers[devices.activeDriverCount] = drv
		devices.activeDriverCount++
	}

	switch drvImpl := drv.(type) {
	case console.Device:
		if devices.activeConsole != nil {
			return
		}

		// The first console becomes the kernel output sink. Any output
		// captured so far by the early ring buffer is replayed to it.
		devices.activeConsole = drvImpl
		kfmt.SetOutputSink(drvImpl)
	case timer.Device:
		if devices.activeTimer == nil {
			devices.activeTimer = drvImpl
		}
	}
}
