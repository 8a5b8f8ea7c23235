// Package console provides drivers for text-mode display devices.
package console

import (
	"io"
	"minicore/device"
)

// Device is implemented by console drivers. Writing to a console prints the
// supplied text at the cursor position, advancing the cursor and scrolling
// the display as needed.
type Device interface {
	device.Driver
	io.Writer

	// Clear blanks the display and moves the cursor to the top-left corner.
	Clear()
}
