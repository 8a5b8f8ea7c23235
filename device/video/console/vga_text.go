package console

import (
	"io"
	"minicore/device"
	"minicore/kernel"
	"minicore/kernel/kfmt"
	"minicore/kernel/mem"
)

const (
	// DefaultFramebufferAddr is the physical address of the VGA text-mode
	// framebuffer.
	DefaultFramebufferAddr = uintptr(0xb8000)

	defaultColumns = 80
	defaultRows    = 25

	// light gray text on black background
	defaultAttr = byte(0x07)

	tabWidth = 4
)

var (
	// overlayFn is mocked by tests and is automatically inlined by the
	// compiler.
	overlayFn = mem.Overlay

	errNoFramebuffer = &kernel.Error{Module: "vga_text_console", Message: "framebuffer not available"}
)

// VgaTextConsole implements an 80x25 text console using VGA mode 0x3.
//
// Each character in the console framebuffer is represented using two bytes,
// a byte for the character ASCII code and a byte that encodes the foreground
// and background colors (4 bits for each).
type VgaTextConsole struct {
	width  uint32
	height uint32

	fbPhysAddr uintptr
	fb         []byte

	curX, curY uint32
	attr       byte
}

// NewVgaTextConsole creates an new vga text console with its
// framebuffer mapped to fbPhysAddr.
func NewVgaTextConsole(columns, rows uint32, fbPhysAddr uintptr) *VgaTextConsole {
	return &VgaTextConsole{
		width:      columns,
		height:     rows,
		fbPhysAddr: fbPhysAddr,
		attr:       defaultAttr,
	}
}

// Dimensions returns the console width and height in characters.
func (cons *VgaTextConsole) Dimensions() (uint32, uint32) {
	return cons.width, cons.height
}

// Cursor returns the 0-based column and row where the next character will be
// printed.
func (cons *VgaTextConsole) Cursor() (uint32, uint32) {
	return cons.curX, cons.curY
}

// Clear blanks the display and moves the cursor to the top-left corner.
func (cons *VgaTextConsole) Clear() {
	cons.fill(0, cons.width*cons.height)
	cons.curX, cons.curY = 0, 0
}

// Write implements io.Writer.
func (cons *VgaTextConsole) Write(p []byte) (int, error) {
	if cons.fb == nil {
		return 0, io.ErrClosedPipe
	}

	for _, ch := range p {
		switch ch {
		case '\n':
			cons.newLine()
		case '\r':
			cons.curX = 0
		case '\t':
			for next := (cons.curX/tabWidth + 1) * tabWidth; cons.curX < next && cons.curX < cons.width; {
				cons.put(' ')
			}
		default:
			cons.put(ch)
		}
	}

	return len(p), nil
}

func (cons *VgaTextConsole) put(ch byte) {
	if cons.curX >= cons.width {
		cons.newLine()
	}

	offset := 2 * (cons.curY*cons.width + cons.curX)
	cons.fb[offset] = ch
	cons.fb[offset+1] = cons.attr
	cons.curX++
}

func (cons *VgaTextConsole) newLine() {
	cons.curX = 0
	if cons.curY+1 < cons.height {
		cons.curY++
		return
	}

	// Scroll the console contents up by one line and clear the last row.
	rowBytes := 2 * cons.width
	copy(cons.fb, cons.fb[rowBytes:2*cons.width*cons.height])
	cons.fill((cons.height-1)*cons.width, cons.width)
}

// fill blanks count cells starting at the given cell index.
func (cons *VgaTextConsole) fill(start, count uint32) {
	for cell := start; cell < start+count; cell++ {
		cons.fb[2*cell] = ' '
		cons.fb[2*cell+1] = cons.attr
	}
}

// DriverName returns the name of this driver.
func (cons *VgaTextConsole) DriverName() string {
	return "vga_text_console"
}

// DriverVersion returns the version of this driver.
func (cons *VgaTextConsole) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (cons *VgaTextConsole) DriverInit(w io.Writer) *kernel.Error {
	fbSize := mem.Size(cons.width * cons.height * 2)
	if cons.fb = overlayFn(cons.fbPhysAddr, fbSize); cons.fb == nil {
		return errNoFramebuffer
	}

	cons.Clear()
	kfmt.Fprintf(w, "framebuffer at 0x%x (%dx%d)\n", cons.fbPhysAddr, cons.width, cons.height)
	return nil
}

// probeForVgaTextConsole returns a driver for the VGA text console that the
// boot loader leaves active.
func probeForVgaTextConsole() device.Driver {
	return NewVgaTextConsole(defaultColumns, defaultRows, DefaultFramebufferAddr)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForVgaTextConsole,
	})
}
