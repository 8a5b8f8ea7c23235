package console

import (
	"bytes"
	"minicore/kernel/mem"
	"strings"
	"testing"
)

func newTestConsole(t *testing.T, cols, rows uint32) (*VgaTextConsole, []byte) {
	t.Helper()

	fb := make([]byte, cols*rows*2)
	overlayFn = func(addr uintptr, size mem.Size) []byte {
		if addr != DefaultFramebufferAddr || size != mem.Size(len(fb)) {
			t.Fatalf("unexpected overlay request for 0x%x (%d bytes)", addr, size)
		}
		return fb
	}

	cons := NewVgaTextConsole(cols, rows, DefaultFramebufferAddr)
	if err := cons.DriverInit(&bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	return cons, fb
}

// row returns the text stored in the specified 0-based row.
func row(fb []byte, cols, y uint32) string {
	var sb strings.Builder
	for x := uint32(0); x < cols; x++ {
		sb.WriteByte(fb[2*(y*cols+x)])
	}
	return sb.String()
}

func TestVgaTextWrite(t *testing.T) {
	defer func() { overlayFn = mem.Overlay }()

	cons, fb := newTestConsole(t, 8, 3)

	specs := []struct {
		input   string
		expRows []string
		expX    uint32
		expY    uint32
	}{
		{"", []string{"        ", "        ", "        "}, 0, 0},
		{"hi", []string{"hi      ", "        ", "        "}, 2, 0},
		{"\nthere", []string{"hi      ", "there   ", "        "}, 5, 1},
		{"\rT", []string{"hi      ", "There   ", "        "}, 1, 1},
		{"\n\ta", []string{"hi      ", "There   ", "    a   "}, 5, 2},
		{"bcdefg", []string{"There   ", "    abcd", "efg     "}, 3, 2},
		{"\n\n", []string{"efg     ", "        ", "        "}, 0, 2},
	}

	for specIndex, spec := range specs {
		n, err := cons.Write([]byte(spec.input))
		if err != nil || n != len(spec.input) {
			t.Fatalf("[spec %d] unexpected write result %d, %v", specIndex, n, err)
		}

		for y, exp := range spec.expRows {
			if got := row(fb, 8, uint32(y)); got != exp {
				t.Errorf("[spec %d] expected row %d to be %q; got %q", specIndex, y, exp, got)
			}
		}

		if x, y := cons.Cursor(); x != spec.expX || y != spec.expY {
			t.Errorf("[spec %d] expected cursor at (%d, %d); got (%d, %d)", specIndex, spec.expX, spec.expY, x, y)
		}
	}

	for i := 1; i < len(fb); i += 2 {
		if fb[i] != defaultAttr {
			t.Fatalf("expected attribute byte %d to be 0x%x; got 0x%x", i, defaultAttr, fb[i])
		}
	}

	cons.Clear()
	if got := row(fb, 8, 0); got != "        " {
		t.Fatalf("expected console to be cleared; got %q", got)
	}
}

func TestVgaTextDriver(t *testing.T) {
	defer func() { overlayFn = mem.Overlay }()

	drv := probeForVgaTextConsole()
	if _, ok := drv.(Device); !ok {
		t.Fatal("expected probe to return a console device")
	}

	if drv.DriverName() != "vga_text_console" {
		t.Fatalf("unexpected driver name %q", drv.DriverName())
	}

	if major, minor, patch := drv.DriverVersion(); major != 0 || minor != 0 || patch != 1 {
		t.Fatalf("unexpected driver version %d.%d.%d", major, minor, patch)
	}

	cons := drv.(*VgaTextConsole)
	if _, err := cons.Write([]byte("x")); err == nil {
		t.Fatal("expected write to fail before the driver is initialized")
	}

	overlayFn = func(uintptr, mem.Size) []byte { return nil }
	if err := drv.DriverInit(&bytes.Buffer{}); err != errNoFramebuffer {
		t.Fatalf("expected errNoFramebuffer; got %v", err)
	}

	fb := make([]byte, 80*25*2)
	overlayFn = func(uintptr, mem.Size) []byte { return fb }

	var buf bytes.Buffer
	if err := drv.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}

	if exp := "framebuffer at 0xb8000 (80x25)\n"; buf.String() != exp {
		t.Fatalf("expected log output %q; got %q", exp, buf.String())
	}

	if w, h := cons.Dimensions(); w != 80 || h != 25 {
		t.Fatalf("unexpected dimensions %dx%d", w, h)
	}
}
