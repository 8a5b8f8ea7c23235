// Package kfmt implements the kernel's formatted output. Everything in this
// package works without a memory allocator: output produced before a console
// is attached is captured by a fixed-size early buffer and replayed once a
// sink becomes available.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize is the size of the scratch buffer used to render integers. It
// also caps the width applied to integer directives.
const numBufSize = 32

const digits = "0123456789abcdef"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [numBufSize]byte

	// oneByte is the shared buffer for single character writes. Converting
	// a substring of the format to a byte slice would allocate.
	oneByte [1]byte

	// early captures Printf output until SetOutputSink attaches a sink.
	early earlyBuffer

	// outputSink is where Printf sends its output. A nil sink selects the
	// early buffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w. Any output
// captured by the early buffer is replayed to w, preceded by a notice if part
// of it had to be discarded.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w == nil {
		return
	}

	if lost := early.Dropped(); lost != 0 {
		Fprintf(w, "[kfmt] early output truncated, %d bytes lost\n", lost)
	}
	early.WriteTo(w)
}

// GetOutputSink returns the current target for calls to Printf. A nil value
// means that output is being captured by the early buffer.
func GetOutputSink() io.Writer {
	return outputSink
}

// directive describes the flags and width of a single formatting verb.
type directive struct {
	width     int
	leftAlign bool
}

// Printf writes formatted output to the active output sink. It supports the
// following subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  integer, base 10
//	%o  integer, base 8
//	%x  integer, base 16 (lower-case)
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Values shorter than the
// width are right-aligned; base 8 and base 16 integers are padded with zeroes
// and everything else with spaces. A '-' flag left-aligns the value and pads
// it with trailing spaces instead.
//
// Arguments must be one of the built-in string, bool or integer types. The
// Go itables may not be initialized when Printf runs so Stringer and error
// values are not recognized. Pointers (%p) are not supported either since
// that would pull in reflect, which makes the compiler emit allocating
// conversions for the argument slice.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w. A nil w selects the early
// buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var argIndex int

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		var d directive
		for i++; i < len(format); i++ {
			ch := format[i]
			if ch == '-' && d.width == 0 {
				d.leftAlign = true
				continue
			}
			if ch < '0' || ch > '9' {
				break
			}
			d.width = d.width*10 + int(ch-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'o', 'x', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex == len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 'd':
			fmtInt(w, arg, 10, d)
		case 'o':
			fmtInt(w, arg, 8, d)
		case 'x':
			fmtInt(w, arg, 16, d)
		case 's':
			fmtString(w, arg, d)
		case 't':
			fmtBool(w, arg)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, d directive) {
	var n int
	switch s := v.(type) {
	case string:
		n = len(s)
	case []byte:
		n = len(s)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if !d.leftAlign {
		writeRepeat(w, ' ', d.width-n)
	}

	switch s := v.(type) {
	case string:
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		doWrite(w, s)
	}

	if d.leftAlign {
		writeRepeat(w, ' ', d.width-n)
	}
}

// fmtInt renders an integer of any built-in type in the given base.
func fmtInt(w io.Writer, v interface{}, base uint64, d directive) {
	var (
		val uint64
		neg bool
	)

	switch t := v.(type) {
	case uint8:
		val = uint64(t)
	case uint16:
		val = uint64(t)
	case uint32:
		val = uint64(t)
	case uint64:
		val = t
	case uint:
		val = uint64(t)
	case uintptr:
		val = uint64(t)
	case int8:
		val, neg = abs(int64(t))
	case int16:
		val, neg = abs(int64(t))
	case int32:
		val, neg = abs(int64(t))
	case int64:
		val, neg = abs(t)
	case int:
		val, neg = abs(int64(t))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	width := d.width
	if width >= numBufSize {
		width = numBufSize - 1
	}

	// Digits are rendered right to left starting at the end of numBuf.
	pos := numBufSize
	for {
		pos--
		numBuf[pos] = digits[val%base]
		if val /= base; val == 0 {
			break
		}
	}

	signLen := 0
	if neg {
		signLen = 1
	}

	if base != 10 && !d.leftAlign {
		for numBufSize-pos+signLen < width {
			pos--
			numBuf[pos] = '0'
		}
	}

	if neg {
		pos--
		numBuf[pos] = '-'
	}

	if !d.leftAlign {
		for numBufSize-pos < width {
			pos--
			numBuf[pos] = ' '
		}
	}

	doWrite(w, numBuf[pos:])

	if d.leftAlign {
		writeRepeat(w, ' ', width-(numBufSize-pos))
	}
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, ch byte) {
	oneByte[0] = ch
	doWrite(w, oneByte[:])
}

func writeRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// doWrite hides p from escape analysis via noEscape. The compiler cannot see
// what the io.Writer does with p and would otherwise mark it as escaping,
// turning every Printf call into an allocation that crashes the kernel before
// the Go allocator is available.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		early.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. It mirrors the helper in
// runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
