package kfmt

import (
	"io"
	"minicore/kernel"
	"minicore/kernel/cpu"
)

const panicBanner = "\n-----------------------------------\n"

// Dumper is implemented by kernel objects that can describe their state, such
// as register snapshots, heap allocators and schedulers.
type Dumper interface {
	DumpTo(io.Writer)
}

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	// stateWriter and statePrefix tag the lines of the state dump printed
	// by Fatal. They are static so the fatal path never allocates.
	stateWriter PrefixWriter
	statePrefix [16]byte
)

// Fatal reports err together with the state described by state and halts the
// CPU. Each line of the state dump is tagged with the module of err. Both
// arguments may be nil. Calls to Fatal never return.
func Fatal(err *kernel.Error, state Dumper) {
	Printf(panicBanner)

	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}

	if state != nil {
		stateWriter = PrefixWriter{Sink: activeSink()}
		if err != nil {
			stateWriter.Prefix = modulePrefix(err.Module)
		}
		state.DumpTo(&stateWriter)
	}

	Printf("*** kernel panic: system halted ***")
	Printf(panicBanner)

	cpuHaltFn()
}

// Panic reports the supplied error (if not nil) and halts the CPU. Calls to
// Panic never return. Panic also serves as the redirection target for calls
// to panic() (resolved via runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Fatal(err, nil)
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Fatal(errRuntimePanic, nil)
}

// activeSink returns the writer Printf currently sends its output to.
func activeSink() io.Writer {
	if outputSink == nil {
		return &early
	}
	return outputSink
}

// modulePrefix renders "[module] " into statePrefix. Long module names are
// truncated.
func modulePrefix(module string) []byte {
	n := copy(statePrefix[1:len(statePrefix)-2], module) + 1
	statePrefix[0] = '['
	statePrefix[n] = ']'
	statePrefix[n+1] = ' '
	return statePrefix[:n+2]
}
