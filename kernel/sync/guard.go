// Package sync provides the critical-section primitives used by the kernel.
// The kernel runs on a single CPU so mutual exclusion is achieved by masking
// interrupts rather than by spinning.
package sync

import "minicore/kernel/cpu"

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// Guard protects a critical section. Acquire returns a token that must be
// passed back to the matching Release call; this allows critical sections to
// nest and to span a context switch as each task keeps its own token on its
// own stack.
type Guard interface {
	Acquire() bool
	Release(restore bool)
}

// IRQGuard implements Guard by masking interrupts on the local CPU.
type IRQGuard struct{}

// Acquire disables interrupts and returns true if they were enabled before
// the call.
func (IRQGuard) Acquire() bool {
	enabled := interruptsEnabledFn()
	disableInterruptsFn()
	return enabled
}

// Release re-enables interrupts if restore is true. Releasing a guard that
// was acquired while interrupts were already masked leaves them masked.
func (IRQGuard) Release(restore bool) {
	if restore {
		enableInterruptsFn()
	}
}

// NopGuard is a Guard that does nothing. It is meant for code that runs
// outside the kernel (host tools and tests) where there are no interrupts to
// mask.
type NopGuard struct{}

// Acquire implements Guard.
func (NopGuard) Acquire() bool { return false }

// Release implements Guard.
func (NopGuard) Release(bool) {}
