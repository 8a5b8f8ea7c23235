package kernel

import "testing"

func TestKernelError(t *testing.T) {
	specs := []*Error{
		{Module: "heap", Message: "out of memory"},
		{Module: "sched", Message: "task pool exhausted"},
		{Module: "kmain", Message: ""},
	}

	for specIndex, err := range specs {
		var asErr error = err
		if got := asErr.Error(); got != err.Message {
			t.Errorf("[spec %d] expected Error() to return %q; got %q", specIndex, err.Message, got)
		}
	}
}
