package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		writes []string
		exp    string
	}{
		{
			[]string{""},
			"",
		},
		{
			[]string{"\n"},
			"[irq] \n",
		},
		{
			[]string{"no line break anywhere"},
			"[irq] no line break anywhere",
		},
		{
			[]string{"EAX = 00000001\nEBX = 00000002\n"},
			"[irq] EAX = 00000001\n[irq] EBX = 00000002\n",
		},
		{
			// lines assembled by several Fprintf calls get a single prefix
			[]string{"EIP = ", "00001000", "\n", "CS  = ", "00000008\n"},
			"[irq] EIP = 00001000\n[irq] CS  = 00000008\n",
		},
		{
			[]string{"\nfirst\n\nsecond"},
			"[irq] \n[irq] first\n[irq] \n[irq] second",
		},
	}

	for specIndex, spec := range specs {
		var (
			buf bytes.Buffer
			w   = PrefixWriter{Sink: &buf, Prefix: []byte("[irq] ")}
		)

		for _, input := range spec.writes {
			wrote, err := w.Write([]byte(input))
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}
			if wrote != len(input) {
				t.Errorf("[spec %d] expected writer to report %d bytes; got %d", specIndex, len(input), wrote)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterWithFprintf(t *testing.T) {
	var (
		buf bytes.Buffer
		w   = PrefixWriter{Sink: &buf, Prefix: []byte("[sched] ")}
	)

	Fprintf(&w, "%3s %-5s\n", "ID", "Name")
	Fprintf(&w, "%3d %-5s\n", 1, "A")

	if exp := "[sched]  ID Name \n[sched]   1 A    \n"; buf.String() != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, buf.String())
	}
}

func TestPrefixWriterErrors(t *testing.T) {
	errSink := errors.New("sink failed")

	t.Run("prefix write fails", func(t *testing.T) {
		w := PrefixWriter{Sink: &limitedWriter{err: errSink}, Prefix: []byte("[hal] ")}
		if n, err := w.Write([]byte("data")); n != 0 || err != errSink {
			t.Fatalf("expected (0, errSink); got (%d, %v)", n, err)
		}
	})

	t.Run("line write fails", func(t *testing.T) {
		sink := &limitedWriter{limit: 10, err: errSink}
		w := PrefixWriter{Sink: sink, Prefix: []byte("[hal] ")}

		n, err := w.Write([]byte("line one\nline two\n"))
		if err != errSink {
			t.Fatalf("expected errSink; got %v", err)
		}
		if n != 4 {
			t.Fatalf("expected 4 payload bytes to be reported; got %d", n)
		}
		if exp := "[hal] line"; sink.buf.String() != exp {
			t.Fatalf("expected sink to contain %q; got %q", exp, sink.buf.String())
		}
	})
}
