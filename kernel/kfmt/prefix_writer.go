package kfmt

import "io"

// PrefixWriter is an io.Writer that tags every line written to Sink with
// Prefix. Multi-line diagnostics such as register snapshots, heap block lists
// and task tables are written through a PrefixWriter so that each line can be
// attributed to the subsystem that produced it.
type PrefixWriter struct {
	// Sink receives the decorated output.
	Sink io.Writer

	// Prefix is written before the first byte of each line.
	Prefix []byte

	// midLine is set while the last byte passed to Sink was not a line
	// feed; the next write then continues the current line.
	midLine bool
}

// Write writes p to Sink, emitting Prefix in front of each line. The prefix
// is written lazily so a trailing line feed does not leave a dangling prefix
// behind. The returned count excludes the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		end := len(p)
		for i, ch := range p {
			if ch == '\n' {
				end = i + 1
				break
			}
		}

		n, err := w.Sink.Write(p[:end])
		written += n
		if err != nil {
			return written, err
		}

		if p[end-1] == '\n' {
			w.midLine = false
		}
		p = p[end:]
	}

	return written, nil
}
