package kfmt

import "io"

// earlyBufferSize is the capacity of the buffer that captures output before
// a console is attached. It holds the boot banner, the multiboot memory map
// and the heap layout with room to spare. It must be a power of 2.
const earlyBufferSize = 4096

// earlyBuffer keeps the most recent earlyBufferSize bytes written to it. Once
// full, each write discards the oldest bytes and adds them to the dropped
// count.
type earlyBuffer struct {
	data    [earlyBufferSize]byte
	start   int
	count   int
	dropped int
}

// Write appends p to the buffer. It never fails.
func (b *earlyBuffer) Write(p []byte) (int, error) {
	for _, ch := range p {
		if b.count == earlyBufferSize {
			b.start = (b.start + 1) & (earlyBufferSize - 1)
			b.count--
			b.dropped++
		}

		b.data[(b.start+b.count)&(earlyBufferSize-1)] = ch
		b.count++
	}

	return len(p), nil
}

// Read drains up to len(p) buffered bytes in the order they were written.
func (b *earlyBuffer) Read(p []byte) (int, error) {
	if b.count == 0 {
		return 0, io.EOF
	}

	var n int
	for n < len(p) && b.count != 0 {
		chunk := b.contiguous()
		copied := copy(p[n:], chunk)
		b.consume(copied)
		n += copied
	}

	return n, nil
}

// WriteTo drains the buffer into w. It lets SetOutputSink replay the buffer
// without io.Copy allocating an intermediate buffer.
func (b *earlyBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for b.count != 0 {
		n, err := w.Write(b.contiguous())
		b.consume(n)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}

	return total, nil
}

// Dropped returns the number of bytes discarded since the last call to
// Dropped and resets the counter.
func (b *earlyBuffer) Dropped() int {
	n := b.dropped
	b.dropped = 0
	return n
}

// contiguous returns the longest run of buffered bytes that does not wrap
// around the end of data.
func (b *earlyBuffer) contiguous() []byte {
	end := b.start + b.count
	if end > earlyBufferSize {
		end = earlyBufferSize
	}
	return b.data[b.start:end]
}

func (b *earlyBuffer) consume(n int) {
	b.start = (b.start + n) & (earlyBufferSize - 1)
	b.count -= n
}
