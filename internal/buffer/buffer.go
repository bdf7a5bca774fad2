// Package buffer implements the growable byte buffer each connection owns
// for its read and write sides.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// overflowSize is the size of the stack-local scatter-read overflow segment:
// 64 KiB minus one byte.
const overflowSize = 65535

// ErrInsufficientData is returned by Consume when asked to advance past the
// readable region.
var ErrInsufficientData = errors.New("buffer: consume past readable data")

// Buffer is a contiguous byte region with independent read and write
// cursors. It is owned exclusively by the connection it belongs to and is
// never touched by more than one goroutine at a time.
type Buffer struct {
	buf []byte
	r   int
	w   int
}

// New returns a Buffer with the given initial capacity.
func New(initialCap int) *Buffer {
	if initialCap <= 0 {
		initialCap = 1024
	}
	return &Buffer{buf: make([]byte, initialCap)}
}

// ReadableBytes returns how many bytes are available starting at Peek.
func (b *Buffer) ReadableBytes() int { return b.w - b.r }

// WritableBytes returns how much room remains at the write cursor.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.w }

// PrependableBytes returns how many bytes have already been consumed from
// the front of the buffer.
func (b *Buffer) PrependableBytes() int { return b.r }

// Peek returns the readable region without copying.
func (b *Buffer) Peek() []byte { return b.buf[b.r:b.w] }

// Consume advances the read cursor by n bytes.
func (b *Buffer) Consume(n int) error {
	if n > b.ReadableBytes() {
		return ErrInsufficientData
	}
	b.r += n
	return nil
}

// ConsumeTo advances the read cursor up to the given slice, which must
// point somewhere inside the current readable region.
func (b *Buffer) ConsumeTo(end []byte) error {
	readable := b.Peek()
	if len(end) > len(readable) {
		return ErrInsufficientData
	}
	n := len(readable) - len(end)
	return b.Consume(n)
}

// Reset zeroes the buffer contents and rewinds both cursors to zero.
func (b *Buffer) Reset() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.r = 0
	b.w = 0
}

// DrainToString copies out the readable region as a new string, then
// resets the buffer.
func (b *Buffer) DrainToString() string {
	s := string(b.Peek())
	b.Reset()
	return s
}

// EnsureWritable guarantees at least n writable bytes, compacting or
// growing the underlying slice as needed.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// makeSpace implements the compact-or-grow growth policy: if the sum of
// the trailing writable space and the leading already-consumed space can
// hold n bytes, the readable region is shifted to the front instead of
// reallocating.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.w+n+1)
		copy(grown, b.buf)
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.r:b.w])
	b.r = 0
	b.w = readable
}

// Append copies p into the buffer, growing it first if necessary.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	copy(b.buf[b.w:], p)
	b.w += len(p)
}

// ReadFromFD performs a scatter read from fd: first into the buffer's
// writable tail, then into a stack-local overflow segment, via a single
// readv(2) call. It returns the total number of bytes read.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var overflow [overflowSize]byte
	writable := b.WritableBytes()

	iovs := [][]byte{
		b.buf[b.w:len(b.buf)],
		overflow[:],
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}

	if n <= writable {
		b.w += n
	} else {
		b.w = len(b.buf)
		b.Append(overflow[:n-writable])
	}

	return n, nil
}

// WriteToFD writes the readable region to fd in a single write(2) call and
// advances the read cursor by however much was written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.r += n
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

// WritevToFD performs a single writev(2) of the buffer's readable region
// followed by extra (typically a memory-mapped response body), advancing
// the read cursor by whatever portion of the readable region was
// consumed. The caller is responsible for tracking how much of extra was
// written — see the returned total n, which counts bytes across both
// segments; subtract ReadableBytes()-before-the-call to get the extra
// portion actually written.
func (b *Buffer) WritevToFD(fd int, extra []byte) (int, error) {
	readable := b.Peek()
	var iovs [][]byte
	if len(extra) > 0 {
		iovs = [][]byte{readable, extra}
	} else {
		iovs = [][]byte{readable}
	}

	n, err := unix.Writev(fd, iovs)
	if n > 0 {
		if n >= len(readable) {
			b.r = b.w
		} else {
			b.r += n
		}
	}
	if err != nil {
		return n, err
	}
	return n, nil
}
