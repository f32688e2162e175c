// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"errors"
	"io"
)

// minRead is the spare room ReadFrom ensures before every read.
const minRead = 4 << 10

var errNegativeRead = errors.New("talloc: reader returned negative count")

// Buffer is a bytes.Buffer-like byte queue whose storage lives in a Talloc.
// It grows through Realloc and must be handed back with Release. A Buffer
// created with a nil Talloc uses Go memory instead.
type Buffer struct {
	t   *Talloc
	buf []byte // unread data is buf[off:]
	off int
}

// NewBuffer creates an empty Buffer backed by t.
func NewBuffer(t *Talloc) *Buffer {
	return &Buffer{t: t}
}

// grow makes room for n more bytes, compacting unread data to the front
// first when that suffices.
func (b *Buffer) grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	if b.off > 0 && cap(b.buf)-b.Len() >= n {
		m := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:m]
		b.off = 0
		return
	}
	if b.t == nil {
		next := make([]byte, b.Len(), growCap(cap(b.buf), b.Len()+n))
		copy(next, b.buf[b.off:])
		b.buf, b.off = next, 0
		return
	}
	if b.off > 0 {
		m := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:m]
		b.off = 0
	}
	b.buf = reserve(b.t, b.buf, n)
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.grow(len(p))
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte implements io.ByteWriter.
func (b *Buffer) WriteByte(c byte) error {
	b.grow(1)
	b.buf = append(b.buf, c)
	return nil
}

// WriteString implements io.StringWriter.
func (b *Buffer) WriteString(s string) (n int, err error) {
	if len(s) == 0 {
		return 0, nil
	}
	b.grow(len(s))
	b.buf = append(b.buf, s...)
	return len(s), nil
}

// WriteTo implements io.WriterTo. It drains the buffer into w.
func (b *Buffer) WriteTo(w io.Writer) (n int64, err error) {
	if b.Len() == 0 {
		return 0, nil
	}
	m, err := w.Write(b.buf[b.off:])
	if m > b.Len() {
		panic("talloc: invalid Write count")
	}
	b.off += m
	n = int64(m)
	if err != nil {
		return n, err
	}
	if b.Len() > 0 {
		return n, io.ErrShortWrite
	}
	b.Reset()
	return n, nil
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (n int, err error) {
	if b.Len() == 0 {
		b.Reset()
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n = copy(p, b.buf[b.off:])
	b.off += n
	return n, nil
}

// ReadByte implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Len() == 0 {
		b.Reset()
		return 0, io.EOF
	}
	c := b.buf[b.off]
	b.off++
	return c, nil
}

// ReadFrom implements io.ReaderFrom. It reads from r until EOF straight into
// the buffer's spare room.
func (b *Buffer) ReadFrom(r io.Reader) (n int64, err error) {
	for {
		b.grow(minRead)
		end := len(b.buf)
		m, e := r.Read(b.buf[end:cap(b.buf)])
		if m < 0 {
			return n, errNegativeRead
		}
		b.buf = b.buf[:end+m]
		n += int64(m)
		if e == io.EOF {
			return n, nil
		}
		if e != nil {
			return n, e
		}
	}
}

// Bytes returns the unread portion of the buffer. The slice aliases the
// buffer's storage and is valid only until the next modification.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.off:]
}

// String returns a copy of the unread portion as a string.
func (b *Buffer) String() string {
	if b == nil {
		return "<nil>"
	}
	return string(b.buf[b.off:])
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.off
}

// Cap returns the capacity of the buffer's storage.
func (b *Buffer) Cap() int {
	return cap(b.buf)
}

// Next returns a copy of the next n unread bytes, or fewer when the buffer
// holds less, advancing past them.
func (b *Buffer) Next(n int) []byte {
	n = min(max(n, 0), b.Len())
	out := make([]byte, n)
	copy(out, b.buf[b.off:])
	b.off += n
	return out
}

// Truncate discards all but the first n unread bytes.
func (b *Buffer) Truncate(n int) {
	if n == 0 {
		b.Reset()
		return
	}
	if n < 0 || n > b.Len() {
		panic("talloc: truncation out of range")
	}
	b.buf = b.buf[:b.off+n]
}

// Reset empties the buffer and keeps its storage.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}

// Release empties the buffer and frees its storage. The buffer may be used
// again afterwards and starts from scratch.
func (b *Buffer) Release() {
	if b.t != nil {
		FreeSlice(b.t, b.buf)
	}
	b.buf = nil
	b.off = 0
}
