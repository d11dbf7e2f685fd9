// Package cursor provides a bounded-buffer reader/writer over a byte slice,
// the primitive every decoder and expression parser in nostrscript is built
// on. Every operation is bounds checked and fails closed, leaving the
// cursor position unchanged on failure of a composite read.
package cursor

import "fmt"

// Cursor is a bounded view into a byte slice with a movable read/write
// position. The zero value is not usable; construct with New.
type Cursor struct {
	buf []byte
	pos int
}

// New constructs a Cursor over buf, positioned at the start.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos returns the current byte offset from the start of the buffer.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the total length of the underlying buffer.
func (c *Cursor) Len() int { return len(c.buf) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// EOF reports whether the cursor has reached the end of the buffer.
func (c *Cursor) EOF() bool { return c.pos >= len(c.buf) }

// Bytes returns the full underlying buffer (not just the unread portion).
func (c *Cursor) Bytes() []byte { return c.buf }

// Seek repositions the cursor to an absolute byte offset. It fails if pos is
// out of [0, len(buf)].
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return fmt.Errorf("cursor: seek %d out of range [0,%d]", pos, len(c.buf))
	}
	c.pos = pos
	return nil
}

// Skip advances the cursor by n bytes without returning them.
func (c *Cursor) Skip(n int) error {
	if c.pos+n > len(c.buf) {
		return fmt.Errorf("cursor: skip %d at pos %d exceeds length %d", n, c.pos, len(c.buf))
	}
	c.pos += n
	return nil
}

// PullByte reads and consumes a single byte.
func (c *Cursor) PullByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, fmt.Errorf("cursor: pull byte at pos %d: %w", c.pos, ErrEOF)
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// PeekByte reads the byte at offset relative to the current position
// without consuming it. offset may be negative. Returns -1 if out of range.
func (c *Cursor) PeekByte(offset int) int {
	i := c.pos + offset
	if i < 0 || i >= len(c.buf) {
		return -1
	}
	return int(c.buf[i])
}

// PullBytes reads and consumes n bytes, returning a slice aliasing the
// underlying buffer (the caller must not retain it past the buffer's
// lifetime if it intends to mutate the source).
func (c *Cursor) PullBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, fmt.Errorf("cursor: pull %d bytes at pos %d exceeds length %d", n, c.pos, len(c.buf))
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Consume checks that the next len(pattern) bytes equal pattern, consuming
// them on success and leaving the position unchanged on failure.
func (c *Cursor) Consume(pattern []byte) error {
	if c.pos+len(pattern) > len(c.buf) {
		return fmt.Errorf("cursor: consume pattern at pos %d exceeds length %d", c.pos, len(c.buf))
	}
	for i, want := range pattern {
		if c.buf[c.pos+i] != want {
			return fmt.Errorf("cursor: pattern mismatch at pos %d: got %#x want %#x", c.pos+i, c.buf[c.pos+i], want)
		}
	}
	c.pos += len(pattern)
	return nil
}

// ErrEOF is returned (wrapped) when a read runs past the end of the buffer.
var ErrEOF = fmt.Errorf("unexpected end of buffer")
