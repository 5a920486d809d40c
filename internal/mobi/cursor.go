package mobi

import (
	"encoding/binary"
	"fmt"
)

// Cursor is a forward-only reader over a byte slice that tracks its
// offset so failures can report where in the input they happened.
type Cursor struct {
	data []byte
	off  int
}

// NewCursor returns a cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Offset returns the current position within the underlying data.
func (c *Cursor) Offset() int {
	return c.off
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.off
}

// Take consumes n bytes and returns them as a subslice of the input.
func (c *Cursor) Take(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, c.off, c.Remaining(), ErrShortInput)
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// Skip consumes n bytes without returning them.
func (c *Cursor) Skip(n int) error {
	_, err := c.Take(n)
	return err
}

// U8 consumes one byte.
func (c *Cursor) U8() (uint8, error) {
	b, err := c.Take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 consumes a big-endian uint16.
func (c *Cursor) U16() (uint16, error) {
	b, err := c.Take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// U32 consumes a big-endian uint32.
func (c *Cursor) U32() (uint32, error) {
	b, err := c.Take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Magic consumes len(want) bytes and verifies they equal want.
func (c *Cursor) Magic(want string) error {
	off := c.off
	b, err := c.Take(len(want))
	if err != nil {
		return err
	}
	if string(b) != want {
		return fmt.Errorf("got %q at offset %d, want %q: %w", b, off, want, ErrBadMagic)
	}
	return nil
}
