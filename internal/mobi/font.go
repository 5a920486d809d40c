package mobi

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	fontFlagCompressed = 0x01
	fontFlagObfuscated = 0x02
)

// ParseFontRecord decodes an embedded font record: "FONT", the
// decompressed size, a flag word, then the offset of the font payload.
// Deflated payloads are inflated; obfuscated fonts are rejected.
func ParseFontRecord(data []byte) ([]byte, error) {
	c := NewCursor(data)
	if err := c.Magic("FONT"); err != nil {
		return nil, err
	}
	decompressedSize, err := c.U32()
	if err != nil {
		return nil, err
	}
	flags, err := c.U32()
	if err != nil {
		return nil, err
	}
	dataStart, err := c.U32()
	if err != nil {
		return nil, err
	}
	if err := c.Skip(8); err != nil { // xor key length and offset
		return nil, err
	}

	if flags&fontFlagObfuscated != 0 {
		return nil, fmt.Errorf("obfuscated font: %w", ErrInvariant)
	}
	if int(dataStart) > len(data) {
		return nil, fmt.Errorf("font payload offset %d outside record of %d bytes: %w", dataStart, len(data), ErrInvariant)
	}
	payload := data[dataStart:]

	if flags&fontFlagCompressed == 0 {
		if uint32(len(payload)) != decompressedSize {
			return nil, fmt.Errorf("font payload of %d bytes, header says %d: %w", len(payload), decompressedSize, ErrInvariant)
		}
		return append([]byte(nil), payload...), nil
	}

	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("font inflate: %w (%w)", ErrDecompression, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("font inflate: %w (%w)", ErrDecompression, err)
	}
	if uint32(len(out)) != decompressedSize {
		return nil, fmt.Errorf("font inflated to %d bytes, header says %d: %w", len(out), decompressedSize, ErrInvariant)
	}
	return out, nil
}
