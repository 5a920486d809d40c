package mobi

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zlib"
)

func buildFontRecord(t *testing.T, payload []byte, compressed, obfuscated bool) []byte {
	t.Helper()

	body := payload
	if compressed {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("compressing payload: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("closing compressor: %v", err)
		}
		body = buf.Bytes()
	}

	flags := uint32(0)
	if compressed {
		flags |= fontFlagCompressed
	}
	if obfuscated {
		flags |= fontFlagObfuscated
	}

	out := []byte("FONT")
	out = appendU32(out, uint32(len(payload)))
	out = appendU32(out, flags)
	out = appendU32(out, 24)
	out = appendU32(out, 0)
	out = appendU32(out, 0)
	out = append(out, body...)
	return out
}

func TestParseFontRecord_Stored(t *testing.T) {
	payload := []byte("OTTO fake font payload")
	record := buildFontRecord(t, payload, false, false)

	got, err := ParseFontRecord(record)
	if err != nil {
		t.Fatalf("ParseFontRecord() returned error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestParseFontRecord_Deflated(t *testing.T) {
	payload := bytes.Repeat([]byte("glyph data "), 100)
	record := buildFontRecord(t, payload, true, false)

	got, err := ParseFontRecord(record)
	if err != nil {
		t.Fatalf("ParseFontRecord() returned error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("inflated payload differs: %d bytes, want %d", len(got), len(payload))
	}
}

func TestParseFontRecord_Obfuscated(t *testing.T) {
	record := buildFontRecord(t, []byte("payload"), false, true)

	_, err := ParseFontRecord(record)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("error = %v, want %v", err, ErrInvariant)
	}
}

func TestParseFontRecord_Errors(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		record := buildFontRecord(t, []byte("x"), false, false)
		copy(record[:4], "TNOF")
		if _, err := ParseFontRecord(record); !errors.Is(err, ErrBadMagic) {
			t.Fatalf("error = %v, want %v", err, ErrBadMagic)
		}
	})

	t.Run("corrupt deflate stream", func(t *testing.T) {
		record := buildFontRecord(t, []byte("payload"), true, false)
		record[24] ^= 0xFF
		if _, err := ParseFontRecord(record); !errors.Is(err, ErrDecompression) {
			t.Fatalf("error = %v, want %v", err, ErrDecompression)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		record := buildFontRecord(t, []byte("payload"), false, false)
		record[7] = 99 // declared decompressed size
		if _, err := ParseFontRecord(record); !errors.Is(err, ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, ErrInvariant)
		}
	})
}
