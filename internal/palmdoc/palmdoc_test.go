package palmdoc

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestCompress_Empty(t *testing.T) {
	if got := Compress(nil); got != nil {
		t.Fatalf("Compress(nil) = %v, want nil", got)
	}
}

func TestDecompress_Empty(t *testing.T) {
	got, err := Decompress(nil)
	if err != nil {
		t.Fatalf("Decompress(nil) returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("Decompress(nil) = %v, want nil", got)
	}
}

func TestDecompress_Tokens(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{"literal nul", []byte{0x00}, []byte{0x00}},
		{"single literal", []byte{0x41}, []byte("A")},
		{"literal run", []byte{0x03, 0xE3, 0x81, 0x82}, []byte{0xE3, 0x81, 0x82}},
		{"space pair", []byte{0xC1}, []byte(" A")},
		{"back reference", append([]byte("abc"), 0x80, 0x18), []byte("abcabc")},
		{"overlapping back reference", append([]byte("a"), 0x80, 0x0F), []byte("aaaaaaaaaaa")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(tt.data)
			if err != nil {
				t.Fatalf("Decompress returned error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("Decompress(%#v) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestDecompress_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated literal run", []byte{0x05, 0x01, 0x02}},
		{"back reference missing byte", []byte{0x41, 0x80}},
		{"back reference before start", []byte{0x41, 0x80, 0x10}},
		{"zero distance", []byte{0x41, 0x80, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompress(tt.data)
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("error = %v, want %v", err, ErrCorrupt)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"plain text", []byte("The quick brown fox jumps over the lazy dog")},
		{"repeated text", bytes.Repeat([]byte("<p>Hello world</p>"), 100)},
		{"html", []byte(`<html><head><title>Test</title></head><body><p class="x">Hi</p></body></html>`)},
		{"spaces and capitals", []byte(" A B C lower UPPER MiXeD")},
		{"high bytes", []byte{0xE3, 0x81, 0x82, 0xE3, 0x81, 0x84, 0xE3, 0x81, 0x86}},
		{"nul bytes", []byte{0x00, 0x01, 0x02, 0x00, 0x00, 0xFF}},
		{"control bytes", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}},
		{"long run of one byte", bytes.Repeat([]byte{'a'}, 4096)},
		{"all byte values", allBytes()},
		{"max record", []byte(strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 72))[:4096],
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed := Compress(tt.data)
			got, err := Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress returned error: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tt.data))
			}
		})
	}
}

func TestCompress_Reduces(t *testing.T) {
	data := bytes.Repeat([]byte("All work and no play makes Jack a dull boy. "), 50)
	compressed := Compress(data)
	if len(compressed) >= len(data) {
		t.Fatalf("compressed size = %d, want < %d", len(compressed), len(data))
	}
}

func allBytes() []byte {
	out := make([]byte, 256)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}
