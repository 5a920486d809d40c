package vwi

import (
	"bytes"
	"errors"
	"testing"
)

func TestAppendForward(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0x80}},
		{"single byte", 0x11, []byte{0x91}},
		{"boundary 0x7F", 0x7F, []byte{0xFF}},
		{"two bytes", 0x80, []byte{0x01, 0x80}},
		{"three bytes", 0x11111, []byte{0x04, 0x22, 0x91}},
		{"four bytes exact", 0x0FFFFFFF, []byte{0x7F, 0x7F, 0x7F, 0xFF}},
		{"max uint32", 0xFFFFFFFF, []byte{0x0F, 0x7F, 0x7F, 0x7F, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendForward(nil, tt.value)
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("AppendForward(%#x) = %#v, want %#v", tt.value, got, tt.want)
			}
			if len(got) != Len(tt.value) {
				t.Fatalf("encoded length = %d, Len() = %d, want equal", len(got), Len(tt.value))
			}
		})
	}
}

func TestAppendForward_EdgeValueBytes(t *testing.T) {
	// 0x0FFFFFFF must encode in exactly 4 bytes with the final byte 0xFF
	// and all others high-bit-clear.
	got := AppendForward(nil, 0x0FFFFFFF)
	if len(got) != 4 {
		t.Fatalf("encoded length = %d, want 4", len(got))
	}
	for i, b := range got[:3] {
		if b&0x80 != 0 {
			t.Fatalf("byte %d = %#x, want high bit clear", i, b)
		}
	}
	if got[3] != 0xFF {
		t.Fatalf("final byte = %#x, want 0xFF", got[3])
	}
}

func TestAppendBackward(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0x80}},
		{"single byte", 0x11, []byte{0x91}},
		{"three bytes", 0x11111, []byte{0x84, 0x22, 0x11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendBackward(nil, tt.value)
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("AppendBackward(%#x) = %#v, want %#v", tt.value, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x11111, 0x1FFFFF, 0x200000, 0x0FFFFFFF, 0x10000000, 0xFFFFFFFF}

	for _, v := range values {
		fwd := AppendForward(nil, v)
		if len(fwd) > MaxLen {
			t.Fatalf("forward encoding of %#x is %d bytes, want <= %d", v, len(fwd), MaxLen)
		}
		got, n, err := DecodeForward(fwd)
		if err != nil {
			t.Fatalf("DecodeForward(%#x) returned error: %v", v, err)
		}
		if got != v || n != len(fwd) {
			t.Fatalf("DecodeForward(%#x) = (%#x, %d), want (%#x, %d)", v, got, n, v, len(fwd))
		}

		bwd := AppendBackward(nil, v)
		got, n, err = DecodeBackward(bwd)
		if err != nil {
			t.Fatalf("DecodeBackward(%#x) returned error: %v", v, err)
		}
		if got != v || n != len(bwd) {
			t.Fatalf("DecodeBackward(%#x) = (%#x, %d), want (%#x, %d)", v, got, n, v, len(bwd))
		}
	}
}

func TestDecodeForward_TrailingData(t *testing.T) {
	data := AppendForward(nil, 0x1234)
	data = append(data, 0xDE, 0xAD)

	got, n, err := DecodeForward(data)
	if err != nil {
		t.Fatalf("DecodeForward returned error: %v", err)
	}
	if got != 0x1234 {
		t.Fatalf("value = %#x, want 0x1234", got)
	}
	if n != len(data)-2 {
		t.Fatalf("consumed = %d, want %d", n, len(data)-2)
	}
}

func TestDecodeBackward_LeadingData(t *testing.T) {
	data := []byte{0xDE, 0xAD}
	data = AppendBackward(data, 0x1234)

	got, n, err := DecodeBackward(data)
	if err != nil {
		t.Fatalf("DecodeBackward returned error: %v", err)
	}
	if got != 0x1234 {
		t.Fatalf("value = %#x, want 0x1234", got)
	}
	if n != len(data)-2 {
		t.Fatalf("consumed = %d, want %d", n, len(data)-2)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		decode  func([]byte) (uint32, int, error)
		wantErr error
	}{
		{"forward empty", nil, DecodeForward, ErrShort},
		{"forward no terminator", []byte{0x01, 0x02}, DecodeForward, ErrShort},
		{"forward too long", []byte{0x7F, 0x7F, 0x7F, 0x7F, 0x7F, 0xFF}, DecodeForward, ErrOverflow},
		{"forward 33 bits", []byte{0x1F, 0x7F, 0x7F, 0x7F, 0xFF}, DecodeForward, ErrOverflow},
		{"backward empty", nil, DecodeBackward, ErrShort},
		{"backward no terminator", []byte{0x01, 0x02}, DecodeBackward, ErrShort},
		{"backward too long", []byte{0xFF, 0x7F, 0x7F, 0x7F, 0x7F, 0x7F}, DecodeBackward, ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.decode(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
