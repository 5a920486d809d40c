package index

import (
	"bytes"
	"errors"
	"testing"

	"github.com/codetheweb/kf8/internal/mobi"
)

func TestTagTable_MarshalTAGX(t *testing.T) {
	data := SkeletonTagTable.MarshalTAGX()

	want := []byte("TAGX")
	want = append(want, 0, 0, 0, 24) // 12 + 3*4
	want = append(want, 0, 0, 0, 1)  // control byte count
	want = append(want, 1, 1, 3, 0)
	want = append(want, 6, 2, 12, 0)
	want = append(want, 0, 0, 0, 1) // sentinel

	if !bytes.Equal(data, want) {
		t.Fatalf("MarshalTAGX() = % x, want % x", data, want)
	}
}

func TestParseTAGX_RoundTrip(t *testing.T) {
	tables := []struct {
		name  string
		table TagTable
	}{
		{"skeleton", SkeletonTagTable},
		{"chunk", ChunkTagTable},
	}

	for _, tt := range tables {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.table.MarshalTAGX()
			parsed, consumed, err := ParseTAGX(data)
			if err != nil {
				t.Fatalf("ParseTAGX() returned error: %v", err)
			}
			if consumed != len(data) {
				t.Fatalf("consumed = %d, want %d", consumed, len(data))
			}
			if len(parsed) != len(tt.table) {
				t.Fatalf("definition count = %d, want %d", len(parsed), len(tt.table))
			}
			for i, def := range tt.table {
				if parsed[i] != def {
					t.Fatalf("definition %d = %+v, want %+v", i, parsed[i], def)
				}
			}
		})
	}
}

func TestParseTAGX_Errors(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		data := SkeletonTagTable.MarshalTAGX()
		copy(data[:4], "XGAT")
		if _, _, err := ParseTAGX(data); !errors.Is(err, mobi.ErrBadMagic) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrBadMagic)
		}
	})

	t.Run("unknown mask", func(t *testing.T) {
		data := TagTable{{Tag: 1, ValuesPerEntry: 1, Mask: 0x55}}.MarshalTAGX()
		if _, _, err := ParseTAGX(data); !errors.Is(err, mobi.ErrUnknownEnum) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrUnknownEnum)
		}
	})

	t.Run("non power of two arity", func(t *testing.T) {
		data := TagTable{{Tag: 1, ValuesPerEntry: 3, Mask: 1}}.MarshalTAGX()
		if _, _, err := ParseTAGX(data); !errors.Is(err, mobi.ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
		}
	})

	t.Run("missing sentinel", func(t *testing.T) {
		data := SkeletonTagTable.MarshalTAGX()
		data = data[:len(data)-4]
		// Shrink the declared length accordingly.
		data[7] -= 4
		if _, _, err := ParseTAGX(data); !errors.Is(err, mobi.ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		data := SkeletonTagTable.MarshalTAGX()
		if _, _, err := ParseTAGX(data[:10]); !errors.Is(err, mobi.ErrShortInput) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrShortInput)
		}
	})
}
