package mobi

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestFDST_RoundTrip(t *testing.T) {
	table := &FDSTTable{Entries: []FDSTEntry{
		{Start: 0, End: 1000},
		{Start: 1000, End: 1024},
		{Start: 1024, End: 2048},
	}}

	data, err := table.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() returned error: %v", err)
	}

	if string(data[:4]) != "FDST" {
		t.Fatalf("identifier = %q, want %q", data[:4], "FDST")
	}
	if got := binary.BigEndian.Uint32(data[4:8]); got != 12 {
		t.Fatalf("entry table start = %d, want 12", got)
	}
	if got := binary.BigEndian.Uint32(data[8:12]); got != 3 {
		t.Fatalf("entry count = %d, want 3", got)
	}
	if len(data) != 12+3*8 {
		t.Fatalf("serialized length = %d, want %d", len(data), 12+3*8)
	}

	parsed, err := ParseFDST(data)
	if err != nil {
		t.Fatalf("ParseFDST() returned error: %v", err)
	}
	if len(parsed.Entries) != 3 {
		t.Fatalf("entry count = %d, want 3", len(parsed.Entries))
	}
	for i, e := range table.Entries {
		if parsed.Entries[i] != e {
			t.Fatalf("entry %d = %+v, want %+v", i, parsed.Entries[i], e)
		}
	}
}

func TestParseFDST_Errors(t *testing.T) {
	marshal := func(entries []FDSTEntry) []byte {
		data, err := (&FDSTTable{Entries: entries}).MarshalBinary()
		if err != nil {
			t.Fatalf("building fixture: %v", err)
		}
		return data
	}

	t.Run("bad magic", func(t *testing.T) {
		data := marshal([]FDSTEntry{{Start: 0, End: 10}})
		copy(data[:4], "FDSX")
		if _, err := ParseFDST(data); !errors.Is(err, ErrBadMagic) {
			t.Fatalf("error = %v, want %v", err, ErrBadMagic)
		}
	})

	t.Run("gap between flows", func(t *testing.T) {
		data := marshal([]FDSTEntry{{Start: 0, End: 10}, {Start: 12, End: 20}})
		if _, err := ParseFDST(data); !errors.Is(err, ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, ErrInvariant)
		}
	})

	t.Run("reversed range", func(t *testing.T) {
		data := marshal([]FDSTEntry{{Start: 10, End: 5}})
		if _, err := ParseFDST(data); !errors.Is(err, ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, ErrInvariant)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		data := marshal([]FDSTEntry{{Start: 0, End: 10}})
		if _, err := ParseFDST(data[:14]); !errors.Is(err, ErrShortInput) {
			t.Fatalf("error = %v, want %v", err, ErrShortInput)
		}
	})
}
