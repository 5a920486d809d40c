package index

import (
	"errors"
	"strings"
	"testing"

	"github.com/codetheweb/kf8/internal/mobi"
)

func TestCNCX_RoundTrip(t *testing.T) {
	b := &CNCXBuilder{}

	inputs := []string{"P-//*[@aid='0']", "P-//*[@aid='1']", "third selector"}
	offsets := make([]uint32, len(inputs))
	for i, s := range inputs {
		off, err := b.Add(s)
		if err != nil {
			t.Fatalf("Add(%q) returned error: %v", s, err)
		}
		offsets[i] = off
	}

	records := b.Records()
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	if len(records[0])%4 != 0 {
		t.Fatalf("record length %d not 4-byte aligned", len(records[0]))
	}

	pool := NewCNCXPool(records)
	for i, want := range inputs {
		got, err := pool.Get(offsets[i])
		if err != nil {
			t.Fatalf("Get(%#x) returned error: %v", offsets[i], err)
		}
		if got != want {
			t.Fatalf("Get(%#x) = %q, want %q", offsets[i], got, want)
		}
	}
}

func TestCNCX_SpillsToSecondRecord(t *testing.T) {
	b := &CNCXBuilder{}

	big := strings.Repeat("x", 40000)
	off1, err := b.Add(big)
	if err != nil {
		t.Fatalf("Add() returned error: %v", err)
	}
	off2, err := b.Add(big)
	if err != nil {
		t.Fatalf("Add() returned error: %v", err)
	}

	if off1 != 0 {
		t.Fatalf("first offset = %#x, want 0", off1)
	}
	// The second string does not fit the 64K-1024 cap and starts a new
	// record; its offset carries the record index in the high part.
	if off2 != 0x10000 {
		t.Fatalf("second offset = %#x, want 0x10000", off2)
	}

	records := b.Records()
	if len(records) != 2 {
		t.Fatalf("record count = %d, want 2", len(records))
	}

	pool := NewCNCXPool(records)
	for _, off := range []uint32{off1, off2} {
		got, err := pool.Get(off)
		if err != nil {
			t.Fatalf("Get(%#x) returned error: %v", off, err)
		}
		if got != big {
			t.Fatalf("Get(%#x) returned %d bytes, want %d", off, len(got), len(big))
		}
	}
}

func TestCNCX_StringTooLong(t *testing.T) {
	b := &CNCXBuilder{}
	_, err := b.Add(strings.Repeat("x", maxCNCXRecordSize))
	if !errors.Is(err, mobi.ErrOverflow) {
		t.Fatalf("error = %v, want %v", err, mobi.ErrOverflow)
	}
}

func TestCNCXPool_Errors(t *testing.T) {
	b := &CNCXBuilder{}
	if _, err := b.Add("hello"); err != nil {
		t.Fatalf("Add() returned error: %v", err)
	}
	pool := NewCNCXPool(b.Records())

	t.Run("record out of range", func(t *testing.T) {
		if _, err := pool.Get(0x20000); !errors.Is(err, mobi.ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
		}
	})

	t.Run("offset past record end", func(t *testing.T) {
		if _, err := pool.Get(0x9000); !errors.Is(err, mobi.ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
		}
	})

	t.Run("string overruns record", func(t *testing.T) {
		// A length prefix pointing past the padded end.
		records := [][]byte{{0x90, 'a', 'b', 0x00}}
		p := NewCNCXPool(records)
		if _, err := p.Get(0); !errors.Is(err, mobi.ErrShortInput) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrShortInput)
		}
	})
}

func TestCNCX_EmptyBuilder(t *testing.T) {
	b := &CNCXBuilder{}
	if got := b.Records(); len(got) != 0 {
		t.Fatalf("record count = %d, want 0", len(got))
	}
}
