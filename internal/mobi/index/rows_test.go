package index

import (
	"errors"
	"testing"

	"github.com/codetheweb/kf8/internal/mobi"
)

func TestSkeletonRow_RoundTrip(t *testing.T) {
	row := SkeletonRow{Name: SkeletonName(3), ChunkCount: 2, StartOffset: 1024, Length: 96}

	got, err := SkeletonRowFromEntry(row.Entry())
	if err != nil {
		t.Fatalf("SkeletonRowFromEntry() returned error: %v", err)
	}
	if got != row {
		t.Fatalf("round trip = %+v, want %+v", got, row)
	}
}

func TestSkeletonName(t *testing.T) {
	if got := SkeletonName(0); got != "SKEL0000000000" {
		t.Fatalf("SkeletonName(0) = %q, want SKEL0000000000", got)
	}
	if got := SkeletonName(42); got != "SKEL0000000042" {
		t.Fatalf("SkeletonName(42) = %q, want SKEL0000000042", got)
	}
}

func TestSkeletonRowFromEntry_ZeroChunks(t *testing.T) {
	entry := TagMapEntry{
		Text: SkeletonName(0),
		Values: map[uint8][]uint32{
			1: {0},
			6: {0, 10},
		},
	}
	_, err := SkeletonRowFromEntry(entry)
	if !errors.Is(err, mobi.ErrInvariant) {
		t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
	}
}

func TestSkeletonRowFromEntry_MissingGeometry(t *testing.T) {
	entry := TagMapEntry{
		Text:   SkeletonName(0),
		Values: map[uint8][]uint32{1: {1}},
	}
	_, err := SkeletonRowFromEntry(entry)
	if !errors.Is(err, mobi.ErrInvariant) {
		t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
	}
}

func TestChunkRow_RoundTrip(t *testing.T) {
	row := ChunkRow{
		InsertPosition: 1234,
		CNCXOffset:     0x10004,
		FileNumber:     3,
		SequenceNumber: 1,
		StartOffset:    8000,
		Length:         512,
	}

	entry := row.Entry()
	if entry.Text != "0000001234" {
		t.Fatalf("entry key = %q, want 0000001234", entry.Text)
	}

	got, err := ChunkRowFromEntry(entry)
	if err != nil {
		t.Fatalf("ChunkRowFromEntry() returned error: %v", err)
	}
	if got != row {
		t.Fatalf("round trip = %+v, want %+v", got, row)
	}
}

func TestChunkRowFromEntry_Errors(t *testing.T) {
	valid := ChunkRow{InsertPosition: 5, StartOffset: 1, Length: 2}.Entry()

	t.Run("bad key", func(t *testing.T) {
		entry := valid
		entry.Text = "12"
		if _, err := ChunkRowFromEntry(entry); !errors.Is(err, mobi.ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
		}
	})

	t.Run("non-numeric key", func(t *testing.T) {
		entry := valid
		entry.Text = "00000000ab"
		if _, err := ChunkRowFromEntry(entry); !errors.Is(err, mobi.ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
		}
	})

	t.Run("missing file number", func(t *testing.T) {
		entry := TagMapEntry{
			Text: "0000000005",
			Values: map[uint8][]uint32{
				2: {0},
				4: {0},
				6: {1, 2},
			},
		}
		if _, err := ChunkRowFromEntry(entry); !errors.Is(err, mobi.ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, mobi.ErrInvariant)
		}
	})
}
