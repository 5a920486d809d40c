package mobi

import (
	"encoding/binary"
	"errors"
	"testing"
)

func buildTestHeader() *Header {
	h := NewHeader()
	h.Compression = CompressionPalmDoc
	h.TextLength = 12345
	h.LastTextRecord = 4
	h.Title = "Example Book"
	h.UniqueID = 0x9CDB8CF6
	h.Language = LanguageCode{Main: 9, Sub: 1}
	h.FirstNonTextRecord = 5
	h.FDSTRecord = 9
	h.FDSTCount = 2
	h.FLISRecord = 10
	h.FCISRecord = 11
	h.ChunkIndex = 5
	h.SkelIndex = 7
	h.ExtraDataFlags = h.ExtraDataFlags.WithMultibyteOverlap(true)
	return h
}

func TestHeader_RoundTrip(t *testing.T) {
	h := buildTestHeader()

	const recordOffset = 1000
	record, err := h.MarshalRecord0(recordOffset)
	if err != nil {
		t.Fatalf("MarshalRecord0() returned error: %v", err)
	}

	parsed, err := ParseHeader(record, recordOffset)
	if err != nil {
		t.Fatalf("ParseHeader() returned error: %v", err)
	}

	if parsed.Compression != CompressionPalmDoc {
		t.Fatalf("compression = %#x, want %#x", uint16(parsed.Compression), uint16(CompressionPalmDoc))
	}
	if parsed.TextLength != 12345 {
		t.Fatalf("text length = %d, want 12345", parsed.TextLength)
	}
	if parsed.LastTextRecord != 4 {
		t.Fatalf("last text record = %d, want 4", parsed.LastTextRecord)
	}
	if parsed.Title != "Example Book" {
		t.Fatalf("title = %q, want %q", parsed.Title, "Example Book")
	}
	if parsed.UniqueID != 0x9CDB8CF6 {
		t.Fatalf("unique id = %#x, want 0x9CDB8CF6", parsed.UniqueID)
	}
	if parsed.Language != (LanguageCode{Main: 9, Sub: 1}) {
		t.Fatalf("language = %+v, want en-US pair", parsed.Language)
	}
	if parsed.FileVersion != 8 {
		t.Fatalf("file version = %d, want 8", parsed.FileVersion)
	}
	if parsed.FDSTRecord != 9 || parsed.FDSTCount != 2 {
		t.Fatalf("fdst pointer = (%d, %d), want (9, 2)", parsed.FDSTRecord, parsed.FDSTCount)
	}
	if parsed.ChunkIndex != 5 || parsed.SkelIndex != 7 {
		t.Fatalf("index pointers = (%d, %d), want (5, 7)", parsed.ChunkIndex, parsed.SkelIndex)
	}
	if !parsed.ExtraDataFlags.MultibyteOverlap() {
		t.Fatalf("multibyte overlap flag not set")
	}
	if parsed.EXTH != nil {
		t.Fatalf("exth = %+v, want nil", parsed.EXTH)
	}
}

func TestHeader_TitleAtRecordBoundary(t *testing.T) {
	h := buildTestHeader()

	record, err := h.MarshalRecord0(0)
	if err != nil {
		t.Fatalf("MarshalRecord0() returned error: %v", err)
	}

	// The title is the last thing in the record; the declared offset
	// plus length must land exactly on the record end.
	titleOffset := binary.BigEndian.Uint32(record[0x54:0x58])
	titleLength := binary.BigEndian.Uint32(record[0x58:0x5C])
	if int(titleOffset+titleLength) != len(record) {
		t.Fatalf("title ends at %d, record is %d bytes", titleOffset+titleLength, len(record))
	}

	if _, err := ParseHeader(record, 0); err != nil {
		t.Fatalf("ParseHeader() returned error: %v", err)
	}

	// One byte past the boundary must fail, not read past.
	binary.BigEndian.PutUint32(record[0x58:0x5C], titleLength+1)
	if _, err := ParseHeader(record, 0); !errors.Is(err, ErrInvariant) {
		t.Fatalf("error = %v, want %v", err, ErrInvariant)
	}
}

func TestHeader_WithEXTH(t *testing.T) {
	h := buildTestHeader()
	h.EXTH = NewEXTH()
	h.EXTH.AddString(MetaCreator, "Alice")
	h.EXTH.AddString(MetaUpdatedTitle, "Example Book")
	h.ExthFlags = h.ExthFlags.WithEXTH(true)

	record, err := h.MarshalRecord0(500)
	if err != nil {
		t.Fatalf("MarshalRecord0() returned error: %v", err)
	}

	parsed, err := ParseHeader(record, 500)
	if err != nil {
		t.Fatalf("ParseHeader() returned error: %v", err)
	}
	if parsed.EXTH == nil {
		t.Fatalf("exth missing after round trip")
	}
	if got := parsed.EXTH.Strings(MetaCreator); len(got) != 1 || got[0] != "Alice" {
		t.Fatalf("creator = %v, want [Alice]", got)
	}
	if parsed.Title != "Example Book" {
		t.Fatalf("title = %q, want %q", parsed.Title, "Example Book")
	}
}

func TestHeader_UpdatedTitleMismatch(t *testing.T) {
	h := buildTestHeader()
	h.EXTH = NewEXTH()
	h.EXTH.AddString(MetaUpdatedTitle, "Another Title")
	h.ExthFlags = h.ExthFlags.WithEXTH(true)

	if _, err := h.MarshalRecord0(0); !errors.Is(err, ErrInvariant) {
		t.Fatalf("error = %v, want %v", err, ErrInvariant)
	}
}

func TestHeader_ExthFlagDisagreement(t *testing.T) {
	h := buildTestHeader()
	h.ExthFlags = h.ExthFlags.WithEXTH(true) // flag set, no block

	if _, err := h.MarshalRecord0(0); !errors.Is(err, ErrInvariant) {
		t.Fatalf("error = %v, want %v", err, ErrInvariant)
	}
}

func TestParseHeader_Errors(t *testing.T) {
	base := func() []byte {
		record, err := buildTestHeader().MarshalRecord0(0)
		if err != nil {
			t.Fatalf("building fixture: %v", err)
		}
		return record
	}

	t.Run("bad magic", func(t *testing.T) {
		record := base()
		copy(record[16:20], "BOOK")
		if _, err := ParseHeader(record, 0); !errors.Is(err, ErrBadMagic) {
			t.Fatalf("error = %v, want %v", err, ErrBadMagic)
		}
	})

	t.Run("unknown compression", func(t *testing.T) {
		record := base()
		binary.BigEndian.PutUint16(record[0:2], 7)
		if _, err := ParseHeader(record, 0); !errors.Is(err, ErrUnknownEnum) {
			t.Fatalf("error = %v, want %v", err, ErrUnknownEnum)
		}
	})

	t.Run("unknown encoding", func(t *testing.T) {
		record := base()
		binary.BigEndian.PutUint32(record[28:32], 1234)
		if _, err := ParseHeader(record, 0); !errors.Is(err, ErrUnknownEnum) {
			t.Fatalf("error = %v, want %v", err, ErrUnknownEnum)
		}
	})

	t.Run("pre-kf8 version", func(t *testing.T) {
		record := base()
		binary.BigEndian.PutUint32(record[36:40], 6)
		if _, err := ParseHeader(record, 0); !errors.Is(err, ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, ErrInvariant)
		}
	})

	t.Run("encrypted", func(t *testing.T) {
		record := base()
		binary.BigEndian.PutUint16(record[12:14], 2)
		if _, err := ParseHeader(record, 0); !errors.Is(err, ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, ErrInvariant)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		record := base()
		if _, err := ParseHeader(record[:100], 0); !errors.Is(err, ErrShortInput) {
			t.Fatalf("error = %v, want %v", err, ErrShortInput)
		}
	})
}
