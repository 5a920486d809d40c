package mobi

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSplitTextRecords_Single(t *testing.T) {
	text := []byte("<p>Hello</p>")
	records, err := SplitTextRecords(text, CompressionNone)
	if err != nil {
		t.Fatalf("SplitTextRecords() returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	// Body plus a zero overlap count byte.
	want := append(append([]byte(nil), text...), 0)
	if !bytes.Equal(records[0], want) {
		t.Fatalf("record = % x, want % x", records[0], want)
	}
}

func TestSplitTextRecords_BoundaryCodepoint(t *testing.T) {
	// 4095 ASCII bytes, then a two-byte codepoint straddling the
	// record boundary.
	text := append(bytes.Repeat([]byte{'a'}, TextRecordSize-1), 0xC3, 0xA9)
	text = append(text, []byte("tail")...)

	records, err := SplitTextRecords(text, CompressionNone)
	if err != nil {
		t.Fatalf("SplitTextRecords() returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("record count = %d, want 2", len(records))
	}

	first := records[0]
	// The record holds the first 4096 text bytes, the continuation
	// byte pushed across the boundary, then the overlap count.
	if got := len(first); got != TextRecordSize+2 {
		t.Fatalf("first record length = %d, want %d", got, TextRecordSize+2)
	}
	if first[TextRecordSize-1] != 0xC3 {
		t.Fatalf("final text byte = %#x, want 0xC3", first[TextRecordSize-1])
	}
	if first[TextRecordSize] != 0xA9 {
		t.Fatalf("overlap byte = %#x, want 0xA9", first[TextRecordSize])
	}
	if first[TextRecordSize+1] != 1 {
		t.Fatalf("overlap count = %d, want 1", first[TextRecordSize+1])
	}

	flags := ExtraDataFlags(0).WithMultibyteOverlap(true)
	joined, err := JoinTextRecords(records, CompressionNone, flags, uint32(len(text)))
	if err != nil {
		t.Fatalf("JoinTextRecords() returned error: %v", err)
	}
	if !bytes.Equal(joined, text) {
		t.Fatalf("joined text differs from input")
	}
}

func TestSplitJoin_PalmDoc(t *testing.T) {
	text := []byte(strings.Repeat("All work and no play makes Jack a dull boy. ", 300))

	records, err := SplitTextRecords(text, CompressionPalmDoc)
	if err != nil {
		t.Fatalf("SplitTextRecords() returned error: %v", err)
	}
	wantRecords := (len(text) + TextRecordSize - 1) / TextRecordSize
	if len(records) != wantRecords {
		t.Fatalf("record count = %d, want %d", len(records), wantRecords)
	}

	flags := ExtraDataFlags(0).WithMultibyteOverlap(true)
	joined, err := JoinTextRecords(records, CompressionPalmDoc, flags, uint32(len(text)))
	if err != nil {
		t.Fatalf("JoinTextRecords() returned error: %v", err)
	}
	if !bytes.Equal(joined, text) {
		t.Fatalf("joined text differs from input")
	}
}

func TestTrailingEntriesSize(t *testing.T) {
	tests := []struct {
		name   string
		record []byte
		flags  ExtraDataFlags
		want   int
	}{
		{
			"no flags",
			[]byte("hello"),
			0,
			0,
		},
		{
			"multibyte only, zero overlap",
			[]byte{'h', 'i', 0x00},
			extraFlagMultibyte,
			1,
		},
		{
			"multibyte only, two overlap bytes",
			[]byte{'h', 'i', 0x80, 0x81, 0x02},
			extraFlagMultibyte,
			3,
		},
		{
			"tbs only",
			[]byte{'h', 'i', 0xAA, 0x82},
			extraFlagTBS,
			2,
		},
		{
			"all three sections",
			// body, zero-overlap multibyte, one-byte uncrossable
			// trailer, one-byte tbs trailer
			[]byte{'h', 'e', 'l', 'l', 'o', 0x00, 0x81, 0x81},
			extraFlagMultibyte | extraFlagTBS | extraFlagUncrossable,
			3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TrailingEntriesSize(tt.record, tt.flags)
			if err != nil {
				t.Fatalf("TrailingEntriesSize() returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("TrailingEntriesSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTrailingEntriesSize_AgreesWithWriter(t *testing.T) {
	text := append(bytes.Repeat([]byte{'x'}, TextRecordSize-2), []byte("あmore text")...)

	records, err := SplitTextRecords(text, CompressionNone)
	if err != nil {
		t.Fatalf("SplitTextRecords() returned error: %v", err)
	}

	flags := ExtraDataFlags(0).WithMultibyteOverlap(true)
	total := 0
	for i, record := range records {
		trailing, err := TrailingEntriesSize(record, flags)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		body := record[:len(record)-trailing]
		total += len(body)
	}
	if total != len(text) {
		t.Fatalf("stripped bodies total %d bytes, want %d", total, len(text))
	}
}

func TestJoinTextRecords_Errors(t *testing.T) {
	t.Run("huffcdic", func(t *testing.T) {
		_, err := JoinTextRecords([][]byte{{0x01, 0x00}}, CompressionHuffCdic, 0, 2)
		if !errors.Is(err, ErrUnknownEnum) {
			t.Fatalf("error = %v, want %v", err, ErrUnknownEnum)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := JoinTextRecords([][]byte{[]byte("abcd")}, CompressionNone, 0, 99)
		if !errors.Is(err, ErrInvariant) {
			t.Fatalf("error = %v, want %v", err, ErrInvariant)
		}
	})

	t.Run("corrupt palmdoc", func(t *testing.T) {
		_, err := JoinTextRecords([][]byte{{0x80}}, CompressionPalmDoc, 0, 3)
		if !errors.Is(err, ErrDecompression) {
			t.Fatalf("error = %v, want %v", err, ErrDecompression)
		}
	})
}
