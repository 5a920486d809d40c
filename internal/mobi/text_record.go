package mobi

import (
	"fmt"

	"github.com/codetheweb/kf8/internal/palmdoc"
)

// TrailingEntriesSize returns the number of bytes at the end of a text
// record occupied by trailing section entries, per the extra data
// flags. One entry exists per set bit of flags >> 1; the multibyte
// overlap trailer, when flagged, is sized by the low two bits of its
// final byte.
func TrailingEntriesSize(record []byte, flags ExtraDataFlags) (int, error) {
	num := 0
	size := len(record)

	for f := uint32(flags) >> 1; f > 0; f >>= 1 {
		if f&1 != 0 {
			if size-num <= 0 {
				return 0, fmt.Errorf("record of %d bytes exhausted by trailing entries: %w", size, ErrShortInput)
			}
			num += trailingEntrySize(record, size-num)
		}
	}

	if flags.MultibyteOverlap() {
		offset := size - num - 1
		if offset < 0 {
			return 0, fmt.Errorf("record of %d bytes exhausted by trailing entries: %w", size, ErrShortInput)
		}
		num += int(record[offset]&0x3) + 1
	}

	return num, nil
}

// trailingEntrySize decodes one trailer length ending at end: 7-bit
// groups read right to left, least significant group first, terminated
// by a set high bit or 28 accumulated bits. The value counts the whole
// trailer, its own length bytes included.
func trailingEntrySize(record []byte, end int) int {
	offset := end
	bitpos := 0
	result := 0

	for {
		v := int(record[offset-1])
		result |= (v & 0x7F) << bitpos
		bitpos += 7
		offset--

		if v&0x80 != 0 || bitpos >= 28 || offset == 0 {
			return result
		}
	}
}

// SplitTextRecords splits text into compressed records of
// TextRecordSize decompressed bytes. Each record carries a multibyte
// overlap trailer: the continuation bytes of a UTF-8 codepoint split
// by the record boundary, followed by one byte holding their count.
func SplitTextRecords(text []byte, compression CompressionType) ([][]byte, error) {
	if len(text) == 0 {
		return nil, nil
	}

	var records [][]byte
	for offset := 0; offset < len(text); offset += TextRecordSize {
		end := min(offset+TextRecordSize, len(text))
		chunk := text[offset:end]

		var record []byte
		switch compression {
		case CompressionNone:
			record = append([]byte(nil), chunk...)
		case CompressionPalmDoc:
			record = palmdoc.Compress(chunk)
		default:
			return nil, fmt.Errorf("compression type %#x: %w", uint16(compression), ErrUnknownEnum)
		}

		overlap := codepointOverlap(text, end)
		record = append(record, overlap...)
		record = append(record, byte(len(overlap)))
		records = append(records, record)
	}

	return records, nil
}

// codepointOverlap returns the UTF-8 continuation bytes at text[end:]
// that complete a codepoint begun before the boundary.
func codepointOverlap(text []byte, end int) []byte {
	if end >= len(text) {
		return nil
	}
	n := 0
	for n < 3 && end+n < len(text) && text[end+n]&0xC0 == 0x80 {
		n++
	}
	return text[end : end+n]
}

// JoinTextRecords strips trailing entries from each text record,
// decompresses, and concatenates. The result length must equal
// textLength.
func JoinTextRecords(records [][]byte, compression CompressionType, flags ExtraDataFlags, textLength uint32) ([]byte, error) {
	var out []byte
	for i, record := range records {
		trailing, err := TrailingEntriesSize(record, flags)
		if err != nil {
			return nil, fmt.Errorf("text record %d: %w", i, err)
		}
		if trailing > len(record) {
			return nil, fmt.Errorf("text record %d: trailing entries of %d bytes exceed record of %d: %w", i, trailing, len(record), ErrInvariant)
		}
		body := record[:len(record)-trailing]

		switch compression {
		case CompressionNone:
			out = append(out, body...)
		case CompressionPalmDoc:
			decompressed, err := palmdoc.Decompress(body)
			if err != nil {
				return nil, fmt.Errorf("text record %d: %w (%w)", i, ErrDecompression, err)
			}
			out = append(out, decompressed...)
		case CompressionHuffCdic:
			return nil, fmt.Errorf("huffcdic compression: %w", ErrUnknownEnum)
		default:
			return nil, fmt.Errorf("compression type %#x: %w", uint16(compression), ErrUnknownEnum)
		}
	}

	if uint32(len(out)) != textLength {
		return nil, fmt.Errorf("decompressed text is %d bytes, header says %d: %w", len(out), textLength, ErrInvariant)
	}
	return out, nil
}
