package mobi

import (
	"bytes"
	"fmt"
)

// CompressionType selects the text record compression scheme.
type CompressionType uint16

const (
	CompressionNone     CompressionType = 1
	CompressionPalmDoc  CompressionType = 2
	CompressionHuffCdic CompressionType = 0x4448
)

// TextEncoding is the codepage of the text stream, the title and the
// EXTH string payloads.
type TextEncoding uint32

const (
	EncodingCp1252 TextEncoding = 0x04E4
	EncodingUTF8   TextEncoding = 0xFDE9
)

// NoRecord marks an unused record pointer field.
const NoRecord uint32 = 0xFFFFFFFF

// TextRecordSize is the decompressed size of every text record but the
// last.
const TextRecordSize = 4096

// mobiHeaderLength is the value of the header length field: the fixed
// section measured from the "MOBI" magic.
const mobiHeaderLength = 264

// record0FixedSize is the full fixed prefix of record 0: the 16-byte
// PalmDoc section plus the MOBI header.
const record0FixedSize = 16 + mobiHeaderLength

// mobiTypeBook is the document type field value for books.
const mobiTypeBook = 2

// minKF8Version is the lowest file version this codec accepts.
const minKF8Version = 8

// ExthFlags is the bitfield governing the optional blocks after the
// fixed header.
type ExthFlags uint32

const (
	exthFlagHasEXTH      ExthFlags = 0x50 // bits 4 and 6
	exthFlagIsPeriodical ExthFlags = 0x08
	exthFlagHasFonts     ExthFlags = 0x1000
)

func (f ExthFlags) HasEXTH() bool      { return f&exthFlagHasEXTH == exthFlagHasEXTH }
func (f ExthFlags) IsPeriodical() bool { return f&exthFlagIsPeriodical != 0 }
func (f ExthFlags) HasFonts() bool     { return f&exthFlagHasFonts != 0 }

func (f ExthFlags) WithEXTH(present bool) ExthFlags {
	if present {
		return f | exthFlagHasEXTH
	}
	return f &^ exthFlagHasEXTH
}

// ExtraDataFlags is the bitfield governing trailing section entries on
// text records.
type ExtraDataFlags uint32

const (
	extraFlagMultibyte   ExtraDataFlags = 0x01
	extraFlagTBS         ExtraDataFlags = 0x02
	extraFlagUncrossable ExtraDataFlags = 0x04
)

func (f ExtraDataFlags) MultibyteOverlap() bool  { return f&extraFlagMultibyte != 0 }
func (f ExtraDataFlags) HasTBS() bool            { return f&extraFlagTBS != 0 }
func (f ExtraDataFlags) UncrossableBreaks() bool { return f&extraFlagUncrossable != 0 }

func (f ExtraDataFlags) WithMultibyteOverlap(on bool) ExtraDataFlags {
	if on {
		return f | extraFlagMultibyte
	}
	return f &^ extraFlagMultibyte
}

// Header is the decoded first PalmDB record: the fixed section, the
// optional EXTH block and the title string.
type Header struct {
	Compression    CompressionType
	TextLength     uint32
	LastTextRecord uint16
	RecordSize     uint16

	BookType     uint32
	TextEncoding TextEncoding
	UniqueID     uint32
	FileVersion  uint32

	FirstNonTextRecord uint32
	Title              string
	// TitleOffset is the file-absolute position of the title string,
	// set during parsing and back-patched during serialization.
	TitleOffset uint32
	Language    LanguageCode

	MinVersion          uint32
	FirstResourceRecord uint32
	ExthFlags           ExthFlags

	FDSTRecord uint32
	FDSTCount  uint32
	FCISRecord uint32
	FLISRecord uint32
	SRCSRecord uint32
	SRCSCount  uint32

	ExtraDataFlags ExtraDataFlags

	NCXIndex   uint32
	ChunkIndex uint32
	SkelIndex  uint32
	DATPIndex  uint32
	GuideIndex uint32

	EXTH *EXTH
}

// NewHeader returns a header with the KF8 constants and every record
// pointer unset.
func NewHeader() *Header {
	return &Header{
		Compression:         CompressionNone,
		RecordSize:          TextRecordSize,
		BookType:            mobiTypeBook,
		TextEncoding:        EncodingUTF8,
		FileVersion:         minKF8Version,
		MinVersion:          minKF8Version,
		FirstResourceRecord: NoRecord,
		FDSTRecord:          NoRecord,
		FCISRecord:          NoRecord,
		FLISRecord:          NoRecord,
		SRCSRecord:          NoRecord,
		NCXIndex:            NoRecord,
		ChunkIndex:          NoRecord,
		SkelIndex:           NoRecord,
		DATPIndex:           NoRecord,
		GuideIndex:          NoRecord,
	}
}

// ParseHeader decodes record 0. recordOffset is the record's file
// offset, needed to resolve the file-absolute title position.
func ParseHeader(record []byte, recordOffset uint32) (*Header, error) {
	c := NewCursor(record)
	h := &Header{}

	compression, err := c.U16()
	if err != nil {
		return nil, err
	}
	h.Compression = CompressionType(compression)
	switch h.Compression {
	case CompressionNone, CompressionPalmDoc, CompressionHuffCdic:
	default:
		return nil, fmt.Errorf("compression type %#x: %w", compression, ErrUnknownEnum)
	}

	if err := c.Skip(2); err != nil {
		return nil, err
	}
	if h.TextLength, err = c.U32(); err != nil {
		return nil, err
	}
	if h.LastTextRecord, err = c.U16(); err != nil {
		return nil, err
	}
	if h.RecordSize, err = c.U16(); err != nil {
		return nil, err
	}
	encryption, err := c.U16()
	if err != nil {
		return nil, err
	}
	if encryption != 0 {
		return nil, fmt.Errorf("encryption type %d not supported: %w", encryption, ErrInvariant)
	}
	if err := c.Skip(2); err != nil {
		return nil, err
	}

	if err := c.Magic("MOBI"); err != nil {
		return nil, err
	}
	headerLen, err := c.U32()
	if err != nil {
		return nil, err
	}
	if headerLen != mobiHeaderLength {
		return nil, fmt.Errorf("mobi header length %d, want %d: %w", headerLen, mobiHeaderLength, ErrInvariant)
	}
	if h.BookType, err = c.U32(); err != nil {
		return nil, err
	}
	encoding, err := c.U32()
	if err != nil {
		return nil, err
	}
	h.TextEncoding = TextEncoding(encoding)
	switch h.TextEncoding {
	case EncodingCp1252, EncodingUTF8:
	default:
		return nil, fmt.Errorf("text encoding %#x: %w", encoding, ErrUnknownEnum)
	}
	if h.UniqueID, err = c.U32(); err != nil {
		return nil, err
	}
	if h.FileVersion, err = c.U32(); err != nil {
		return nil, err
	}
	if h.FileVersion < minKF8Version {
		return nil, fmt.Errorf("file version %d, want >= %d: %w", h.FileVersion, minKF8Version, ErrInvariant)
	}

	// Orthographic/inflection/index pointers, unused here.
	if err := c.Skip(40); err != nil {
		return nil, err
	}

	if h.FirstNonTextRecord, err = c.U32(); err != nil {
		return nil, err
	}
	if h.TitleOffset, err = c.U32(); err != nil {
		return nil, err
	}
	titleLength, err := c.U32()
	if err != nil {
		return nil, err
	}
	locale, err := c.U32()
	if err != nil {
		return nil, err
	}
	if h.Language, err = ParseLanguageCode(locale); err != nil {
		return nil, err
	}
	if err := c.Skip(8); err != nil { // input/output language
		return nil, err
	}
	if h.MinVersion, err = c.U32(); err != nil {
		return nil, err
	}
	if h.FirstResourceRecord, err = c.U32(); err != nil {
		return nil, err
	}
	if err := c.Skip(16); err != nil { // huffman pointers
		return nil, err
	}
	exthFlags, err := c.U32()
	if err != nil {
		return nil, err
	}
	h.ExthFlags = ExthFlags(exthFlags)
	if err := c.Skip(36); err != nil { // reserved
		return nil, err
	}
	drmOffset, err := c.U32()
	if err != nil {
		return nil, err
	}
	if drmOffset != NoRecord {
		return nil, fmt.Errorf("drm present at offset %d: %w", drmOffset, ErrInvariant)
	}
	if err := c.Skip(12); err != nil { // drm count/size/flags
		return nil, err
	}
	if err := c.Skip(8); err != nil { // reserved
		return nil, err
	}
	if h.FDSTRecord, err = c.U32(); err != nil {
		return nil, err
	}
	if h.FDSTCount, err = c.U32(); err != nil {
		return nil, err
	}
	if h.FCISRecord, err = c.U32(); err != nil {
		return nil, err
	}
	if err := c.Skip(4); err != nil { // fcis count
		return nil, err
	}
	if h.FLISRecord, err = c.U32(); err != nil {
		return nil, err
	}
	if err := c.Skip(4); err != nil { // flis count
		return nil, err
	}
	if err := c.Skip(8); err != nil { // reserved
		return nil, err
	}
	if h.SRCSRecord, err = c.U32(); err != nil {
		return nil, err
	}
	if h.SRCSCount, err = c.U32(); err != nil {
		return nil, err
	}
	if err := c.Skip(8); err != nil { // reserved
		return nil, err
	}
	extraFlags, err := c.U32()
	if err != nil {
		return nil, err
	}
	h.ExtraDataFlags = ExtraDataFlags(extraFlags)
	if h.NCXIndex, err = c.U32(); err != nil {
		return nil, err
	}
	if h.ChunkIndex, err = c.U32(); err != nil {
		return nil, err
	}
	if h.SkelIndex, err = c.U32(); err != nil {
		return nil, err
	}
	if h.DATPIndex, err = c.U32(); err != nil {
		return nil, err
	}
	if h.GuideIndex, err = c.U32(); err != nil {
		return nil, err
	}
	if err := c.Skip(16); err != nil { // tail reserved
		return nil, err
	}

	// Optional EXTH block directly after the fixed section.
	if h.ExthFlags.HasEXTH() {
		exth, err := ParseEXTH(record[c.Offset():], h.TextEncoding)
		if err != nil {
			return nil, fmt.Errorf("exth block: %w", err)
		}
		h.EXTH = exth
	} else if c.Remaining() >= 4 && bytes.Equal(record[c.Offset():c.Offset()+4], []byte("EXTH")) {
		return nil, fmt.Errorf("exth block present but flag unset: %w", ErrInvariant)
	}

	// Title string, located via its file-absolute offset.
	start := int64(h.TitleOffset) - int64(recordOffset)
	if start < int64(record0FixedSize) || start+int64(titleLength) > int64(len(record)) {
		return nil, fmt.Errorf("title offset %d outside record: %w", h.TitleOffset, ErrInvariant)
	}
	title, err := decodeText(record[start:start+int64(titleLength)], h.TextEncoding)
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}
	h.Title = title

	if h.EXTH != nil {
		if updated, ok := h.EXTH.FirstString(MetaUpdatedTitle); ok && updated != h.Title {
			return nil, fmt.Errorf("updated title %q disagrees with title %q: %w", updated, h.Title, ErrInvariant)
		}
	}

	return h, nil
}

// MarshalRecord0 serializes the header, the EXTH block and the title
// into record 0. recordOffset is the file offset the record will land
// at; the title offset field is patched to the title's file-absolute
// position.
func (h *Header) MarshalRecord0(recordOffset uint32) ([]byte, error) {
	if (h.EXTH != nil) != h.ExthFlags.HasEXTH() {
		return nil, fmt.Errorf("exth flags disagree with exth presence: %w", ErrInvariant)
	}
	if h.EXTH != nil {
		if updated, ok := h.EXTH.FirstString(MetaUpdatedTitle); ok && updated != h.Title {
			return nil, fmt.Errorf("updated title %q disagrees with title %q: %w", updated, h.Title, ErrInvariant)
		}
	}

	var exthData []byte
	if h.EXTH != nil {
		var err error
		exthData, err = h.EXTH.MarshalBinary()
		if err != nil {
			return nil, err
		}
	}

	titleOffset := recordOffset + uint32(record0FixedSize+len(exthData))

	out := make([]byte, 0, record0FixedSize+len(exthData)+len(h.Title))
	out = appendU16(out, uint16(h.Compression))
	out = appendU16(out, 0)
	out = appendU32(out, h.TextLength)
	out = appendU16(out, h.LastTextRecord)
	out = appendU16(out, h.RecordSize)
	out = appendU16(out, 0) // encryption
	out = appendU16(out, 0)

	out = append(out, "MOBI"...)
	out = appendU32(out, mobiHeaderLength)
	out = appendU32(out, h.BookType)
	out = appendU32(out, uint32(h.TextEncoding))
	out = appendU32(out, h.UniqueID)
	out = appendU32(out, h.FileVersion)
	for i := 0; i < 10; i++ { // orthographic through extra indices
		out = appendU32(out, NoRecord)
	}
	out = appendU32(out, h.FirstNonTextRecord)
	out = appendU32(out, titleOffset)
	out = appendU32(out, uint32(len(h.Title)))
	out = appendU32(out, h.Language.Encode())
	out = appendU32(out, 0) // input language
	out = appendU32(out, 0) // output language
	out = appendU32(out, h.MinVersion)
	out = appendU32(out, h.FirstResourceRecord)
	out = appendU32(out, 0) // huff record
	out = appendU32(out, 0) // huff count
	out = appendU32(out, 0) // huff table offset
	out = appendU32(out, 0) // huff table length
	out = appendU32(out, uint32(h.ExthFlags))
	out = append(out, make([]byte, 32)...) // reserved
	out = appendU32(out, NoRecord)
	out = appendU32(out, NoRecord) // drm offset
	out = appendU32(out, NoRecord) // drm count
	out = appendU32(out, 0)        // drm size
	out = appendU32(out, 0)        // drm flags
	out = append(out, make([]byte, 8)...)
	out = appendU32(out, h.FDSTRecord)
	out = appendU32(out, h.FDSTCount)
	out = appendU32(out, h.FCISRecord)
	out = appendU32(out, 1) // fcis count
	out = appendU32(out, h.FLISRecord)
	out = appendU32(out, 1) // flis count
	out = append(out, make([]byte, 8)...)
	out = appendU32(out, h.SRCSRecord)
	out = appendU32(out, h.SRCSCount)
	out = appendU32(out, NoRecord)
	out = appendU32(out, NoRecord)
	out = appendU32(out, uint32(h.ExtraDataFlags))
	out = appendU32(out, h.NCXIndex)
	out = appendU32(out, h.ChunkIndex)
	out = appendU32(out, h.SkelIndex)
	out = appendU32(out, h.DATPIndex)
	out = appendU32(out, h.GuideIndex)
	out = appendU32(out, NoRecord)
	out = appendU32(out, 0)
	out = appendU32(out, NoRecord)
	out = appendU32(out, 0)

	if len(out) != record0FixedSize {
		return nil, fmt.Errorf("fixed section is %d bytes, want %d: %w", len(out), record0FixedSize, ErrInvariant)
	}

	out = append(out, exthData...)
	out = append(out, h.Title...)
	h.TitleOffset = titleOffset

	return out, nil
}
