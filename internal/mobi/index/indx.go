package index

import (
	"fmt"

	"github.com/codetheweb/kf8/internal/mobi"
)

// HeaderSize is the fixed size of every INDX header.
const HeaderSize = 192

// HeaderType distinguishes the two INDX record roles.
type HeaderType uint32

const (
	// HeaderTypeData marks a record holding tag-map entries and an
	// IDXT offset table.
	HeaderTypeData HeaderType = 1
	// HeaderTypeDefinition marks a record holding the TAGX schema.
	HeaderTypeDefinition HeaderType = 2
)

// indxEncodingUTF8 is the codepage field value of every index record.
const indxEncodingUTF8 = 0xFDE9

// Header is the 192-byte INDX header shared by definition and data
// records.
type Header struct {
	Type HeaderType
	// BlockOffset is the end of the entry-data region: for data
	// records, the offset of the IDXT block.
	BlockOffset uint32
	// NumEntries counts tag-map entries in a data record, and data
	// records in a definition record.
	NumEntries uint32
	// TotalEntries is the index-wide entry count (definition records).
	TotalEntries uint32
	// CNCXCount is the number of string pool records (definition
	// records).
	CNCXCount uint32
}

// MarshalBinary serializes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, HeaderSize)
	out = append(out, "INDX"...)
	out = appendU32(out, HeaderSize)
	out = appendU32(out, uint32(h.Type))
	out = appendU32(out, 0)
	out = appendU32(out, h.BlockOffset)
	out = appendU32(out, h.NumEntries)
	out = appendU32(out, indxEncodingUTF8)
	out = appendU32(out, 0) // language
	out = appendU32(out, h.TotalEntries)
	out = appendU32(out, 0) // ordt
	out = appendU32(out, 0) // ligt
	out = appendU32(out, 0) // ligt count
	out = appendU32(out, h.CNCXCount)
	out = append(out, make([]byte, HeaderSize-len(out))...)
	return out, nil
}

// ParseHeader decodes the 192-byte header at the start of data.
func ParseHeader(data []byte) (*Header, error) {
	c := mobi.NewCursor(data)
	if err := c.Magic("INDX"); err != nil {
		return nil, err
	}
	length, err := c.U32()
	if err != nil {
		return nil, err
	}
	if length != HeaderSize {
		return nil, fmt.Errorf("indx header length %d, want %d: %w", length, HeaderSize, mobi.ErrInvariant)
	}
	rawType, err := c.U32()
	if err != nil {
		return nil, err
	}
	h := &Header{Type: HeaderType(rawType)}
	switch h.Type {
	case HeaderTypeData, HeaderTypeDefinition:
	default:
		return nil, fmt.Errorf("indx header type %d: %w", rawType, mobi.ErrUnknownEnum)
	}
	if err := c.Skip(4); err != nil {
		return nil, err
	}
	if h.BlockOffset, err = c.U32(); err != nil {
		return nil, err
	}
	if h.NumEntries, err = c.U32(); err != nil {
		return nil, err
	}
	if err := c.Skip(8); err != nil { // encoding, language
		return nil, err
	}
	if h.TotalEntries, err = c.U32(); err != nil {
		return nil, err
	}
	if err := c.Skip(12); err != nil { // ordt, ligt, ligt count
		return nil, err
	}
	if h.CNCXCount, err = c.U32(); err != nil {
		return nil, err
	}
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("indx record of %d bytes: %w", len(data), mobi.ErrShortInput)
	}
	return h, nil
}

// DefinitionRecord is the leading record of an index: the header plus
// the TAGX schema.
type DefinitionRecord struct {
	Table TagTable
	// RecordCount is the number of data records following this one.
	RecordCount uint32
	// TotalEntries is the entry count across all data records.
	TotalEntries uint32
	// CNCXCount is the number of string pool records after the data
	// records.
	CNCXCount uint32
}

// MarshalBinary serializes the definition record, zero-padded to
// 4-byte alignment.
func (d *DefinitionRecord) MarshalBinary() ([]byte, error) {
	tagx := d.Table.MarshalTAGX()
	h := Header{
		Type:         HeaderTypeDefinition,
		BlockOffset:  uint32(HeaderSize + len(tagx)),
		NumEntries:   d.RecordCount,
		TotalEntries: d.TotalEntries,
		CNCXCount:    d.CNCXCount,
	}
	out, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, tagx...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out, nil
}

// ParseDefinitionRecord decodes an index definition record.
func ParseDefinitionRecord(data []byte) (*DefinitionRecord, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Type != HeaderTypeDefinition {
		return nil, fmt.Errorf("indx header type %d, want definition: %w", h.Type, mobi.ErrInvariant)
	}
	table, _, err := ParseTAGX(data[HeaderSize:])
	if err != nil {
		return nil, err
	}
	return &DefinitionRecord{
		Table:        table,
		RecordCount:  h.NumEntries,
		TotalEntries: h.TotalEntries,
		CNCXCount:    h.CNCXCount,
	}, nil
}

// DataRecord holds the tag-map entries of one index record.
type DataRecord struct {
	Entries []TagMapEntry
}

// MarshalBinary serializes the record: header, concatenated entry
// bodies, the IDXT magic, one u16 offset per entry, then zero padding
// to 4-byte alignment.
func (d *DataRecord) MarshalBinary(table TagTable) ([]byte, error) {
	var bodies []byte
	offsets := make([]uint16, 0, len(d.Entries))

	for _, e := range d.Entries {
		if len(e.Text) > 0xFF {
			return nil, fmt.Errorf("entry key %q longer than 255 bytes: %w", e.Text, mobi.ErrOverflow)
		}
		offset := HeaderSize + len(bodies)
		if offset > 0xFFFF {
			return nil, fmt.Errorf("entry offset %d exceeds u16: %w", offset, mobi.ErrOverflow)
		}
		offsets = append(offsets, uint16(offset))

		bodies = append(bodies, byte(len(e.Text)))
		bodies = append(bodies, e.Text...)
		tagMap, err := EncodeTagMap(e, table)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, tagMap...)
	}

	h := Header{
		Type:        HeaderTypeData,
		BlockOffset: uint32(HeaderSize + len(bodies)),
		NumEntries:  uint32(len(d.Entries)),
	}
	out, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, bodies...)
	out = append(out, "IDXT"...)
	for _, off := range offsets {
		out = appendU16(out, off)
	}
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out, nil
}

// ParseDataRecord decodes an index data record against the schema from
// its definition record.
func ParseDataRecord(data []byte, table TagTable) (*DataRecord, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Type != HeaderTypeData {
		return nil, fmt.Errorf("indx header type %d, want data: %w", h.Type, mobi.ErrInvariant)
	}
	idxtStart := int(h.BlockOffset)
	if idxtStart < HeaderSize || idxtStart+4 > len(data) {
		return nil, fmt.Errorf("idxt offset %d outside record of %d bytes: %w", idxtStart, len(data), mobi.ErrInvariant)
	}

	c := mobi.NewCursor(data[idxtStart:])
	if err := c.Magic("IDXT"); err != nil {
		return nil, err
	}
	offsets := make([]int, h.NumEntries)
	for i := range offsets {
		off, err := c.U16()
		if err != nil {
			return nil, fmt.Errorf("idxt entry %d: %w", i, err)
		}
		offsets[i] = int(off)
	}

	entries := make([]TagMapEntry, 0, h.NumEntries)
	for i, off := range offsets {
		end := idxtStart
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if off < HeaderSize || off >= end || end > len(data) {
			return nil, fmt.Errorf("index entry %d offset %d: %w", i, off, mobi.ErrInvariant)
		}
		body := data[off:end]

		textLen := int(body[0])
		if 1+textLen > len(body) {
			return nil, fmt.Errorf("index entry %d key of %d bytes overruns entry: %w", i, textLen, mobi.ErrShortInput)
		}
		text := string(body[1 : 1+textLen])

		values, _, err := DecodeTagMap(body[1+textLen:], table)
		if err != nil {
			return nil, fmt.Errorf("index entry %d (%q): %w", i, text, err)
		}
		entries = append(entries, TagMapEntry{Text: text, Values: values})
	}

	return &DataRecord{Entries: entries}, nil
}
