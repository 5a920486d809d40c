package index

import (
	"fmt"
	"unicode/utf8"

	"github.com/codetheweb/kf8/internal/mobi"
	"github.com/codetheweb/kf8/internal/vwi"
)

// maxCNCXRecordSize caps one string pool record; strings never span
// records.
const maxCNCXRecordSize = 0xFFFF - 1024

// cncxRecordShift turns a record index into the high part of a global
// string offset.
const cncxRecordShift = 0x10000

// CNCXBuilder packs strings into pool records and hands out the global
// offsets that tag values store.
type CNCXBuilder struct {
	records [][]byte
}

// Add appends s to the pool and returns its global offset
// (record index * 0x10000 + offset within the record).
func (b *CNCXBuilder) Add(s string) (uint32, error) {
	encoded := vwi.AppendForward(nil, uint32(len(s)))
	encoded = append(encoded, s...)
	if len(encoded) > maxCNCXRecordSize {
		return 0, fmt.Errorf("cncx string of %d bytes exceeds record cap: %w", len(s), mobi.ErrOverflow)
	}

	if len(b.records) == 0 || len(b.records[len(b.records)-1])+len(encoded) > maxCNCXRecordSize {
		b.records = append(b.records, nil)
	}
	last := len(b.records) - 1
	offset := uint32(last)*cncxRecordShift + uint32(len(b.records[last]))
	b.records[last] = append(b.records[last], encoded...)
	return offset, nil
}

// Records returns the pool records, each zero-padded to 4-byte
// alignment. The result is empty when nothing was added.
func (b *CNCXBuilder) Records() [][]byte {
	out := make([][]byte, len(b.records))
	for i, rec := range b.records {
		rec = append([]byte(nil), rec...)
		for len(rec)%4 != 0 {
			rec = append(rec, 0)
		}
		out[i] = rec
	}
	return out
}

// CNCXPool resolves global string offsets against parsed pool records.
type CNCXPool struct {
	records [][]byte
}

// NewCNCXPool wraps the string pool records of an index.
func NewCNCXPool(records [][]byte) *CNCXPool {
	return &CNCXPool{records: records}
}

// Get resolves a global offset to its string.
func (p *CNCXPool) Get(offset uint32) (string, error) {
	recordIndex := int(offset / cncxRecordShift)
	within := int(offset % cncxRecordShift)
	if recordIndex >= len(p.records) {
		return "", fmt.Errorf("cncx offset %#x addresses record %d of %d: %w", offset, recordIndex, len(p.records), mobi.ErrInvariant)
	}
	record := p.records[recordIndex]
	if within >= len(record) {
		return "", fmt.Errorf("cncx offset %#x outside record of %d bytes: %w", offset, len(record), mobi.ErrInvariant)
	}

	length, n, err := vwi.DecodeForward(record[within:])
	if err != nil {
		return "", fmt.Errorf("cncx string length at %#x: %w", offset, err)
	}
	start := within + n
	end := start + int(length)
	if end > len(record) {
		return "", fmt.Errorf("cncx string at %#x of %d bytes overruns record: %w", offset, length, mobi.ErrShortInput)
	}
	s := record[start:end]
	if !utf8.Valid(s) {
		return "", fmt.Errorf("cncx string at %#x: %w", offset, mobi.ErrUTF8)
	}
	return string(s), nil
}
