package mobi

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// PalmEpochOffset is the difference in seconds between the Unix epoch
// and the Palm epoch (1904-01-01 00:00:00 UTC).
const PalmEpochOffset = 2082844800

// pdbHeaderSize is the fixed size of the PalmDB header.
const pdbHeaderSize = 78

// pdbRecordEntrySize is the size of one record descriptor.
const pdbRecordEntrySize = 8

// PalmDB is the outer file container: a fixed header, a record offset
// table, and the concatenated record bodies.
type PalmDB struct {
	// Name is the database name, normalized to printable ASCII.
	Name string
	// CreatedAt, ModifiedAt and BackedUpAt are Palm epoch seconds.
	CreatedAt  uint32
	ModifiedAt uint32
	BackedUpAt uint32
	Records    [][]byte

	// offsets holds the record file offsets seen during parsing.
	offsets []uint32
}

// NewPalmDB creates an empty container named title. The creation time
// defaults to the current UTC time when a zero value is provided; pass
// a fixed time for deterministic output.
func NewPalmDB(title string, creation time.Time) *PalmDB {
	if creation.IsZero() {
		creation = time.Now().UTC()
	}
	stamp := PalmEpochSeconds(creation)
	return &PalmDB{
		Name:       NormalizeDatabaseName(title),
		CreatedAt:  stamp,
		ModifiedAt: stamp,
	}
}

// PalmEpochSeconds converts a time.Time to Palm epoch seconds.
func PalmEpochSeconds(t time.Time) uint32 {
	return uint32(t.Unix()) + PalmEpochOffset
}

// AddRecord appends a record body and returns its index.
func (p *PalmDB) AddRecord(data []byte) int {
	p.Records = append(p.Records, data)
	return len(p.Records) - 1
}

// RecordOffset returns the file offset of record i: the offset seen
// during parsing, or the canonical layout position (header, descriptor
// table, 2-byte padding, then bodies) for a container being built.
func (p *PalmDB) RecordOffset(i int) uint32 {
	if p.offsets != nil {
		return p.offsets[i]
	}
	offset := uint32(pdbHeaderSize + len(p.Records)*pdbRecordEntrySize + 2)
	for j := 0; j < i; j++ {
		offset += uint32(len(p.Records[j]))
	}
	return offset
}

// MarshalBinary serializes the container. Record offsets are computed
// from the body sizes; the descriptor unique ids are sequential from 0.
func (p *PalmDB) MarshalBinary() ([]byte, error) {
	n := len(p.Records)
	if n == 0 || n > math.MaxUint16 {
		return nil, fmt.Errorf("record count %d outside PalmDB limits: %w", n, ErrOverflow)
	}

	total := pdbHeaderSize + n*pdbRecordEntrySize + 2
	for _, rec := range p.Records {
		total += len(rec)
	}
	if uint64(total) > math.MaxUint32 {
		return nil, fmt.Errorf("file size %d exceeds u32 offsets: %w", total, ErrOverflow)
	}

	out := make([]byte, 0, total)

	var name [32]byte
	copy(name[:], NormalizeDatabaseName(p.Name))
	out = append(out, name[:]...)

	out = appendU16(out, 0) // attributes
	out = appendU16(out, 0) // version
	out = appendU32(out, p.CreatedAt)
	out = appendU32(out, p.ModifiedAt)
	out = appendU32(out, p.BackedUpAt)
	out = appendU32(out, 0) // modification number
	out = appendU32(out, 0) // app info offset
	out = appendU32(out, 0) // sort info offset
	out = append(out, "BOOK"...)
	out = append(out, "MOBI"...)
	out = appendU32(out, uint32(2*n-1)) // unique id seed
	out = appendU32(out, 0)             // next record list
	out = appendU16(out, uint16(n))

	offset := uint32(pdbHeaderSize + n*pdbRecordEntrySize + 2)
	for i, rec := range p.Records {
		out = appendU32(out, offset)
		out = append(out, 0) // flags
		out = append(out, byte(i>>16), byte(i>>8), byte(i))
		offset += uint32(len(rec))
	}
	out = appendU16(out, 0)

	for _, rec := range p.Records {
		out = append(out, rec...)
	}

	return out, nil
}

// ParsePalmDB lifts a raw byte stream into a PalmDB. Record offsets
// must be strictly increasing and inside the file; the last record
// extends to the end of the input.
func ParsePalmDB(data []byte) (*PalmDB, error) {
	c := NewCursor(data)

	nameBytes, err := c.Take(32)
	if err != nil {
		return nil, fmt.Errorf("database name: %w", err)
	}
	name := string(trimNul(nameBytes))

	if err := c.Skip(4); err != nil { // attributes, version
		return nil, err
	}
	created, err := c.U32()
	if err != nil {
		return nil, err
	}
	modified, err := c.U32()
	if err != nil {
		return nil, err
	}
	backedUp, err := c.U32()
	if err != nil {
		return nil, err
	}
	if err := c.Skip(12); err != nil { // modification number, app info, sort info
		return nil, err
	}
	if err := c.Magic("BOOK"); err != nil {
		return nil, fmt.Errorf("database type: %w", err)
	}
	if err := c.Magic("MOBI"); err != nil {
		return nil, fmt.Errorf("database creator: %w", err)
	}
	if err := c.Skip(8); err != nil { // unique id seed, next record list
		return nil, err
	}
	numRecords, err := c.U16()
	if err != nil {
		return nil, err
	}
	if numRecords == 0 {
		return nil, fmt.Errorf("empty record list: %w", ErrInvariant)
	}

	offsets := make([]uint32, numRecords)
	for i := range offsets {
		off, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("record descriptor %d: %w", i, err)
		}
		if err := c.Skip(4); err != nil { // flags + unique id
			return nil, fmt.Errorf("record descriptor %d: %w", i, err)
		}
		offsets[i] = off
	}

	minOffset := uint32(pdbHeaderSize + int(numRecords)*pdbRecordEntrySize + 2)
	records := make([][]byte, numRecords)
	for i, off := range offsets {
		if off < minOffset || int(off) > len(data) {
			return nil, fmt.Errorf("record %d offset %d outside file: %w", i, off, ErrInvariant)
		}
		end := len(data)
		if i+1 < len(offsets) {
			next := offsets[i+1]
			if next <= off {
				return nil, fmt.Errorf("record offsets not increasing at record %d: %w", i, ErrInvariant)
			}
			if int(next) > len(data) {
				return nil, fmt.Errorf("record %d offset %d outside file: %w", i+1, next, ErrInvariant)
			}
			end = int(next)
		}
		// Copy so the container owns its records and no reference into
		// the caller's input survives.
		records[i] = append([]byte(nil), data[off:end]...)
	}

	return &PalmDB{
		Name:       name,
		CreatedAt:  created,
		ModifiedAt: modified,
		BackedUpAt: backedUp,
		Records:    records,
		offsets:    offsets,
	}, nil
}

// NormalizeDatabaseName maps a title to the printable 31-byte database
// name: spaces become underscores, anything outside printable ASCII
// becomes a question mark.
func NormalizeDatabaseName(title string) string {
	out := make([]byte, 0, len(title))
	for _, b := range []byte(title) {
		switch {
		case b == ' ':
			out = append(out, '_')
		case b < 0x20 || b > 0x7E:
			out = append(out, '?')
		default:
			out = append(out, b)
		}
	}
	if len(out) > 31 {
		out = out[:31]
	}
	return string(out)
}

func trimNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func appendU16(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}
