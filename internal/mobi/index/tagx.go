// Package index implements the indirect index records (INDX) of the
// KF8 format: the TAGX schema declaration, the per-entry tag-map
// codec, the IDXT offset table and the CNCX string pool. The skeleton
// and chunk tables that reconstruct multi-file XHTML are typed
// projections of these records.
package index

import (
	"fmt"

	"github.com/codetheweb/kf8/internal/mobi"
)

// TagDefinition declares one tag of an index schema: its id, how many
// values one occurrence carries, and the control byte bits it owns.
type TagDefinition struct {
	Tag            uint8
	ValuesPerEntry uint8
	Mask           uint8
}

// maskShifts maps each known mask to the bit position of its least
// significant set bit.
var maskShifts = map[uint8]uint{
	1:   0,
	3:   0,
	2:   1,
	4:   2,
	12:  2,
	8:   3,
	16:  4,
	48:  4,
	32:  5,
	64:  6,
	192: 6,
	128: 7,
}

// TagTable is an ordered tag schema. The serialized form is terminated
// by the sentinel definition (tag 0, end flag 1).
type TagTable []TagDefinition

// SkeletonTagTable is the schema of the skeleton index.
var SkeletonTagTable = TagTable{
	{Tag: 1, ValuesPerEntry: 1, Mask: 3},
	{Tag: 6, ValuesPerEntry: 2, Mask: 12},
}

// ChunkTagTable is the schema of the chunk index.
var ChunkTagTable = TagTable{
	{Tag: 2, ValuesPerEntry: 1, Mask: 1},
	{Tag: 3, ValuesPerEntry: 1, Mask: 2},
	{Tag: 4, ValuesPerEntry: 1, Mask: 4},
	{Tag: 6, ValuesPerEntry: 2, Mask: 8},
}

// tagxFixedSize is the size of the TAGX block before the definitions.
const tagxFixedSize = 12

// MarshalTAGX serializes the schema declaration: "TAGX", the offset of
// the first entry past the definitions, the control byte count, then
// one 4-byte row per definition plus the sentinel.
func (t TagTable) MarshalTAGX() []byte {
	out := make([]byte, 0, tagxFixedSize+(len(t)+1)*4)
	out = append(out, "TAGX"...)
	out = appendU32(out, uint32(tagxFixedSize+(len(t)+1)*4))
	out = appendU32(out, 1) // control byte count
	for _, def := range t {
		out = append(out, def.Tag, def.ValuesPerEntry, def.Mask, 0)
	}
	out = append(out, 0, 0, 0, 1) // sentinel
	return out
}

// ParseTAGX decodes a schema declaration and returns the table and the
// number of bytes consumed.
func ParseTAGX(data []byte) (TagTable, int, error) {
	c := mobi.NewCursor(data)
	if err := c.Magic("TAGX"); err != nil {
		return nil, 0, err
	}
	length, err := c.U32()
	if err != nil {
		return nil, 0, err
	}
	if length < tagxFixedSize+4 || (length-tagxFixedSize)%4 != 0 {
		return nil, 0, fmt.Errorf("tagx length %d: %w", length, mobi.ErrInvariant)
	}
	controlBytes, err := c.U32()
	if err != nil {
		return nil, 0, err
	}
	if controlBytes != 1 {
		return nil, 0, fmt.Errorf("tagx control byte count %d, want 1: %w", controlBytes, mobi.ErrInvariant)
	}

	var table TagTable
	sawSentinel := false
	for off := tagxFixedSize; off < int(length); off += 4 {
		row, err := c.Take(4)
		if err != nil {
			return nil, 0, err
		}
		if row[3] == 1 {
			if row[0] != 0 {
				return nil, 0, fmt.Errorf("tagx end flag on tag %d: %w", row[0], mobi.ErrInvariant)
			}
			sawSentinel = true
			break
		}
		def := TagDefinition{Tag: row[0], ValuesPerEntry: row[1], Mask: row[2]}
		if _, ok := maskShifts[def.Mask]; !ok {
			return nil, 0, fmt.Errorf("tagx mask %#x for tag %d: %w", def.Mask, def.Tag, mobi.ErrUnknownEnum)
		}
		if def.ValuesPerEntry == 0 || def.ValuesPerEntry&(def.ValuesPerEntry-1) != 0 {
			return nil, 0, fmt.Errorf("tagx values per entry %d for tag %d: %w", def.ValuesPerEntry, def.Tag, mobi.ErrInvariant)
		}
		table = append(table, def)
	}
	if !sawSentinel {
		return nil, 0, fmt.Errorf("tagx missing sentinel: %w", mobi.ErrInvariant)
	}

	return table, c.Offset(), nil
}

func appendU16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendU32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
