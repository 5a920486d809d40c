package index

import (
	"fmt"
	"math/bits"

	"github.com/codetheweb/kf8/internal/mobi"
	"github.com/codetheweb/kf8/internal/vwi"
)

// TagMapEntry is one row of an index: a text key plus the values
// recorded per tag, grouped by tag id.
type TagMapEntry struct {
	Text   string
	Values map[uint8][]uint32
}

// EncodeTagMap serializes the entry body after the text key: one
// control byte computed from tag presence, then the present tags'
// values in definition order as forward variable-width integers. A tag
// whose occurrence count does not fit its mask bits is stored in
// byte-length mode: all mask bits set, then a length prefix.
func EncodeTagMap(e TagMapEntry, table TagTable) ([]byte, error) {
	control := uint8(0)
	var body []byte

	for _, def := range table {
		values := e.Values[def.Tag]
		if len(values) == 0 {
			continue
		}
		if len(values)%int(def.ValuesPerEntry) != 0 {
			return nil, fmt.Errorf("tag %d holds %d values, not a multiple of %d: %w",
				def.Tag, len(values), def.ValuesPerEntry, mobi.ErrInvariant)
		}
		count := len(values) / int(def.ValuesPerEntry)

		var encoded []byte
		for _, v := range values {
			encoded = vwi.AppendForward(encoded, v)
		}

		shift := maskShifts[def.Mask]
		counted := uint32(count) << shift
		// A fully saturated multi-bit mask is the byte-length marker; a
		// saturated single-bit mask just means one occurrence.
		if counted&^uint32(def.Mask) == 0 &&
			(bits.OnesCount8(def.Mask) == 1 || uint8(counted) != def.Mask) {
			control |= uint8(counted)
			body = append(body, encoded...)
			continue
		}
		if bits.OnesCount8(def.Mask) < 2 {
			return nil, fmt.Errorf("tag %d count %d does not fit mask %#x: %w",
				def.Tag, count, def.Mask, mobi.ErrOverflow)
		}
		// Byte-length mode: the control bits saturate and a length
		// prefix precedes the values.
		control |= def.Mask
		body = vwi.AppendForward(body, uint32(len(encoded)))
		body = append(body, encoded...)
	}

	out := make([]byte, 0, 1+len(body))
	out = append(out, control)
	out = append(out, body...)
	return out, nil
}

// DecodeTagMap inverts EncodeTagMap. It returns the values keyed by
// tag and the number of bytes consumed.
func DecodeTagMap(data []byte, table TagTable) (map[uint8][]uint32, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("tag map: %w", mobi.ErrShortInput)
	}
	control := data[0]
	pos := 1

	type pending struct {
		def        TagDefinition
		lengthMode bool
		count      int
		byteLength int
	}
	var headers []pending

	for _, def := range table {
		value := control & def.Mask
		if value == 0 {
			continue
		}
		if value == def.Mask && bits.OnesCount8(def.Mask) > 1 {
			length, n, err := vwi.DecodeForward(data[pos:])
			if err != nil {
				return nil, 0, fmt.Errorf("tag %d length prefix: %w", def.Tag, err)
			}
			pos += n
			headers = append(headers, pending{def: def, lengthMode: true, byteLength: int(length)})
			continue
		}
		headers = append(headers, pending{def: def, count: int(value >> maskShifts[def.Mask])})
	}

	values := make(map[uint8][]uint32)
	for _, h := range headers {
		if h.lengthMode {
			consumed := 0
			for consumed < h.byteLength {
				v, n, err := vwi.DecodeForward(data[pos:])
				if err != nil {
					return nil, 0, fmt.Errorf("tag %d values: %w", h.def.Tag, err)
				}
				pos += n
				consumed += n
				values[h.def.Tag] = append(values[h.def.Tag], v)
			}
			if consumed != h.byteLength {
				return nil, 0, fmt.Errorf("tag %d values overrun %d-byte region by %d: %w",
					h.def.Tag, h.byteLength, consumed-h.byteLength, mobi.ErrInvariant)
			}
			continue
		}
		total := h.count * int(h.def.ValuesPerEntry)
		for i := 0; i < total; i++ {
			v, n, err := vwi.DecodeForward(data[pos:])
			if err != nil {
				return nil, 0, fmt.Errorf("tag %d values: %w", h.def.Tag, err)
			}
			pos += n
			values[h.def.Tag] = append(values[h.def.Tag], v)
		}
	}

	return values, pos, nil
}
