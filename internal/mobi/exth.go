package mobi

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// MetadataID identifies an EXTH entry whose payload is a string.
type MetadataID uint32

const (
	MetaCreator             MetadataID = 100
	MetaPublisher           MetadataID = 101
	MetaImprint             MetadataID = 102
	MetaDescription         MetadataID = 103
	MetaISBN                MetadataID = 104
	MetaSubject             MetadataID = 105
	MetaPublishingDate      MetadataID = 106
	MetaReview              MetadataID = 107
	MetaContributor         MetadataID = 108
	MetaRights              MetadataID = 109
	MetaSubjectCode         MetadataID = 110
	MetaType                MetadataID = 111
	MetaSource              MetadataID = 112
	MetaASIN                MetadataID = 113
	MetaAdult               MetadataID = 117
	MetaRetailPrice         MetadataID = 118
	MetaRetailPriceCurrency MetadataID = 119
	MetaKF8CoverURI         MetadataID = 129
	MetaUpdatedTitle        MetadataID = 503
	MetaLanguage            MetadataID = 524
)

// MetadataValueID identifies an EXTH entry whose payload is an integer.
type MetadataValueID uint32

const (
	MetaVersionNumber       MetadataValueID = 114
	MetaSample              MetadataValueID = 115
	MetaStartReading        MetadataValueID = 116
	MetaKF8BoundaryOffset   MetadataValueID = 121
	MetaKF8ResourceCount    MetadataValueID = 125
	MetaKF8UnknownCount     MetadataValueID = 131
	MetaCoverOffset         MetadataValueID = 201
	MetaThumbOffset         MetadataValueID = 202
	MetaHasFakeCover        MetadataValueID = 203
	MetaCreatorSoftware     MetadataValueID = 204
	MetaCreatorMajorVersion MetadataValueID = 205
	MetaCreatorMinorVersion MetadataValueID = 206
	MetaCreatorBuildNumber  MetadataValueID = 207
)

var metadataIDNames = map[MetadataID]string{
	MetaCreator:             "creator",
	MetaPublisher:           "publisher",
	MetaImprint:             "imprint",
	MetaDescription:         "description",
	MetaISBN:                "isbn",
	MetaSubject:             "subject",
	MetaPublishingDate:      "publishing date",
	MetaReview:              "review",
	MetaContributor:         "contributor",
	MetaRights:              "rights",
	MetaSubjectCode:         "subject code",
	MetaType:                "type",
	MetaSource:              "source",
	MetaASIN:                "asin",
	MetaAdult:               "adult",
	MetaRetailPrice:         "retail price",
	MetaRetailPriceCurrency: "retail price currency",
	MetaKF8CoverURI:         "kf8 cover uri",
	MetaUpdatedTitle:        "updated title",
	MetaLanguage:            "language",
}

var metadataValueIDNames = map[MetadataValueID]string{
	MetaVersionNumber:       "version number",
	MetaSample:              "sample",
	MetaStartReading:        "start reading",
	MetaKF8BoundaryOffset:   "kf8 boundary offset",
	MetaKF8ResourceCount:    "kf8 resource count",
	MetaKF8UnknownCount:     "kf8 unknown count",
	MetaCoverOffset:         "cover offset",
	MetaThumbOffset:         "thumb offset",
	MetaHasFakeCover:        "has fake cover",
	MetaCreatorSoftware:     "creator software",
	MetaCreatorMajorVersion: "creator major version",
	MetaCreatorMinorVersion: "creator minor version",
	MetaCreatorBuildNumber:  "creator build number",
}

// Name returns a human-readable label for the id.
func (id MetadataID) Name() string {
	if n, ok := metadataIDNames[id]; ok {
		return n
	}
	return fmt.Sprintf("metadata id %d", uint32(id))
}

// Name returns a human-readable label for the id.
func (id MetadataValueID) Name() string {
	if n, ok := metadataValueIDNames[id]; ok {
		return n
	}
	return fmt.Sprintf("metadata value id %d", uint32(id))
}

// EXTH is the typed metadata block appended to the MOBI header: two
// ordered multimaps, one keyed by string-valued ids and one by
// integer-valued ids. Iteration follows insertion order.
type EXTH struct {
	stringOrder []MetadataID
	strings     map[MetadataID][]string
	valueOrder  []MetadataValueID
	values      map[MetadataValueID][]uint32
}

// NewEXTH returns an empty metadata block.
func NewEXTH() *EXTH {
	return &EXTH{
		strings: make(map[MetadataID][]string),
		values:  make(map[MetadataValueID][]uint32),
	}
}

// AddString appends a string entry under id.
func (e *EXTH) AddString(id MetadataID, value string) {
	if _, ok := e.strings[id]; !ok {
		e.stringOrder = append(e.stringOrder, id)
	}
	e.strings[id] = append(e.strings[id], value)
}

// AddValue appends an integer entry under id.
func (e *EXTH) AddValue(id MetadataValueID, value uint32) {
	if _, ok := e.values[id]; !ok {
		e.valueOrder = append(e.valueOrder, id)
	}
	e.values[id] = append(e.values[id], value)
}

// Clone returns a deep copy of the block.
func (e *EXTH) Clone() *EXTH {
	out := NewEXTH()
	out.stringOrder = append([]MetadataID(nil), e.stringOrder...)
	for id, vs := range e.strings {
		out.strings[id] = append([]string(nil), vs...)
	}
	out.valueOrder = append([]MetadataValueID(nil), e.valueOrder...)
	for id, vs := range e.values {
		out.values[id] = append([]uint32(nil), vs...)
	}
	return out
}

// SetString replaces the entries under id with a single value, keeping
// the id's position in the serialization order.
func (e *EXTH) SetString(id MetadataID, value string) {
	if _, ok := e.strings[id]; !ok {
		e.stringOrder = append(e.stringOrder, id)
	}
	e.strings[id] = []string{value}
}

// SetValue replaces the entries under id with a single integer, keeping
// the id's position in the serialization order.
func (e *EXTH) SetValue(id MetadataValueID, value uint32) {
	if _, ok := e.values[id]; !ok {
		e.valueOrder = append(e.valueOrder, id)
	}
	e.values[id] = []uint32{value}
}

// Strings returns the values recorded under id, in insertion order.
func (e *EXTH) Strings(id MetadataID) []string {
	return e.strings[id]
}

// Values returns the integers recorded under id, in insertion order.
func (e *EXTH) Values(id MetadataValueID) []uint32 {
	return e.values[id]
}

// FirstValue returns the first integer recorded under id.
func (e *EXTH) FirstValue(id MetadataValueID) (uint32, bool) {
	vs := e.values[id]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

// FirstString returns the first string recorded under id.
func (e *EXTH) FirstString(id MetadataID) (string, bool) {
	vs := e.strings[id]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// StringIDs returns the string-valued ids in insertion order.
func (e *EXTH) StringIDs() []MetadataID {
	return e.stringOrder
}

// ValueIDs returns the integer-valued ids in insertion order.
func (e *EXTH) ValueIDs() []MetadataValueID {
	return e.valueOrder
}

// EntryCount returns the number of serialized entries.
func (e *EXTH) EntryCount() int {
	n := 0
	for _, id := range e.stringOrder {
		n += len(e.strings[id])
	}
	for _, id := range e.valueOrder {
		n += len(e.values[id])
	}
	return n
}

// MarshalBinary serializes the block: "EXTH", total length, entry
// count, the entries, then zero padding to 4-byte alignment. String
// payloads are UTF-8; integer payloads take 1, 2 or 4 bytes by
// magnitude.
func (e *EXTH) MarshalBinary() ([]byte, error) {
	out := []byte("EXTH")
	out = appendU32(out, 0) // length, patched below
	out = appendU32(out, uint32(e.EntryCount()))

	for _, id := range e.stringOrder {
		for _, s := range e.strings[id] {
			out = appendU32(out, uint32(id))
			out = appendU32(out, uint32(8+len(s)))
			out = append(out, s...)
		}
	}
	for _, id := range e.valueOrder {
		for _, v := range e.values[id] {
			out = appendU32(out, uint32(id))
			switch {
			case v < 0x100:
				out = appendU32(out, 9)
				out = append(out, byte(v))
			case v < 0x10000:
				out = appendU32(out, 10)
				out = appendU16(out, uint16(v))
			default:
				out = appendU32(out, 12)
				out = appendU32(out, v)
			}
		}
	}

	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	putU32(out[4:8], uint32(len(out)))
	return out, nil
}

// ParseEXTH reads a serialized block. String payloads are decoded per
// the book's text encoding; unknown ids fail parsing.
func ParseEXTH(data []byte, encoding TextEncoding) (*EXTH, error) {
	c := NewCursor(data)
	if err := c.Magic("EXTH"); err != nil {
		return nil, err
	}
	length, err := c.U32()
	if err != nil {
		return nil, err
	}
	if int(length) > len(data) || length < 12 {
		return nil, fmt.Errorf("exth length %d outside block of %d bytes: %w", length, len(data), ErrInvariant)
	}
	count, err := c.U32()
	if err != nil {
		return nil, err
	}

	e := NewEXTH()
	for i := uint32(0); i < count; i++ {
		id, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("exth entry %d: %w", i, err)
		}
		entryLen, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("exth entry %d: %w", i, err)
		}
		if entryLen < 8 {
			return nil, fmt.Errorf("exth entry %d length %d: %w", i, entryLen, ErrInvariant)
		}
		payload, err := c.Take(int(entryLen) - 8)
		if err != nil {
			return nil, fmt.Errorf("exth entry %d: %w", i, err)
		}

		if _, ok := metadataIDNames[MetadataID(id)]; ok {
			s, err := decodeText(payload, encoding)
			if err != nil {
				return nil, fmt.Errorf("exth %s: %w", MetadataID(id).Name(), err)
			}
			e.AddString(MetadataID(id), s)
			continue
		}
		if _, ok := metadataValueIDNames[MetadataValueID(id)]; ok {
			var v uint32
			switch len(payload) {
			case 1:
				v = uint32(payload[0])
			case 2:
				v = uint32(payload[0])<<8 | uint32(payload[1])
			case 4:
				v = uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
			default:
				return nil, fmt.Errorf("exth %s payload of %d bytes: %w", MetadataValueID(id).Name(), len(payload), ErrInvariant)
			}
			e.AddValue(MetadataValueID(id), v)
			continue
		}
		return nil, fmt.Errorf("exth id %d: %w", id, ErrUnknownEnum)
	}

	return e, nil
}

// decodeText converts a text payload to a Go string per the declared
// encoding.
func decodeText(data []byte, encoding TextEncoding) (string, error) {
	switch encoding {
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return "", ErrUTF8
		}
		return string(data), nil
	case EncodingCp1252:
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("cp1252 decode: %w", err)
		}
		return string(decoded), nil
	default:
		return "", fmt.Errorf("text encoding %#x: %w", uint32(encoding), ErrUnknownEnum)
	}
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
