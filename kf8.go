// Package kf8 is a bidirectional codec for Amazon's KF8 (.azw3) e-book
// container. ParseBook lifts a raw byte stream into a Book — metadata,
// reassembled XHTML parts, flows and resources — and Book.MarshalBinary
// serializes a Book back into a complete PalmDB byte stream.
//
// The codec is synchronous and allocation-owned: parsing never retains
// references into the caller's input, and serialization fully buffers
// its output so header fields can be back-patched after layout.
package kf8

import "github.com/codetheweb/kf8/internal/mobi"

// Re-exported container types; the binary layer lives in internal/mobi.
type (
	CompressionType = mobi.CompressionType
	TextEncoding    = mobi.TextEncoding
	LanguageCode    = mobi.LanguageCode
	EXTH            = mobi.EXTH
	MetadataID      = mobi.MetadataID
	MetadataValueID = mobi.MetadataValueID
)

const (
	CompressionNone    = mobi.CompressionNone
	CompressionPalmDoc = mobi.CompressionPalmDoc
)

// NewEXTH returns an empty metadata block.
func NewEXTH() *EXTH {
	return mobi.NewEXTH()
}

// Error kinds reported by the codec; match with errors.Is.
var (
	ErrShortInput    = mobi.ErrShortInput
	ErrBadMagic      = mobi.ErrBadMagic
	ErrUnknownEnum   = mobi.ErrUnknownEnum
	ErrInvariant     = mobi.ErrInvariant
	ErrDecompression = mobi.ErrDecompression
	ErrUTF8          = mobi.ErrUTF8
	ErrOverflow      = mobi.ErrOverflow
)
