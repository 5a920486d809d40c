package kf8

import (
	"fmt"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"

	"github.com/codetheweb/kf8/internal/mobi"
)

// ResourceKind classifies a resource for collaborators.
type ResourceKind uint8

const (
	// ResourceCover is the image addressed by the EXTH cover offset.
	ResourceCover ResourceKind = iota
	// ResourceThumbnail is the image addressed by the EXTH thumb offset.
	ResourceThumbnail
	// ResourceImage is any other embedded image.
	ResourceImage
	// ResourceFont is an embedded font, inflated from its FONT record.
	ResourceFont
	// ResourceStylesheet is an auxiliary text flow.
	ResourceStylesheet
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceCover:
		return "cover"
	case ResourceThumbnail:
		return "thumbnail"
	case ResourceImage:
		return "image"
	case ResourceFont:
		return "font"
	case ResourceStylesheet:
		return "stylesheet"
	}
	return fmt.Sprintf("resource kind %d", uint8(k))
}

// Resource is one embedded asset of a book.
type Resource struct {
	Kind     ResourceKind
	Data     []byte
	MIMEType string
	// FlowIndex is the packed-text flow the resource came from, or -1
	// for record-backed resources.
	FlowIndex int
}

// resourceSentinels are the record magics that carry structural data
// rather than resources; they are recognized and passed over.
var resourceSentinels = map[string]struct{}{
	"FLIS":             {},
	"FCIS":             {},
	"FDST":             {},
	"DATP":             {},
	"SRCS":             {},
	"PAGE":             {},
	"CMET":             {},
	"CRES":             {},
	"CONT":             {},
	"kind":             {},
	"RESC":             {},
	"BOUN":             {},
	"\xA0\xA0\xA0\xA0": {},
	"\xE9\x8E\x0D\x0A": {},
}

// classifyResource decodes one record at or past the first resource
// record. It returns (nil, nil) for sentinel records and for data no
// sniffer recognizes; the caller records those as skipped.
func classifyResource(record []byte, kind ResourceKind) (*Resource, error) {
	if len(record) < 4 {
		return nil, nil
	}
	magic := string(record[:4])
	if _, ok := resourceSentinels[magic]; ok {
		return nil, nil
	}

	if magic == "FONT" {
		payload, err := mobi.ParseFontRecord(record)
		if err != nil {
			return nil, err
		}
		return &Resource{
			Kind:      ResourceFont,
			Data:      payload,
			MIMEType:  sniffMIME(payload, "application/octet-stream"),
			FlowIndex: -1,
		}, nil
	}

	t, err := filetype.Match(record)
	if err != nil || t == types.Unknown {
		return nil, nil
	}
	return &Resource{
		Kind:      kind,
		Data:      append([]byte(nil), record...),
		MIMEType:  t.MIME.Value,
		FlowIndex: -1,
	}, nil
}

// sniffMIME returns the sniffed MIME type of data, or fallback when
// nothing matches.
func sniffMIME(data []byte, fallback string) string {
	t, err := filetype.Match(data)
	if err != nil || t == types.Unknown {
		return fallback
	}
	return t.MIME.Value
}
