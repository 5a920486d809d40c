package kf8

// Fragment is one chunk of XHTML content inserted into a skeleton.
type Fragment struct {
	// Index is the fragment's position in the book-wide chunk table.
	Index   int
	Content []byte
}

// BookPart is one reassembled XHTML file: a skeleton shell split at the
// fragment insert position, plus the fragments themselves.
type BookPart struct {
	Filename     string
	SkeletonHead []byte
	Fragments    []Fragment
	SkeletonTail []byte

	// StartOffset and EndOffset delimit the part's bytes within flow 0.
	StartOffset int
	EndOffset   int
}

// Content returns the rendered bytes of the part: the skeleton head,
// every fragment in order, then the skeleton tail.
func (p *BookPart) Content() []byte {
	size := len(p.SkeletonHead) + len(p.SkeletonTail)
	for _, f := range p.Fragments {
		size += len(f.Content)
	}
	out := make([]byte, 0, size)
	out = append(out, p.SkeletonHead...)
	for _, f := range p.Fragments {
		out = append(out, f.Content...)
	}
	out = append(out, p.SkeletonTail...)
	return out
}

// Book is the structured form of a KF8 container.
type Book struct {
	Title    string
	UID      uint32
	Language LanguageCode

	// Parts are the reflowable XHTML files, in spine order.
	Parts []BookPart

	// Stylesheets are the auxiliary text flows (flow 1 onward).
	Stylesheets []string

	// Resources are the record-backed resources: images and fonts.
	Resources []Resource

	Compression CompressionType

	// Metadata is the EXTH block. May be nil for a book built from
	// scratch; the writer then creates one.
	Metadata *EXTH

	// SkippedResourceRecords lists record indices that carried neither
	// a known sentinel nor sniffable resource data. Collaborators may
	// log them; parsing continues past them.
	SkippedResourceRecords []int
}

// BCP47LanguageTag derives a BCP-47 tag from the encoded language code
// pair. The second return is false when no language is set.
func (b *Book) BCP47LanguageTag() (string, bool) {
	return b.Language.BCP47()
}

// AllResources lists every resource a collaborator needs to emit: the
// stylesheet flows first, then the record-backed images and fonts.
func (b *Book) AllResources() []Resource {
	out := make([]Resource, 0, len(b.Stylesheets)+len(b.Resources))
	for i, css := range b.Stylesheets {
		out = append(out, Resource{
			Kind:      ResourceStylesheet,
			Data:      []byte(css),
			MIMEType:  "text/css",
			FlowIndex: i + 1,
		})
	}
	out = append(out, b.Resources...)
	return out
}
