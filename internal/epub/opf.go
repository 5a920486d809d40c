package epub

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// OPF is the parsed package document: the metadata, manifest, spine
// and guide the pack pipeline walks to assemble a Book.
type OPF struct {
	Metadata      Metadata
	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string                // manifest ids in document order
	Spine         []SpineItem
	Guide         []GuideReference
	// NCXPath is the legacy navigation document, resolved but unused
	// here (the codec does not emit an NCX).
	NCXPath                  string
	PageProgressionDirection string // "rtl", "ltr", or ""
}

// Metadata is the Dublin Core subset the converter consumes.
type Metadata struct {
	Title       string
	Creators    []Creator
	Language    string
	Identifier  string
	Publisher   string
	Date        string
	Description string
	Subjects    []string
	Rights      string
	// CoverID is the manifest id named by <meta name="cover"> (EPUB 2).
	CoverID string
}

// Creator is one dc:creator entry with its refined role.
type Creator struct {
	Name string
	Role string // MARC relator, e.g. "aut"
	Lang string
}

// ManifestItem is one manifest entry; Href is resolved against the
// package document's directory.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties []string
}

// HasProperty reports whether the item carries the given property.
func (item ManifestItem) HasProperty(name string) bool {
	for _, p := range item.Properties {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// IsImage reports whether the item is a raster image (SVG excluded).
func (item ManifestItem) IsImage() bool {
	return isImageMediaType(item.MediaType)
}

// SpineItem is one reading-order reference into the manifest.
type SpineItem struct {
	IDRef  string
	Linear bool
}

// GuideReference is one EPUB 2 guide entry.
type GuideReference struct {
	Type  string
	Title string
	Href  string
}

// LinearSpineItems returns the spine restricted to linear entries —
// the documents that become book parts.
func (opf *OPF) LinearSpineItems() []SpineItem {
	var out []SpineItem
	for _, item := range opf.Spine {
		if item.Linear {
			out = append(out, item)
		}
	}
	return out
}

// The decoding mirror of the package document. Dublin Core elements
// live in the dc namespace; role and scheme attributes in the opf one.
type packageDoc struct {
	XMLName  xml.Name `xml:"package"`
	UniqueID string   `xml:"unique-identifier,attr"`
	Metadata struct {
		Titles       []string       `xml:"http://purl.org/dc/elements/1.1/ title"`
		Creators     []creatorElem  `xml:"http://purl.org/dc/elements/1.1/ creator"`
		Languages    []string       `xml:"http://purl.org/dc/elements/1.1/ language"`
		Identifiers  []identElem    `xml:"http://purl.org/dc/elements/1.1/ identifier"`
		Publishers   []string       `xml:"http://purl.org/dc/elements/1.1/ publisher"`
		Dates        []string       `xml:"http://purl.org/dc/elements/1.1/ date"`
		Descriptions []string       `xml:"http://purl.org/dc/elements/1.1/ description"`
		Subjects     []string       `xml:"http://purl.org/dc/elements/1.1/ subject"`
		Rights       []string       `xml:"http://purl.org/dc/elements/1.1/ rights"`
		Metas        []metaElem     `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc       string `xml:"toc,attr"`
		Direction string `xml:"page-progression-direction,attr"`
		Refs      []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
	Guide struct {
		Refs []struct {
			Type  string `xml:"type,attr"`
			Title string `xml:"title,attr"`
			Href  string `xml:"href,attr"`
		} `xml:"reference"`
	} `xml:"guide"`
}

type creatorElem struct {
	Name string `xml:",chardata"`
	Role string `xml:"http://www.idpf.org/2007/opf role,attr"`
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	ID   string `xml:"id,attr"`
}

type identElem struct {
	Value     string `xml:",chardata"`
	ID        string `xml:"id,attr"`
	Scheme    string `xml:"scheme,attr"`
	OPFScheme string `xml:"http://www.idpf.org/2007/opf scheme,attr"`
}

// metaElem covers both meta flavors: EPUB 2 name/content pairs and
// EPUB 3 property elements (value in character data).
type metaElem struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Value    string `xml:",chardata"`
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
}

// isbnDigits matches a 10- or 13-digit run on digit boundaries, after
// hyphens are stripped.
var isbnDigits = regexp.MustCompile(`(?:^|\D)(\d{13}|\d{10})(?:\D|$)`)

// ParseOPF decodes a package document. baseDir is the directory the
// document lives in; every manifest and guide href is resolved
// against it.
func ParseOPF(content []byte, baseDir string) (*OPF, error) {
	var doc packageDoc
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPF XML: %w", err)
	}

	opf := &OPF{
		Metadata: buildMetadata(&doc),
		Manifest: make(map[string]ManifestItem, len(doc.Manifest.Items)),
	}

	for _, item := range doc.Manifest.Items {
		entry := ManifestItem{
			ID:        item.ID,
			Href:      resolveHref(baseDir, item.Href),
			MediaType: item.MediaType,
		}
		if item.Properties != "" {
			entry.Properties = strings.Fields(item.Properties)
		}
		opf.Manifest[item.ID] = entry
		opf.ManifestOrder = append(opf.ManifestOrder, item.ID)
	}

	for _, ref := range doc.Spine.Refs {
		opf.Spine = append(opf.Spine, SpineItem{
			IDRef:  ref.IDRef,
			Linear: ref.Linear != "no",
		})
	}
	opf.PageProgressionDirection = doc.Spine.Direction
	if doc.Spine.Toc != "" {
		if ncx, ok := opf.Manifest[doc.Spine.Toc]; ok {
			opf.NCXPath = ncx.Href
		}
	}

	for _, ref := range doc.Guide.Refs {
		opf.Guide = append(opf.Guide, GuideReference{
			Type:  ref.Type,
			Title: ref.Title,
			Href:  resolveHrefKeepFragment(baseDir, ref.Href),
		})
	}

	return opf, nil
}

// buildMetadata lifts the decoded metadata section. Repeatable
// single-valued elements keep their first occurrence; subjects and
// creators keep all.
func buildMetadata(doc *packageDoc) Metadata {
	meta := &doc.Metadata
	md := Metadata{
		Title:       firstOf(meta.Titles),
		Language:    firstOf(meta.Languages),
		Publisher:   firstOf(meta.Publishers),
		Date:        firstOf(meta.Dates),
		Description: firstOf(meta.Descriptions),
		Rights:      firstOf(meta.Rights),
		Subjects:    meta.Subjects,
		Identifier:  pickIdentifier(meta.Identifiers, doc.UniqueID),
		Creators:    make([]Creator, 0, len(meta.Creators)),
	}
	if md.Subjects == nil {
		md.Subjects = []string{}
	}

	for _, c := range meta.Creators {
		md.Creators = append(md.Creators, Creator{Name: c.Name, Role: c.Role, Lang: c.Lang})
	}
	applyCreatorRefinements(md.Creators, meta.Creators, meta.Metas)

	for _, m := range meta.Metas {
		if m.Name == "cover" && m.Content != "" {
			md.CoverID = m.Content
			break
		}
	}

	return md
}

// applyCreatorRefinements resolves EPUB 3 role refinements: a meta
// with property="role" refining "#id" sets that creator's role. The
// role value lives in character data (EPUB 3) or, failing that, the
// content attribute.
func applyCreatorRefinements(creators []Creator, elems []creatorElem, metas []metaElem) {
	indexByRef := make(map[string]int, len(elems))
	for i := range creators {
		for _, elem := range elems {
			if elem.Name == creators[i].Name && elem.ID != "" {
				indexByRef["#"+elem.ID] = i
				break
			}
		}
	}

	for _, m := range metas {
		if m.Property != "role" || m.Refines == "" {
			continue
		}
		i, ok := indexByRef[m.Refines]
		if !ok {
			continue
		}
		if m.Value != "" {
			creators[i].Role = m.Value
		} else {
			creators[i].Role = m.Content
		}
	}
}

// pickIdentifier chooses the book identifier: an explicit ISBN scheme
// wins, then any value containing an ISBN digit run, then the element
// named by unique-identifier, then the first non-empty value.
func pickIdentifier(idents []identElem, uniqueID string) string {
	scheme := func(id identElem) string {
		if id.OPFScheme != "" {
			return id.OPFScheme
		}
		return id.Scheme
	}

	for _, id := range idents {
		value := strings.TrimSpace(id.Value)
		if value != "" && strings.EqualFold(strings.TrimSpace(scheme(id)), "isbn") {
			return value
		}
	}
	for _, id := range idents {
		value := strings.TrimSpace(id.Value)
		if value == "" {
			continue
		}
		if isbnDigits.MatchString(strings.ReplaceAll(value, "-", "")) {
			return value
		}
	}
	if unique := strings.TrimSpace(uniqueID); unique != "" {
		for _, id := range idents {
			if strings.TrimSpace(id.ID) != unique {
				continue
			}
			if value := strings.TrimSpace(id.Value); value != "" {
				return value
			}
		}
	}
	for _, id := range idents {
		if value := strings.TrimSpace(id.Value); value != "" {
			return value
		}
	}
	return ""
}

// firstOf returns the first element of a repeatable metadata field.
func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// resolveHref joins a package-relative href onto the package
// directory, always with forward slashes.
func resolveHref(baseDir, href string) string {
	if baseDir == "" {
		return href
	}
	return filepath.ToSlash(filepath.Join(baseDir, href))
}

// resolveHrefKeepFragment is resolveHref for hrefs that may carry a
// fragment; the fragment survives the join.
func resolveHrefKeepFragment(baseDir, href string) string {
	if href == "" {
		return ""
	}
	path, fragment, hasFragment := strings.Cut(href, "#")
	if path == "" {
		return href
	}
	resolved := resolveHref(baseDir, path)
	if hasFragment {
		return resolved + "#" + fragment
	}
	return resolved
}
