package converter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/disintegration/imaging"

	"github.com/codetheweb/kf8"
	"github.com/codetheweb/kf8/internal/epub"
	"github.com/codetheweb/kf8/internal/mobi"
)

// Thumbnail bounds for the generated cover thumbnail.
const (
	thumbnailMaxWidth  = 330
	thumbnailMaxHeight = 470
)

// ConvertOptions holds options for the EPUB to book conversion.
type ConvertOptions struct {
	MaxImageWidth     int
	JPEGQuality       int
	MaxImageSizeBytes int
	Compression       kf8.CompressionType
	NoImages          bool
}

// Pipeline turns an EPUB into a Book the codec can serialize.
type Pipeline struct {
	opts   ConvertOptions
	policy ImagePolicy

	// Warnings collects non-fatal conditions (image passthroughs,
	// oversized images) for the caller to log.
	Warnings []string
}

// NewPipeline creates a conversion pipeline.
func NewPipeline(opts ConvertOptions) *Pipeline {
	return &Pipeline{
		opts:   opts,
		policy: newImagePolicy(opts),
	}
}

// ConvertFile reads the EPUB at path and assembles a Book.
func (p *Pipeline) ConvertFile(path string) (*kf8.Book, error) {
	reader, err := epub.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return p.convert(reader)
}

func (p *Pipeline) convert(reader *epub.Container) (*kf8.Book, error) {
	opfData, err := reader.ReadFile(reader.OPFPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read OPF: %w", err)
	}
	opf, err := epub.ParseOPF(opfData, dirOf(reader.OPFPath()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OPF: %w", err)
	}

	book := &kf8.Book{
		Title:       opf.Metadata.Title,
		Compression: p.opts.Compression,
		Metadata:    metadataToEXTH(opf.Metadata),
	}
	if book.Title == "" {
		book.Title = "Untitled"
	}
	if code, ok := mobi.LanguageCodeFromBCP47(opf.Metadata.Language); ok {
		book.Language = code
	}

	refs := NewResourceRefs()
	if err := p.collectStylesheets(reader, opf, book, refs); err != nil {
		return nil, err
	}
	if !p.opts.NoImages {
		if err := p.collectImages(reader, opf, book, refs); err != nil {
			return nil, err
		}
	}
	if err := p.collectParts(reader, opf, book, refs); err != nil {
		return nil, err
	}

	book.UID = bookUID(book)
	return book, nil
}

// collectStylesheets gathers every CSS manifest item, in manifest
// order, into the auxiliary flows.
func (p *Pipeline) collectStylesheets(reader *epub.Container, opf *epub.OPF, book *kf8.Book, refs *ResourceRefs) error {
	for _, id := range opf.ManifestOrder {
		item := opf.Manifest[id]
		if !strings.EqualFold(item.MediaType, "text/css") {
			continue
		}
		data, err := reader.ReadFile(item.Href)
		if err != nil {
			return fmt.Errorf("failed to read stylesheet %s: %w", item.Href, err)
		}
		book.Stylesheets = append(book.Stylesheets, NormalizeStylesheet(string(data)))
		refs.AddStylesheet(item.Href, len(book.Stylesheets))
	}
	return nil
}

// collectImages optimizes every raster image in the manifest,
// de-duplicating identical payloads, and derives a thumbnail from the
// detected cover.
func (p *Pipeline) collectImages(reader *epub.Container, opf *epub.OPF, book *kf8.Book, refs *ResourceRefs) error {
	coverHref := ""
	if info := opf.DetectCover(); info != nil {
		coverHref = info.Href
	}

	seen := make(map[uint64]int) // payload hash -> embed index
	var coverData []byte

	for _, id := range opf.ManifestOrder {
		item := opf.Manifest[id]
		if !strings.HasPrefix(strings.ToLower(item.MediaType), "image/") {
			continue
		}
		data, err := reader.ReadFile(item.Href)
		if err != nil {
			return fmt.Errorf("failed to read image %s: %w", item.Href, err)
		}

		digest := xxhash.Sum64(data)
		if idx, ok := seen[digest]; ok {
			refs.AddImage(item.Href, book.Resources[idx-1].MIMEType, idx)
			continue
		}

		isCover := item.Href == coverHref
		processed, err := p.policy.Process(item.Href, item.MediaType, data, isCover)
		if err != nil {
			return fmt.Errorf("failed to optimize image %s: %w", item.Href, err)
		}
		if processed.Note != "" {
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s: %s", item.Href, processed.Note))
		}

		kind := kf8.ResourceImage
		if isCover {
			kind = kf8.ResourceCover
			coverData = processed.Data
		}
		book.Resources = append(book.Resources, kf8.Resource{
			Kind:      kind,
			Data:      processed.Data,
			MIMEType:  formatToMediaType(processed.Format, item.MediaType),
			FlowIndex: -1,
		})
		embedIndex := len(book.Resources)
		seen[digest] = embedIndex
		refs.AddImage(item.Href, book.Resources[embedIndex-1].MIMEType, embedIndex)
	}

	if coverData != nil {
		thumb, err := p.makeThumbnail(coverData)
		if err != nil {
			p.Warnings = append(p.Warnings, fmt.Sprintf("thumbnail: %v", err))
		} else {
			book.Resources = append(book.Resources, kf8.Resource{
				Kind:      kf8.ResourceThumbnail,
				Data:      thumb,
				MIMEType:  "image/jpeg",
				FlowIndex: -1,
			})
		}
	}

	return nil
}

// makeThumbnail shrinks the cover into the Kindle library thumbnail
// bounds.
func (p *Pipeline) makeThumbnail(cover []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(cover))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cover: %w", err)
	}
	thumb := imaging.Fit(img, thumbnailMaxWidth, thumbnailMaxHeight, imaging.Lanczos)
	return jpegEncode(thumb, coverImageQuality)
}

// collectParts splits each linear spine document into a book part.
func (p *Pipeline) collectParts(reader *epub.Container, opf *epub.OPF, book *kf8.Book, refs *ResourceRefs) error {
	for _, spine := range opf.LinearSpineItems() {
		item, ok := opf.Manifest[spine.IDRef]
		if !ok {
			return fmt.Errorf("spine references unknown manifest item %q", spine.IDRef)
		}

		data, err := reader.ReadFile(item.Href)
		if err != nil {
			return fmt.Errorf("failed to read chapter %s: %w", item.Href, err)
		}
		content, err := epub.LoadContent(item.ID, item.Href, data)
		if err != nil {
			return fmt.Errorf("failed to parse chapter %s: %w", item.Href, err)
		}

		part, err := SplitChapter(content, len(book.Parts), refs)
		if err != nil {
			return err
		}
		book.Parts = append(book.Parts, part)
	}

	if len(book.Parts) == 0 {
		return fmt.Errorf("spine holds no linear content documents")
	}
	return nil
}

// metadataToEXTH maps the OPF metadata onto the EXTH namespaces.
func metadataToEXTH(meta epub.Metadata) *kf8.EXTH {
	exth := kf8.NewEXTH()
	for _, creator := range meta.Creators {
		name := strings.TrimSpace(creator.Name)
		if name == "" {
			continue
		}
		if creator.Role != "" && !strings.EqualFold(creator.Role, "aut") {
			exth.AddString(mobi.MetaContributor, name)
			continue
		}
		exth.AddString(mobi.MetaCreator, name)
	}
	if meta.Publisher != "" {
		exth.AddString(mobi.MetaPublisher, meta.Publisher)
	}
	if meta.Description != "" {
		exth.AddString(mobi.MetaDescription, meta.Description)
	}
	if meta.Identifier != "" {
		exth.AddString(mobi.MetaISBN, meta.Identifier)
	}
	for _, subject := range meta.Subjects {
		if s := strings.TrimSpace(subject); s != "" {
			exth.AddString(mobi.MetaSubject, s)
		}
	}
	if meta.Date != "" {
		exth.AddString(mobi.MetaPublishingDate, meta.Date)
	}
	if meta.Rights != "" {
		exth.AddString(mobi.MetaRights, meta.Rights)
	}
	if meta.Language != "" {
		exth.AddString(mobi.MetaLanguage, meta.Language)
	}
	return exth
}

// formatToMediaType maps an optimizer output format back to a media
// type, falling back to the manifest's declared type.
func formatToMediaType(format, declared string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return declared
	}
}

// bookUID derives a stable unique id from the book content, so the
// same input converts to the same output.
func bookUID(book *kf8.Book) uint32 {
	h := xxhash.New()
	h.WriteString(book.Title)
	for i := range book.Parts {
		h.Write(book.Parts[i].Content())
	}
	for _, css := range book.Stylesheets {
		h.WriteString(css)
	}
	return uint32(h.Sum64())
}
