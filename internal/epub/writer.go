package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/codetheweb/kf8"
	"github.com/codetheweb/kf8/internal/mobi"
)

// kindleHrefRe matches the intra-book reference schemes a KF8 part may
// carry: kindle:flow:NNNN?mime=..., kindle:embed:NNNN?mime=...
var kindleHrefRe = regexp.MustCompile(`^kindle:(flow|embed):([0-9]+)(?:\?mime=([^"']*))?$`)

// Writer emits an EPUB 2 container from a parsed Book and its
// resources. Fragment ordering and byte content of the parts are
// preserved; kindle: references are rewritten to relative paths.
type Writer struct {
	book *kf8.Book
}

// NewWriter creates a writer for book.
func NewWriter(book *kf8.Book) *Writer {
	return &Writer{book: book}
}

// WriteTo writes the complete EPUB archive to output.
func (w *Writer) WriteTo(output io.Writer) error {
	zw := zip.NewWriter(output)

	if err := w.writeMimetype(zw); err != nil {
		return fmt.Errorf("failed to write mimetype: %w", err)
	}
	if err := w.writeContainer(zw); err != nil {
		return fmt.Errorf("failed to write container.xml: %w", err)
	}
	if err := w.writeOPF(zw); err != nil {
		return fmt.Errorf("failed to write content.opf: %w", err)
	}
	if err := w.writeParts(zw); err != nil {
		return err
	}
	if err := w.writeResources(zw); err != nil {
		return err
	}

	return zw.Close()
}

// writeMimetype writes the mimetype file (must be first, uncompressed).
func (w *Writer) writeMimetype(zw *zip.Writer) error {
	header := &zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	}
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = fw.Write([]byte("application/epub+zip"))
	return err
}

func (w *Writer) writeContainer(zw *zip.Writer) error {
	const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
	fw, err := zw.Create("META-INF/container.xml")
	if err != nil {
		return err
	}
	_, err = fw.Write([]byte(containerXML))
	return err
}

func (w *Writer) writeOPF(zw *zip.Writer) error {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<package xmlns="http://www.idpf.org/2007/opf" unique-identifier="uid" version="2.0">` + "\n")

	b.WriteString("  <metadata xmlns:dc=\"http://purl.org/dc/elements/1.1/\" xmlns:opf=\"http://www.idpf.org/2007/opf\">\n")
	fmt.Fprintf(&b, "    <dc:identifier id=\"uid\">%d</dc:identifier>\n", w.book.UID)
	fmt.Fprintf(&b, "    <dc:title>%s</dc:title>\n", xmlEscape(w.book.Title))
	if tag, ok := w.book.BCP47LanguageTag(); ok {
		fmt.Fprintf(&b, "    <dc:language>%s</dc:language>\n", tag)
	}
	if w.book.Metadata != nil {
		for _, creator := range w.book.Metadata.Strings(mobi.MetaCreator) {
			fmt.Fprintf(&b, "    <dc:creator>%s</dc:creator>\n", xmlEscape(creator))
		}
		for _, subject := range w.book.Metadata.Strings(mobi.MetaSubject) {
			fmt.Fprintf(&b, "    <dc:subject>%s</dc:subject>\n", xmlEscape(subject))
		}
	}
	b.WriteString("  </metadata>\n")

	b.WriteString("  <manifest>\n")
	for i, part := range w.book.Parts {
		fmt.Fprintf(&b, "    <item id=\"part%d\" href=\"%s\" media-type=\"application/xhtml+xml\"/>\n",
			i, xmlEscape(part.Filename))
	}
	for i := range w.book.Stylesheets {
		fmt.Fprintf(&b, "    <item id=\"css%d\" href=\"%s\" media-type=\"text/css\"/>\n",
			i, stylesheetName(i+1))
	}
	for i, res := range w.book.Resources {
		fmt.Fprintf(&b, "    <item id=\"res%d\" href=\"%s\" media-type=\"%s\"/>\n",
			i, resourceName(i, res), res.MIMEType)
	}
	b.WriteString("  </manifest>\n")

	b.WriteString("  <spine>\n")
	for i := range w.book.Parts {
		fmt.Fprintf(&b, "    <itemref idref=\"part%d\"/>\n", i)
	}
	b.WriteString("  </spine>\n")
	b.WriteString("</package>\n")

	fw, err := zw.Create("OEBPS/content.opf")
	if err != nil {
		return err
	}
	_, err = fw.Write([]byte(b.String()))
	return err
}

func (w *Writer) writeParts(zw *zip.Writer) error {
	for i := range w.book.Parts {
		part := &w.book.Parts[i]
		rewritten, err := w.rewriteReferences(part.Content())
		if err != nil {
			return fmt.Errorf("failed to rewrite part %s: %w", part.Filename, err)
		}

		fw, err := zw.Create("OEBPS/" + part.Filename)
		if err != nil {
			return err
		}
		if _, err := fw.Write(rewritten); err != nil {
			return fmt.Errorf("failed to write part %s: %w", part.Filename, err)
		}
	}
	return nil
}

func (w *Writer) writeResources(zw *zip.Writer) error {
	for i, css := range w.book.Stylesheets {
		fw, err := zw.Create("OEBPS/" + stylesheetName(i+1))
		if err != nil {
			return err
		}
		if _, err := fw.Write([]byte(css)); err != nil {
			return fmt.Errorf("failed to write stylesheet %d: %w", i+1, err)
		}
	}
	for i, res := range w.book.Resources {
		fw, err := zw.Create("OEBPS/" + resourceName(i, res))
		if err != nil {
			return err
		}
		if _, err := fw.Write(res.Data); err != nil {
			return fmt.Errorf("failed to write resource %d: %w", i, err)
		}
	}
	return nil
}

// rewriteReferences loads a part document and maps every kindle: flow
// and embed reference onto the archive-relative resource paths.
func (w *Writer) rewriteReferences(content []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse part: %w", err)
	}

	var rewriteErr error
	doc.Find("[href], [src]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"href", "src"} {
			value, ok := s.Attr(attr)
			if !ok {
				continue
			}
			target, ok, err := w.resolveKindleRef(value)
			if err != nil && rewriteErr == nil {
				rewriteErr = err
			}
			if ok {
				s.SetAttr(attr, target)
			}
		}
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize part: %w", err)
	}
	return []byte(html), nil
}

// resolveKindleRef maps one kindle: reference to its relative path.
// References to flows and embeds the book does not carry are an error;
// non-kindle references pass through untouched.
func (w *Writer) resolveKindleRef(value string) (string, bool, error) {
	m := kindleHrefRe.FindStringSubmatch(value)
	if m == nil {
		return "", false, nil
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return "", false, fmt.Errorf("kindle reference %q: %w", value, err)
	}

	switch m[1] {
	case "flow":
		if index < 1 || index > len(w.book.Stylesheets) {
			return "", false, fmt.Errorf("kindle flow %d of %d flows", index, len(w.book.Stylesheets))
		}
		return stylesheetName(index), true, nil
	default: // embed
		if index < 1 || index > len(w.book.Resources) {
			return "", false, fmt.Errorf("kindle embed %d of %d resources", index, len(w.book.Resources))
		}
		return resourceName(index-1, w.book.Resources[index-1]), true, nil
	}
}

// stylesheetName is the archive path of flow i (1-based).
func stylesheetName(i int) string {
	return fmt.Sprintf("styles/flow%04d.css", i)
}

// resourceName is the archive path of record-backed resource i.
func resourceName(i int, res kf8.Resource) string {
	switch res.Kind {
	case kf8.ResourceCover:
		return "images/cover" + mimeExtension(res.MIMEType)
	case kf8.ResourceThumbnail:
		return "images/thumbnail" + mimeExtension(res.MIMEType)
	case kf8.ResourceFont:
		return fmt.Sprintf("fonts/font%04d%s", i, mimeExtension(res.MIMEType))
	default:
		return fmt.Sprintf("images/image%04d%s", i, mimeExtension(res.MIMEType))
	}
}

// mimeExtension picks a file extension for the known resource MIME
// types.
func mimeExtension(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "font/woff", "application/font-woff":
		return ".woff"
	case "font/woff2":
		return ".woff2"
	case "font/ttf", "application/font-sfnt":
		return ".ttf"
	case "font/otf":
		return ".otf"
	case "image/svg+xml":
		return ".svg"
	default:
		return ".bin"
	}
}

// xmlEscape escapes text for element content.
func xmlEscape(s string) string {
	var b bytes.Buffer
	if err := escapeXMLText(&b, s); err != nil {
		return s
	}
	return b.String()
}

func escapeXMLText(b *bytes.Buffer, s string) error {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	_, err := replacer.WriteString(b, s)
	return err
}
