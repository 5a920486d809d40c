package converter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/codetheweb/kf8"
	"github.com/codetheweb/kf8/internal/epub"
)

// ResourceRefs maps EPUB-internal paths onto the 1-based embed indices
// of the packed book, so chapter references can be rewritten to
// kindle:embed URIs before splitting.
type ResourceRefs struct {
	// embedByPath maps a normalized image path to its embed index.
	embedByPath map[string]int
	// mimeByPath maps the same paths to their media types.
	mimeByPath map[string]string
	// flowByPath maps a stylesheet path to its 1-based flow index.
	flowByPath map[string]int
}

// NewResourceRefs creates an empty reference map.
func NewResourceRefs() *ResourceRefs {
	return &ResourceRefs{
		embedByPath: make(map[string]int),
		mimeByPath:  make(map[string]string),
		flowByPath:  make(map[string]int),
	}
}

// AddImage records an image at the given 1-based embed index.
func (r *ResourceRefs) AddImage(path, mime string, embedIndex int) {
	r.embedByPath[path] = embedIndex
	r.mimeByPath[path] = mime
}

// AddStylesheet records a stylesheet at the given 1-based flow index.
func (r *ResourceRefs) AddStylesheet(path string, flowIndex int) {
	r.flowByPath[path] = flowIndex
}

// SplitChapter turns one spine document into a book part: the chapter
// is transformed for Kindle, its references are rewritten onto the
// kindle: schemes, and the document is split into a skeleton shell and
// a single body fragment.
func SplitChapter(content *epub.Content, index int, refs *ResourceRefs) (kf8.BookPart, error) {
	doc := content.Document
	NormalizeChapter(doc)
	rewriteChapterReferences(doc, content.Path, refs)

	head := doc.Find("head").First()
	headHTML := ""
	if head.Length() > 0 {
		inner, err := head.Html()
		if err != nil {
			return kf8.BookPart{}, fmt.Errorf("failed to serialize head of %s: %w", content.Path, err)
		}
		headHTML = inner
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		return kf8.BookPart{}, fmt.Errorf("chapter %s has no body element", content.Path)
	}
	bodyHTML, err := body.Html()
	if err != nil {
		return kf8.BookPart{}, fmt.Errorf("failed to serialize body of %s: %w", content.Path, err)
	}
	bodyHTML = strings.TrimSpace(bodyHTML)
	if bodyHTML == "" {
		bodyHTML = "<div></div>"
	}

	var skeletonHead strings.Builder
	skeletonHead.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	skeletonHead.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml">` + "\n")
	skeletonHead.WriteString("<head>")
	skeletonHead.WriteString(headHTML)
	skeletonHead.WriteString("</head>\n")
	skeletonHead.WriteString("<body")
	for _, name := range sortedAttrNames(content.BodyAttrs) {
		fmt.Fprintf(&skeletonHead, " %s=%q", name, content.BodyAttrs[name])
	}
	skeletonHead.WriteString(">\n")

	return kf8.BookPart{
		Filename:     fmt.Sprintf("part%d.xhtml", index),
		SkeletonHead: []byte(skeletonHead.String()),
		Fragments:    []kf8.Fragment{{Index: index, Content: []byte(bodyHTML)}},
		SkeletonTail: []byte("\n</body>\n</html>\n"),
	}, nil
}

// rewriteChapterReferences maps image sources to kindle:embed URIs and
// stylesheet links to kindle:flow URIs. Stylesheets the flow table does
// not carry are dropped along with their link elements.
func rewriteChapterReferences(doc *goquery.Document, chapterPath string, refs *ResourceRefs) {
	baseDir := dirOf(chapterPath)

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		resolved := resolveRelative(baseDir, src)
		if idx, ok := refs.embedByPath[resolved]; ok {
			s.SetAttr("src", fmt.Sprintf("kindle:embed:%04d?mime=%s", idx, refs.mimeByPath[resolved]))
		}
	})

	doc.Find("link[rel='stylesheet']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved := resolveRelative(baseDir, href)
		if idx, ok := refs.flowByPath[resolved]; ok {
			s.SetAttr("href", fmt.Sprintf("kindle:flow:%04d?mime=text/css", idx))
			return
		}
		s.Remove()
	})
}

// dirOf returns the directory part of a slash-separated path.
func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// resolveRelative resolves relPath against baseDir, collapsing ../ and
// ./ segments, and returns a slash-separated path.
func resolveRelative(baseDir, relPath string) string {
	if strings.HasPrefix(relPath, "/") {
		return strings.TrimPrefix(relPath, "/")
	}
	parts := []string{}
	if baseDir != "" {
		parts = strings.Split(baseDir, "/")
	}
	for _, seg := range strings.Split(relPath, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "/")
}

func sortedAttrNames(attrs map[string]string) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
