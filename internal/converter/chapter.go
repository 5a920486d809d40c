package converter

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// tagDowngrades maps HTML5 sectioning tags to the flow elements old
// Kindle renderers understand. The original tag name joins the class
// list so stylesheets can still target it.
var tagDowngrades = map[string]string{
	"article":    "div",
	"section":    "div",
	"aside":      "div",
	"nav":        "div",
	"header":     "div",
	"footer":     "div",
	"main":       "div",
	"figure":     "div",
	"figcaption": "p",
}

// strippedElements are removed wholesale: scripting and interactive
// content has no meaning inside a packed text flow.
var strippedElements = []string{
	"script",
	"iframe",
	"object",
	"embed",
	"form",
	"video",
	"audio",
	"canvas",
}

// droppedAttrs are removed from every element.
var droppedAttrs = map[string]bool{
	"contenteditable": true,
	"draggable":       true,
	"hidden":          true,
	"spellcheck":      true,
	"translate":       true,
}

// NormalizeChapter rewrites one spine document in place so its markup
// survives the trip through the packed flow: sectioning tags are
// downgraded, scripting content is stripped, and interactivity
// attributes are scrubbed.
func NormalizeChapter(doc *goquery.Document) {
	for _, name := range strippedElements {
		doc.Find(name).Remove()
	}

	for from, to := range tagDowngrades {
		doc.Find(from).Each(func(_ int, s *goquery.Selection) {
			s.SetAttr("class", joinClass(s.AttrOr("class", ""), from))
			s.Get(0).Data = to
		})
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		var remove []string
		for _, attr := range node.Attr {
			switch {
			case droppedAttrs[attr.Key]:
				remove = append(remove, attr.Key)
			case strings.HasPrefix(attr.Key, "data-"):
				remove = append(remove, attr.Key)
			case strings.HasPrefix(attr.Key, "on"):
				// Event handlers (onclick, onload, ...).
				remove = append(remove, attr.Key)
			case attr.Key == "epub:type":
				// Carry the semantic hint as a class instead.
				s.SetAttr("class", joinClass(s.AttrOr("class", ""), "epub-type-"+attr.Val))
				remove = append(remove, attr.Key)
			}
		}
		for _, key := range remove {
			s.RemoveAttr(key)
		}
	})
}

// joinClass appends a class token to an existing class list.
func joinClass(existing, added string) string {
	if existing == "" {
		return added
	}
	return existing + " " + added
}
