package kf8

import (
	"bytes"
	"testing"
)

func TestBookPart_Content(t *testing.T) {
	part := BookPart{
		SkeletonHead: []byte("<html><body>"),
		Fragments: []Fragment{
			{Index: 0, Content: []byte("<p>one</p>")},
			{Index: 1, Content: []byte("<p>two</p>")},
		},
		SkeletonTail: []byte("</body></html>"),
	}

	want := []byte("<html><body><p>one</p><p>two</p></body></html>")
	if got := part.Content(); !bytes.Equal(got, want) {
		t.Fatalf("Content() = %q, want %q", got, want)
	}
}

func TestBookPart_Content_Empty(t *testing.T) {
	part := BookPart{}
	if got := part.Content(); len(got) != 0 {
		t.Fatalf("Content() = %q, want empty", got)
	}
}

func TestBook_BCP47LanguageTag(t *testing.T) {
	book := &Book{Language: LanguageCode{Main: 9, Sub: 1}}
	got, ok := book.BCP47LanguageTag()
	if !ok || got != "en-US" {
		t.Fatalf("BCP47LanguageTag() = (%q, %v), want (en-US, true)", got, ok)
	}

	book = &Book{}
	if _, ok := book.BCP47LanguageTag(); ok {
		t.Fatalf("BCP47LanguageTag() ok = true for unset language")
	}
}

func TestBook_AllResources(t *testing.T) {
	book := &Book{
		Stylesheets: []string{".a{}", ".b{}"},
		Resources: []Resource{
			{Kind: ResourceCover, Data: []byte{0xFF, 0xD8, 0xFF}, MIMEType: "image/jpeg", FlowIndex: -1},
		},
	}

	all := book.AllResources()
	if len(all) != 3 {
		t.Fatalf("resource count = %d, want 3", len(all))
	}
	if all[0].Kind != ResourceStylesheet || all[0].FlowIndex != 1 {
		t.Fatalf("resource 0 = %+v, want stylesheet flow 1", all[0])
	}
	if all[1].Kind != ResourceStylesheet || all[1].FlowIndex != 2 {
		t.Fatalf("resource 1 = %+v, want stylesheet flow 2", all[1])
	}
	if all[2].Kind != ResourceCover || all[2].MIMEType != "image/jpeg" {
		t.Fatalf("resource 2 = %+v, want the cover", all[2])
	}
}
