// Package epub reads and writes EPUB containers for the KF8 codec:
// the reader side feeds the pack pipeline (spine documents, stylesheet
// flows, images), the writer side emits an EPUB from a parsed Book.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const epubMimetype = "application/epub+zip"

var (
	ErrNotEPUB          = errors.New("epub: mimetype entry missing or not " + epubMimetype)
	ErrMimetypeDeflated = errors.New("epub: mimetype entry must be stored uncompressed")
	ErrNoContainerXML   = errors.New("epub: META-INF/container.xml missing")
	ErrNoRootfile       = errors.New("epub: container.xml names no package document")
)

// Container is an opened EPUB archive. It resolves the OPF package
// document and hands out member files by archive path.
type Container struct {
	archive *zip.ReadCloser
	entries map[string]*zip.File
	opfPath string
}

// containerXML mirrors META-INF/container.xml.
type containerXML struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// Open opens the EPUB at path, verifying the mimetype entry and
// locating the package document.
func Open(path string) (*Container, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("epub: failed to open %s: %w", path, err)
	}

	c := &Container{
		archive: archive,
		entries: make(map[string]*zip.File, len(archive.File)),
	}
	for _, f := range archive.File {
		c.entries[cleanEntryName(f.Name)] = f
	}

	if err := c.checkMimetype(); err != nil {
		archive.Close()
		return nil, err
	}
	opfPath, err := c.locateRootfile()
	if err != nil {
		archive.Close()
		return nil, err
	}
	c.opfPath = opfPath

	return c, nil
}

// Close releases the underlying archive.
func (c *Container) Close() error {
	return c.archive.Close()
}

// OPFPath returns the archive path of the package document.
func (c *Container) OPFPath() string {
	return c.opfPath
}

// Has reports whether the archive holds an entry at path.
func (c *Container) Has(path string) bool {
	_, ok := c.entries[cleanEntryName(path)]
	return ok
}

// EntryNames lists the archive entries in sorted order.
func (c *Container) EntryNames() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadFile returns the contents of the entry at path.
func (c *Container) ReadFile(path string) ([]byte, error) {
	entry, ok := c.entries[cleanEntryName(path)]
	if !ok {
		return nil, fmt.Errorf("epub: no entry %s", path)
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: failed to open entry %s: %w", path, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// checkMimetype enforces the OCF rules on the mimetype entry: present,
// stored without compression, and holding exactly the EPUB media type.
func (c *Container) checkMimetype() error {
	entry, ok := c.entries["mimetype"]
	if !ok {
		return ErrNotEPUB
	}
	if entry.Method != zip.Store {
		return ErrMimetypeDeflated
	}
	content, err := c.ReadFile("mimetype")
	if err != nil {
		return fmt.Errorf("epub: failed to read mimetype: %w", err)
	}
	if string(content) != epubMimetype {
		return ErrNotEPUB
	}
	return nil
}

// locateRootfile reads container.xml and picks the package document:
// the first rootfile with the OPF media type, else the first rootfile.
func (c *Container) locateRootfile() (string, error) {
	content, err := c.ReadFile("META-INF/container.xml")
	if err != nil {
		return "", ErrNoContainerXML
	}

	var doc containerXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("epub: failed to parse container.xml: %w", err)
	}

	for _, rf := range doc.Rootfiles {
		if rf.MediaType == "application/oebps-package+xml" {
			return cleanEntryName(rf.FullPath), nil
		}
	}
	for _, rf := range doc.Rootfiles {
		if rf.FullPath != "" {
			return cleanEntryName(rf.FullPath), nil
		}
	}
	return "", ErrNoRootfile
}

// cleanEntryName normalizes an archive path: leading ./ and / are
// dropped so lookups match regardless of how the archive spelled them.
func cleanEntryName(name string) string {
	name = strings.TrimPrefix(name, "./")
	return strings.TrimPrefix(name, "/")
}
