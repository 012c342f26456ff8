package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is the text extracted from an uploaded source, one entry per page
// (PDF pages, EPUB spine items, or a single entry for flat text).
type Document struct {
	Title string
	Pages []string
	// Paged is true when Pages correspond to renderable pages (PDF).
	Paged bool
}

// Text returns the whole document as one whitespace-normalized string.
func (d *Document) Text() string {
	if d == nil {
		return ""
	}
	return NormalizeWhitespace(strings.Join(d.Pages, " "))
}

// Format defines a file format reader for extracting text.
type Format interface {
	Name() string
	Extensions() []string
	Extract(filename string) (*Document, error)
}

var registry []Format

// Register adds a format reader to the registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Extract extracts text from a file using a registered format, falling back
// to plain text for .txt and .md files.
func Extract(filename string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return f.Extract(filename)
			}
		}
	}

	switch ext {
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		return &Document{Pages: []string{NormalizeWhitespace(string(data))}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// SupportedExtension reports whether Extract can handle the file name.
func SupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md", ".markdown":
		return true
	}
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return true
			}
		}
	}
	return false
}

// SupportedFormats returns registered format names with their extensions.
func SupportedFormats() []string {
	var out []string
	for _, f := range registry {
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	return append(out, "Text (.txt, .md, .markdown)")
}
