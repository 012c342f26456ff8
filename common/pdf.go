package common

import (
	"fmt"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// PDFProcessor handles PDF operations
type PDFProcessor struct {
	Path     string
	Doc      *SafeDocument
	NumPages int
}

// SafeDocument wraps fitz.Document with a mutex for thread safety
type SafeDocument struct {
	doc *fitz.Document
	mu  sync.Mutex
}

// NewPDFProcessor opens the PDF at path
func NewPDFProcessor(path string) (*PDFProcessor, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("error opening PDF: %w", err)
	}

	return &PDFProcessor{
		Path:     path,
		Doc:      &SafeDocument{doc: doc},
		NumPages: doc.NumPage(),
	}, nil
}

// Close cleans up resources
func (p *PDFProcessor) Close() {
	if p.Doc != nil && p.Doc.doc != nil {
		p.Doc.doc.Close()
	}
}

// ExtractPages returns the whitespace-normalized text of every page.
// Pages without extractable text come back as empty strings so page
// numbers stay aligned with the rendered document.
func (p *PDFProcessor) ExtractPages() ([]string, error) {
	pages := make([]string, 0, p.NumPages)
	for i := 0; i < p.NumPages; i++ {
		text, err := p.ExtractTextByPage(i)
		if err != nil {
			return nil, fmt.Errorf("error extracting text from page %d: %w", i, err)
		}
		pages = append(pages, NormalizeWhitespace(text))
	}
	return pages, nil
}

// ExtractTextByPage extracts text from a specific page
func (p *PDFProcessor) ExtractTextByPage(pageNum int) (string, error) {
	p.Doc.mu.Lock()
	defer p.Doc.mu.Unlock()

	if pageNum < 0 || pageNum >= p.NumPages {
		return "", fmt.Errorf("page number %d out of range", pageNum)
	}
	return p.Doc.doc.Text(pageNum)
}

// RenderPagePNG renders a page as PNG bytes for the canvas view.
func (p *PDFProcessor) RenderPagePNG(pageNum int, dpi float64) ([]byte, error) {
	if pageNum < 0 || pageNum >= p.NumPages {
		return nil, fmt.Errorf("page number %d out of range", pageNum)
	}
	data, err := p.Doc.ImagePNG(pageNum, dpi)
	if err != nil {
		return nil, fmt.Errorf("error rendering page %d: %w", pageNum, err)
	}
	return data, nil
}

// ImagePNG returns a page as PNG bytes
func (s *SafeDocument) ImagePNG(pageNum int, dpi float64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ImagePNG(pageNum, dpi)
}

// PDFFormat implements Format for PDF files.
type PDFFormat struct{}

func init() {
	Register(&PDFFormat{})
}

func (f *PDFFormat) Name() string         { return "PDF" }
func (f *PDFFormat) Extensions() []string { return []string{".pdf"} }

func (f *PDFFormat) Extract(filename string) (*Document, error) {
	proc, err := NewPDFProcessor(filename)
	if err != nil {
		return nil, err
	}
	defer proc.Close()

	pages, err := proc.ExtractPages()
	if err != nil {
		return nil, err
	}
	return &Document{Pages: pages, Paged: true}, nil
}
