package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docoutline/internal/doctree"
)

// ErrUnsupportedFormat is returned by ForFile for unknown extensions.
var ErrUnsupportedFormat = errors.New("unsupported file extension")

// Parser converts raw document bytes into a fragment stream.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.Document, error)
}

// Options configures parser construction.
type Options struct {
	FallbackPdftotext bool
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// Structured formats carry explicit heading levels rather than font sizes.
// They are mapped onto sizes so the same classifier applies.
const TitleFontSize = 28.0

// HeadingFontSize maps a heading level (1-6) to a synthetic font size.
func HeadingFontSize(level int) float64 {
	switch level {
	case 1:
		return 24
	case 2:
		return 20
	case 3:
		return 18
	case 4:
		return 16
	case 5:
		return 14
	case 6:
		return 13
	}
	return doctree.BaselineFontSize
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: opts.FallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// IsPDF reports whether filename has a .pdf extension.
func IsPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// builder accumulates fragments for the structured-format parsers.
type builder struct {
	doc *doctree.Document
}

func newBuilder(filename string) *builder {
	return &builder{doc: &doctree.Document{Name: filename, PageCount: 1}}
}

func (b *builder) add(text string, size float64, page int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if page > b.doc.PageCount {
		b.doc.PageCount = page
	}
	b.doc.Fragments = append(b.doc.Fragments, doctree.Fragment{
		Text:     text,
		Page:     page,
		FontSize: size,
	})
}
