package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/dgallion1/docoutline/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// ErrInvalidPDF is returned when no backend can open the file.
var ErrInvalidPDF = errors.New("invalid pdf")

// PDFParser handles PDF files. It reads positioned glyphs with the Go
// library, then falls back to pdftotext if available.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	doc, err := extractPDFFragments(data)
	if (err != nil || len(doc.Fragments) == 0) && p.FallbackPdftotext {
		if fb, fbErr := extractPdftotext(data); fbErr == nil && len(fb.Fragments) > 0 {
			doc, err = fb, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	doc.Name = filename
	doc.SizeBytes = int64(len(data))
	return doc, nil
}

func extractPDFFragments(data []byte) (doc *doctree.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidPDF, rec)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	doc = &doctree.Document{PageCount: reader.NumPage()}
	for i := 1; i <= doc.PageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		texts, ok := pageContent(page)
		if !ok {
			continue
		}
		doc.Fragments = append(doc.Fragments, mergeGlyphs(texts, i)...)
	}
	return doc, nil
}

// pageContent isolates panics from malformed content streams to one page.
func pageContent(page pdflib.Page) (texts []pdflib.Text, ok bool) {
	defer func() {
		if recover() != nil {
			texts, ok = nil, false
		}
	}()
	return page.Content().Text, true
}

// Glyph runs closer than this fraction of the font size are one word.
const wordGapRatio = 0.15

type glyphRun struct {
	b      strings.Builder
	font   string
	size   float64
	x, y   float64
	endX   float64
	spaced bool
}

func (g *glyphRun) continues(t pdflib.Text) bool {
	em := g.em()
	return t.Font == g.font &&
		math.Abs(t.FontSize-g.size) < 0.5 &&
		math.Abs(t.Y-g.y) < em*0.3 &&
		t.X >= g.endX-em
}

// em is the run's font size, or the baseline when the extractor reported none.
func (g *glyphRun) em() float64 {
	if g.size <= 0 {
		return doctree.BaselineFontSize
	}
	return g.size
}

func (g *glyphRun) write(t pdflib.Text) {
	if t.X-g.endX > g.em()*wordGapRatio && !g.spaced && t.S != " " {
		g.b.WriteByte(' ')
	}
	g.b.WriteString(t.S)
	g.spaced = strings.HasSuffix(t.S, " ")
	g.endX = t.X + t.W
}

// mergeGlyphs joins consecutive glyphs that share a baseline, font and size
// into text fragments, in content-stream order.
func mergeGlyphs(texts []pdflib.Text, page int) []doctree.Fragment {
	var out []doctree.Fragment
	var cur *glyphRun

	flush := func() {
		if cur == nil {
			return
		}
		if s := strings.TrimSpace(cur.b.String()); s != "" {
			out = append(out, doctree.Fragment{
				Text:     s,
				Page:     page,
				FontSize: cur.size,
				FontName: cur.font,
				X:        cur.x,
				Y:        cur.y,
			})
		}
		cur = nil
	}

	for _, t := range texts {
		if t.S == "" {
			continue
		}
		if cur != nil && cur.continues(t) {
			cur.write(t)
			continue
		}
		flush()
		cur = &glyphRun{font: t.Font, size: t.FontSize, x: t.X, y: t.Y}
		cur.b.WriteString(t.S)
		cur.spaced = strings.HasSuffix(t.S, " ")
		cur.endX = t.X + t.W
	}
	flush()
	return out
}

func extractPdftotext(data []byte) (*doctree.Document, error) {
	// pdftotext reads from a path, so we write to a temp file.
	tmp, err := os.CreateTemp("", "docoutline-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	cmd := exec.Command("pdftotext", "-layout", tmpPath, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return linesToDocument(string(out)), nil
}

// linesToDocument turns form-feed separated plain text into baseline-size
// fragments, one per non-empty line.
func linesToDocument(text string) *doctree.Document {
	doc := &doctree.Document{}
	pages := splitPages(strings.TrimRight(text, "\f\n"))
	doc.PageCount = len(pages)
	for i, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			doc.Fragments = append(doc.Fragments, doctree.Fragment{
				Text:     line,
				Page:     i + 1,
				FontSize: doctree.BaselineFontSize,
			})
		}
	}
	return doc
}

func splitPages(text string) []string {
	return strings.Split(text, "\f")
}
