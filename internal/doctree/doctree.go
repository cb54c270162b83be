package doctree

import (
	"sort"
	"strings"
)

// BaselineFontSize is used for fragments whose extractor reported no size.
const BaselineFontSize = 12.0

// Fragment is one positioned, sized piece of text from a page.
type Fragment struct {
	Text     string  // Text content as yielded by the extractor
	Page     int     // 1-based page number
	FontSize float64 // Glyph height; <= 0 means unknown
	FontName string  // Reserved, not used by heuristics
	X, Y     float64 // Position in extractor units, not used by heuristics
}

// Size returns the fragment's font size, substituting the baseline for
// missing values.
func (f Fragment) Size() float64 {
	if f.FontSize <= 0 {
		return BaselineFontSize
	}
	return f.FontSize
}

// Document is the fragment stream of one source file.
type Document struct {
	Name      string     // Source filename
	PageCount int        // Number of pages reported by the extractor
	SizeBytes int64      // Source size, provenance only
	Fragments []Fragment // Reading order within page, ascending page
}

// Page is the concatenated text of one page.
type Page struct {
	Number int
	Text   string
}

// Sorted returns the fragments stably ordered by page number. Reading order
// within a page is preserved.
func (d *Document) Sorted() []Fragment {
	if d == nil {
		return nil
	}
	out := make([]Fragment, len(d.Fragments))
	copy(out, d.Fragments)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// Pages joins each page's fragment texts with a single space. Pages between 1
// and PageCount with no fragments are returned with empty text.
func (d *Document) Pages() []Page {
	if d == nil {
		return nil
	}
	frags := d.Sorted()

	last := d.PageCount
	for _, f := range frags {
		if f.Page > last {
			last = f.Page
		}
	}
	if last <= 0 {
		return nil
	}

	parts := make([][]string, last)
	for _, f := range frags {
		if f.Page < 1 {
			continue
		}
		parts[f.Page-1] = append(parts[f.Page-1], f.Text)
	}

	pages := make([]Page, 0, last)
	for i, p := range parts {
		pages = append(pages, Page{Number: i + 1, Text: strings.Join(p, " ")})
	}
	return pages
}
