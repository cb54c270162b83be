// Package outline derives a title and a leveled heading list from a document's
// font-size distribution.
package outline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/docoutline/internal/doctree"
)

// DefaultTitle is used when neither a title line nor a filename is available.
const DefaultTitle = "Document"

// Level is the visual-prominence class of a heading.
type Level string

const (
	H1 Level = "H1"
	H2 Level = "H2"
	H3 Level = "H3"
)

// Rank orders levels by prominence: H1=3, H2=2, H3=1, anything else 0.
func (l Level) Rank() int {
	switch l {
	case H1:
		return 3
	case H2:
		return 2
	case H3:
		return 1
	}
	return 0
}

// Entry is one heading in the outline.
type Entry struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
	Page  int    `json:"page"`
}

// Result is the outline of one document. ProcessingTime and the provenance
// fields are informational and do not take part in classification.
type Result struct {
	Title          string  `json:"title"`
	Filename       string  `json:"filename,omitempty"`
	Pages          int     `json:"pages,omitempty"`
	ProcessingTime string  `json:"processing_time,omitempty"`
	Outline        []Entry `json:"outline"`
}

// Options tunes the classifier. Zero fields fall back to DefaultOptions.
type Options struct {
	H1Ratio float64
	H2Ratio float64
	H3Ratio float64

	MinTitleLen   int // exclusive
	MaxTitleLen   int // exclusive
	MinHeadingLen int // inclusive
	MaxHeadingLen int // inclusive
	MaxEntries    int

	Keywords []string

	// StartedAt, when set, is used to fill Result.ProcessingTime.
	StartedAt time.Time
}

// MaxEntries is the hard cap on outline length. Options may lower it.
const MaxEntries = 50

// DefaultOptions returns the standard thresholds and caps.
func DefaultOptions() Options {
	return Options{
		H1Ratio:       0.70,
		H2Ratio:       0.40,
		H3Ratio:       0.20,
		MinTitleLen:   5,
		MaxTitleLen:   100,
		MinHeadingLen: 5,
		MaxHeadingLen: 200,
		MaxEntries:    MaxEntries,
		Keywords:      DefaultKeywords,
	}
}

// Fingerprint identifies the tunables that shape a Result. StartedAt is not
// part of it.
func (o Options) Fingerprint() string {
	o = o.withDefaults()
	return fmt.Sprintf("ratios=%g/%g/%g title=%d-%d heading=%d-%d max=%d keywords=%q",
		o.H1Ratio, o.H2Ratio, o.H3Ratio,
		o.MinTitleLen, o.MaxTitleLen,
		o.MinHeadingLen, o.MaxHeadingLen,
		o.MaxEntries, o.Keywords)
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.H1Ratio <= 0 {
		o.H1Ratio = d.H1Ratio
	}
	if o.H2Ratio <= 0 {
		o.H2Ratio = d.H2Ratio
	}
	if o.H3Ratio <= 0 {
		o.H3Ratio = d.H3Ratio
	}
	if o.MinTitleLen <= 0 {
		o.MinTitleLen = d.MinTitleLen
	}
	if o.MaxTitleLen <= 0 {
		o.MaxTitleLen = d.MaxTitleLen
	}
	if o.MinHeadingLen <= 0 {
		o.MinHeadingLen = d.MinHeadingLen
	}
	if o.MaxHeadingLen <= 0 {
		o.MaxHeadingLen = d.MaxHeadingLen
	}
	if o.MaxEntries <= 0 || o.MaxEntries > MaxEntries {
		o.MaxEntries = d.MaxEntries
	}
	if len(o.Keywords) == 0 {
		o.Keywords = d.Keywords
	}
	return o
}

// Thresholds are the minimum font sizes for each heading level.
type Thresholds struct {
	H1, H2, H3 float64
}

// ComputeThresholds interpolates between the average and maximum size.
func ComputeThresholds(s doctree.Stats, o Options) Thresholds {
	o = o.withDefaults()
	return Thresholds{
		H1: s.Interpolate(o.H1Ratio),
		H2: s.Interpolate(o.H2Ratio),
		H3: s.Interpolate(o.H3Ratio),
	}
}

// Classify returns the first level whose threshold size meets, or "" for body
// text.
func (t Thresholds) Classify(size float64) Level {
	switch {
	case size >= t.H1:
		return H1
	case size >= t.H2:
		return H2
	case size >= t.H3:
		return H3
	}
	return ""
}

// Extract builds the outline of doc. It never fails: an empty or nil document
// yields an empty outline titled after the filename.
func Extract(doc *doctree.Document, opts Options) *Result {
	opts = opts.withDefaults()
	if doc == nil {
		doc = &doctree.Document{}
	}

	frags := doc.Sorted()
	stats := doctree.FontStats(frags)
	th := ComputeThresholds(stats, opts)
	filter := NewHeadingFilter(opts.Keywords)

	res := &Result{
		Title:    selectTitle(frags, stats.Max, doc.Name, opts),
		Filename: doc.Name,
		Pages:    doc.PageCount,
		Outline:  []Entry{},
	}

	for _, f := range frags {
		text := strings.TrimSpace(f.Text)
		n := len([]rune(text))
		if n < opts.MinHeadingLen || n > opts.MaxHeadingLen {
			continue
		}
		level := th.Classify(f.Size())
		if level == "" || !filter.IsLikelyHeading(text) {
			continue
		}
		res.Outline = append(res.Outline, Entry{Level: level, Text: text, Page: f.Page})
		if len(res.Outline) == opts.MaxEntries {
			break
		}
	}

	if !opts.StartedAt.IsZero() {
		res.ProcessingTime = FormatDuration(time.Since(opts.StartedAt))
	}
	return res
}

// FormatDuration renders d as seconds with one decimal, e.g. "1.4 seconds".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1f seconds", d.Seconds())
}

// selectTitle picks the first page-one fragment set in the largest size whose
// length is strictly within the title bounds.
func selectTitle(frags []doctree.Fragment, maxSize float64, filename string, o Options) string {
	for _, f := range frags {
		if f.Page != 1 || f.Size() != maxSize {
			continue
		}
		text := strings.TrimSpace(f.Text)
		n := len([]rune(text))
		if n > o.MinTitleLen && n < o.MaxTitleLen {
			return text
		}
	}
	return TitleFromFilename(filename)
}

// TitleFromFilename strips directory and extension; empty input yields
// DefaultTitle.
func TitleFromFilename(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) {
		return DefaultTitle
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if strings.TrimSpace(base) == "" {
		return DefaultTitle
	}
	return base
}
