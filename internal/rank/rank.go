// Package rank scores document pages against a persona and task by keyword
// overlap and selects the best pages across all documents.
package rank

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/docoutline/internal/doctree"
)

// Ellipsis marks a truncated snippet.
const Ellipsis = "…"

// Source is one document's text, page by page.
type Source struct {
	Name  string
	Pages []doctree.Page
}

// SourceFromDocument groups a fragment stream into pages.
func SourceFromDocument(doc *doctree.Document) Source {
	if doc == nil {
		return Source{}
	}
	return Source{Name: doc.Name, Pages: doc.Pages()}
}

// Query is the persona and job-to-be-done that drive scoring.
type Query struct {
	Persona string
	Task    string
}

// Options tunes the ranker. Zero fields fall back to DefaultOptions.
type Options struct {
	MaxResults     int
	SnippetLength  int
	MinKeywordLen  int  // tokens must be longer than this
	DedupeKeywords bool // count each distinct keyword once

	// Now supplies the metadata timestamp.
	Now func() time.Time
}

// MaxResults is the hard cap on ranked sections. Options may lower it.
const MaxResults = 10

// DefaultOptions returns the standard caps.
func DefaultOptions() Options {
	return Options{
		MaxResults:    MaxResults,
		SnippetLength: 200,
		MinKeywordLen: 2,
		Now:           time.Now,
	}
}

// Fingerprint identifies the tunables that shape a Result. The clock is not
// part of it.
func (o Options) Fingerprint() string {
	o = o.withDefaults()
	return fmt.Sprintf("max=%d snippet=%d minkw=%d dedupe=%t",
		o.MaxResults, o.SnippetLength, o.MinKeywordLen, o.DedupeKeywords)
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxResults <= 0 || o.MaxResults > MaxResults {
		o.MaxResults = d.MaxResults
	}
	if o.SnippetLength <= 0 {
		o.SnippetLength = d.SnippetLength
	}
	if o.MinKeywordLen <= 0 {
		o.MinKeywordLen = d.MinKeywordLen
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Metadata describes the inputs of a ranking run.
type Metadata struct {
	Documents           []string `json:"documents"`
	Persona             string   `json:"persona"`
	JobToBeDone         string   `json:"job_to_be_done"`
	ProcessingTimestamp string   `json:"processing_timestamp"`
}

// Section is one ranked page.
type Section struct {
	Document       string `json:"document"`
	PageNumber     int    `json:"page_number"`
	SectionTitle   string `json:"section_title"`
	ImportanceRank int    `json:"importance_rank"`
}

// Subsection carries the snippet of the page at the same index in
// Result.ExtractedSections.
type Subsection struct {
	Document        string `json:"document"`
	SubsectionTitle string `json:"subsection_title"`
	RefinedText     string `json:"refined_text"`
	PageNumber      int    `json:"page_number"`
}

// Result is the ranking output. ExtractedSections and SubsectionAnalysis are
// index-aligned.
type Result struct {
	Metadata           Metadata     `json:"metadata"`
	ExtractedSections  []Section    `json:"extracted_sections"`
	SubsectionAnalysis []Subsection `json:"subsection_analysis"`
}

// Scored is a page with its keyword score.
type Scored struct {
	Document string
	Page     int
	Text     string
	Score    int
}

var nonWordRe = regexp.MustCompile(`\W+`)

// Keywords lower-cases persona and task, splits on runs of non-word
// characters and keeps tokens longer than minLen. Repeats are kept unless
// dedupe is set.
func Keywords(persona, task string, minLen int, dedupe bool) []string {
	raw := nonWordRe.Split(strings.ToLower(persona+" "+task), -1)
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if utf8.RuneCountInString(tok) <= minLen {
			continue
		}
		if dedupe {
			if seen[tok] {
				continue
			}
			seen[tok] = true
		}
		out = append(out, tok)
	}
	return out
}

// Score counts the keyword-list entries found anywhere in text. Keywords are
// expected lower-case.
func Score(text string, keywords []string) int {
	low := strings.ToLower(text)
	n := 0
	for _, kw := range keywords {
		if strings.Contains(low, kw) {
			n++
		}
	}
	return n
}

// ScorePages scores every page of every source in scan order and drops pages
// that match nothing.
func ScorePages(sources []Source, keywords []string) []Scored {
	var out []Scored
	if len(keywords) == 0 {
		return out
	}
	for _, src := range sources {
		for _, p := range src.Pages {
			s := Score(p.Text, keywords)
			if s == 0 {
				continue
			}
			out = append(out, Scored{Document: src.Name, Page: p.Number, Text: p.Text, Score: s})
		}
	}
	return out
}

// Rank selects the highest-scoring pages across all sources. Ties keep scan
// order. It never fails; empty input or an empty query gives empty lists.
func Rank(sources []Source, q Query, opts Options) *Result {
	opts = opts.withDefaults()

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name)
	}
	res := &Result{
		Metadata: Metadata{
			Documents:           names,
			Persona:             q.Persona,
			JobToBeDone:         q.Task,
			ProcessingTimestamp: opts.Now().UTC().Format(time.RFC3339Nano),
		},
		ExtractedSections:  []Section{},
		SubsectionAnalysis: []Subsection{},
	}

	keywords := Keywords(q.Persona, q.Task, opts.MinKeywordLen, opts.DedupeKeywords)
	scored := ScorePages(sources, keywords)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > opts.MaxResults {
		scored = scored[:opts.MaxResults]
	}

	for i, s := range scored {
		title := PageTitle(s.Page)
		res.ExtractedSections = append(res.ExtractedSections, Section{
			Document:       s.Document,
			PageNumber:     s.Page,
			SectionTitle:   title,
			ImportanceRank: i + 1,
		})
		res.SubsectionAnalysis = append(res.SubsectionAnalysis, Subsection{
			Document:        s.Document,
			SubsectionTitle: title,
			RefinedText:     Snippet(s.Text, opts.SnippetLength),
			PageNumber:      s.Page,
		})
	}
	return res
}

// PageTitle is the placeholder title for a page-level section.
func PageTitle(page int) string {
	return fmt.Sprintf("(Page %d)", page)
}

// Snippet returns the first n runes of the trimmed text, with Ellipsis
// appended only when something was cut. Text of n runes or fewer comes back
// trimmed and unmarked.
func Snippet(text string, n int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:n])) + Ellipsis
}
