package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docoutline/internal/outline"
	"github.com/dgallion1/docoutline/internal/rank"
)

// Heuristics holds classifier and ranker tunables read from HEURISTICS_FILE.
// Omitted fields keep the package defaults.
type Heuristics struct {
	Outline OutlineHeuristics `yaml:"outline"`
	Rank    RankHeuristics    `yaml:"rank"`
}

type OutlineHeuristics struct {
	H1Ratio       float64  `yaml:"h1_ratio"`
	H2Ratio       float64  `yaml:"h2_ratio"`
	H3Ratio       float64  `yaml:"h3_ratio"`
	MinTitleLen   int      `yaml:"min_title_len"`
	MaxTitleLen   int      `yaml:"max_title_len"`
	MinHeadingLen int      `yaml:"min_heading_len"`
	MaxHeadingLen int      `yaml:"max_heading_len"`
	MaxEntries    int      `yaml:"max_entries"`
	Keywords      []string `yaml:"keywords"`
}

type RankHeuristics struct {
	MaxResults     int  `yaml:"max_results"`
	SnippetLength  int  `yaml:"snippet_length"`
	MinKeywordLen  int  `yaml:"min_keyword_len"`
	DedupeKeywords bool `yaml:"dedupe_keywords"`
}

// LoadHeuristics parses the YAML file at path. An empty path returns the zero
// value, which maps onto the defaults.
func LoadHeuristics(path string) (Heuristics, error) {
	var h Heuristics
	if path == "" {
		return h, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("read heuristics: %w", err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse heuristics %s: %w", path, err)
	}
	if err := h.validate(); err != nil {
		return h, fmt.Errorf("heuristics %s: %w", path, err)
	}
	return h, nil
}

func (h Heuristics) validate() error {
	o := h.Outline
	for name, r := range map[string]float64{"h1_ratio": o.H1Ratio, "h2_ratio": o.H2Ratio, "h3_ratio": o.H3Ratio} {
		if r < 0 || r > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %g", name, r)
		}
	}
	opts := h.OutlineOptions()
	if !(opts.H1Ratio >= opts.H2Ratio && opts.H2Ratio >= opts.H3Ratio) {
		return fmt.Errorf("ratios must satisfy h1 >= h2 >= h3")
	}
	if o.MinHeadingLen > 0 && o.MaxHeadingLen > 0 && o.MinHeadingLen > o.MaxHeadingLen {
		return fmt.Errorf("min_heading_len exceeds max_heading_len")
	}
	if o.MaxEntries < 0 || o.MaxEntries > outline.MaxEntries {
		return fmt.Errorf("max_entries must be within [0, %d], got %d", outline.MaxEntries, o.MaxEntries)
	}
	if r := h.Rank.MaxResults; r < 0 || r > rank.MaxResults {
		return fmt.Errorf("max_results must be within [0, %d], got %d", rank.MaxResults, r)
	}
	return nil
}

// OutlineOptions merges the outline tunables over outline.DefaultOptions.
func (h Heuristics) OutlineOptions() outline.Options {
	o := outline.DefaultOptions()
	src := h.Outline
	if src.H1Ratio > 0 {
		o.H1Ratio = src.H1Ratio
	}
	if src.H2Ratio > 0 {
		o.H2Ratio = src.H2Ratio
	}
	if src.H3Ratio > 0 {
		o.H3Ratio = src.H3Ratio
	}
	if src.MinTitleLen > 0 {
		o.MinTitleLen = src.MinTitleLen
	}
	if src.MaxTitleLen > 0 {
		o.MaxTitleLen = src.MaxTitleLen
	}
	if src.MinHeadingLen > 0 {
		o.MinHeadingLen = src.MinHeadingLen
	}
	if src.MaxHeadingLen > 0 {
		o.MaxHeadingLen = src.MaxHeadingLen
	}
	if src.MaxEntries > 0 {
		o.MaxEntries = src.MaxEntries
	}
	if len(src.Keywords) > 0 {
		o.Keywords = src.Keywords
	}
	return o
}

// RankOptions merges the ranker tunables over rank.DefaultOptions.
func (h Heuristics) RankOptions() rank.Options {
	o := rank.DefaultOptions()
	src := h.Rank
	if src.MaxResults > 0 {
		o.MaxResults = src.MaxResults
	}
	if src.SnippetLength > 0 {
		o.SnippetLength = src.SnippetLength
	}
	if src.MinKeywordLen > 0 {
		o.MinKeywordLen = src.MinKeywordLen
	}
	o.DedupeKeywords = src.DedupeKeywords
	return o
}
