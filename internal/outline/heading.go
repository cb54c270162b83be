package outline

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	numberedRe   = regexp.MustCompile(`^\d+\.\s`)
	subNumberRe  = regexp.MustCompile(`^\d+\.\d+\s`)
	singleWordRe = regexp.MustCompile(`^\w+:?\s*$`)
)

// DefaultKeywords are structural words that mark a heading when they lead the
// line.
var DefaultKeywords = []string{
	"Chapter", "Section", "Part", "Introduction", "Conclusion", "Abstract", "Summary",
}

// HeadingFilter decides whether a size-qualified line reads like a heading.
type HeadingFilter struct {
	keywords []string // lower-cased
}

// NewHeadingFilter builds a filter for the given keyword prefixes. A nil or
// empty list uses DefaultKeywords.
func NewHeadingFilter(keywords []string) *HeadingFilter {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	f := &HeadingFilter{keywords: make([]string, 0, len(keywords))}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			f.keywords = append(f.keywords, k)
		}
	}
	return f
}

// IsLikelyHeading reports whether text passes any of the heading patterns.
// The short-line clause accepts most lines under 60 characters, so ordinary
// short sentences set in a large font are kept as headings too.
func (f *HeadingFilter) IsLikelyHeading(text string) bool {
	switch {
	case numberedRe.MatchString(text), subNumberRe.MatchString(text):
		return true
	case isAllCaps(text):
		return true
	case f.hasKeywordPrefix(text):
		return true
	case singleWordRe.MatchString(text):
		return true
	}
	return len([]rune(text)) < 60 && len(strings.Fields(text)) <= 8
}

// IsLikelyHeading applies the default filter.
func IsLikelyHeading(text string) bool {
	return defaultFilter.IsLikelyHeading(text)
}

var defaultFilter = NewHeadingFilter(nil)

func (f *HeadingFilter) hasKeywordPrefix(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range f.keywords {
		if strings.HasPrefix(lower, k) {
			return true
		}
	}
	return false
}

// isAllCaps requires a leading upper-case letter and no lower-case letters
// anywhere; digits and punctuation are allowed.
func isAllCaps(text string) bool {
	for i, r := range text {
		if i == 0 && !unicode.IsUpper(r) {
			return false
		}
		if unicode.IsLower(r) {
			return false
		}
	}
	return text != ""
}
