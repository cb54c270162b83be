package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/docoutline/internal/doctree"
)

// TextParser handles plain text files. Form feeds separate pages and each
// paragraph becomes one baseline-size fragment.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	b := newBuilder(filename)
	page := 1
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			b.add(current.String(), doctree.BaselineFontSize, page)
			current.Reset()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		for {
			before, after, found := strings.Cut(line, "\f")
			if !found {
				break
			}
			appendLine(&current, before)
			flush()
			page++
			if page > b.doc.PageCount {
				b.doc.PageCount = page
			}
			line = after
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		appendLine(&current, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.doc, nil
}

func appendLine(sb *strings.Builder, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(line)
}
