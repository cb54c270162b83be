package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docoutline/internal/doctree"
)

// csvRowsPerPage groups rows into pages so ranking can point at a block.
const csvRowsPerPage = 20

// CSVParser handles CSV files. The header row is page one's first fragment;
// each data row is a body fragment labeled with its column names.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	b := newBuilder(filename)
	if len(records) == 0 {
		return b.doc, nil
	}

	// First row is headers.
	headers := records[0]
	b.add(strings.Join(headers, ", "), HeadingFontSize(2), 1)

	for i, row := range records[1:] {
		page := i/csvRowsPerPage + 1
		var text strings.Builder
		for j, cell := range row {
			if j < len(headers) {
				text.WriteString(headers[j] + ": " + cell)
			} else {
				text.WriteString(cell)
			}
			if j < len(row)-1 {
				text.WriteString(", ")
			}
		}
		b.add(text.String(), doctree.BaselineFontSize, page)
	}
	return b.doc, nil
}
