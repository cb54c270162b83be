package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/docoutline/internal/doctree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLParser_TitleAndHeadings(t *testing.T) {
	input := `<html><head><title>Field Guide</title><style>p{}</style></head>
<body>
<nav>skip me</nav>
<h1>Birds</h1>
<p>Birds are   feathered.</p>
<h2>Owls</h2>
<ul><li>Barn owl</li></ul>
<script>var x = 1;</script>
</body></html>`

	doc, err := (&HTMLParser{}).Parse(strings.NewReader(input), "guide.html")
	require.NoError(t, err)

	var got []string
	for _, f := range doc.Fragments {
		got = append(got, f.Text)
	}
	assert.Equal(t, []string{"Field Guide", "Birds", "Birds are feathered.", "Owls", "Barn owl"}, got)
	assert.Equal(t, TitleFontSize, doc.Fragments[0].FontSize)
	assert.Equal(t, 24.0, doc.Fragments[1].FontSize)
	assert.Equal(t, 20.0, doc.Fragments[3].FontSize)
	assert.Equal(t, doctree.BaselineFontSize, doc.Fragments[4].FontSize)
}

func TestCSVParser_PagesOfRows(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("city,country\n")
	for i := 0; i < 25; i++ {
		sb.WriteString("Paris,France\n")
	}
	doc, err := (&CSVParser{}).Parse(strings.NewReader(sb.String()), "cities.csv")
	require.NoError(t, err)

	assert.Equal(t, 2, doc.PageCount)
	require.Len(t, doc.Fragments, 26)
	assert.Equal(t, "city, country", doc.Fragments[0].Text)
	assert.Equal(t, "city: Paris, country: France", doc.Fragments[1].Text)
	assert.Equal(t, 1, doc.Fragments[20].Page)
	assert.Equal(t, 2, doc.Fragments[21].Page)
}

func TestCSVParser_Empty(t *testing.T) {
	doc, err := (&CSVParser{}).Parse(strings.NewReader(""), "empty.csv")
	require.NoError(t, err)
	assert.Empty(t, doc.Fragments)
}

func TestForFile(t *testing.T) {
	cases := map[string]any{
		"a.pdf":      &PDFParser{},
		"a.PDF":      &PDFParser{},
		"a.md":       &MarkdownParser{},
		"a.markdown": &MarkdownParser{},
		"a.htm":      &HTMLParser{},
		"a.txt":      &TextParser{},
		"a.csv":      &CSVParser{},
		"a.docx":     &DOCXParser{},
	}
	for name, want := range cases {
		p, err := ForFile(name, Options{})
		require.NoError(t, err, name)
		assert.IsType(t, want, p, name)
	}

	_, err := ForFile("a.exe", Options{})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	p, err := ForFile("x.pdf", Options{FallbackPdftotext: true})
	require.NoError(t, err)
	assert.True(t, p.(*PDFParser).FallbackPdftotext)
}

func TestIsSupportedExtension(t *testing.T) {
	assert.True(t, IsSupportedExtension("report.PDF"))
	assert.True(t, IsSupportedExtension("notes.markdown"))
	assert.False(t, IsSupportedExtension("archive.zip"))
	assert.True(t, IsPDF("x.Pdf"))
	assert.False(t, IsPDF("x.txt"))
}

func TestHeadingFontSize(t *testing.T) {
	prev := HeadingFontSize(1)
	for level := 2; level <= 6; level++ {
		s := HeadingFontSize(level)
		assert.Less(t, s, prev)
		assert.Greater(t, s, doctree.BaselineFontSize)
		prev = s
	}
	assert.Equal(t, doctree.BaselineFontSize, HeadingFontSize(7))
	assert.Greater(t, TitleFontSize, HeadingFontSize(1))
}
