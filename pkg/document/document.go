// Package document defines the extracted form of a source document and the
// extractors that produce it. Extraction output is cached per content address
// so that segmentation and classification never re-read the source.
package document

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jingkaihe/skillsmith/pkg/address"
)

// PageSeparator joins page texts into the document's full text.
const PageSeparator = "\n\n"

// Page is one page of extracted text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
	Chars  int    `json:"chars"`
	Lines  int    `json:"lines"`
	// Offset is the byte offset of the page within Document.Text.
	Offset int `json:"offset"`
}

// Source describes where a document came from.
type Source struct {
	Name        string    `json:"name"`
	Path        string    `json:"path,omitempty"`
	Format      string    `json:"format"`
	Bytes       int64     `json:"bytes"`
	PageLimit   int       `json:"page_limit,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Document is the read-only output of extraction.
type Document struct {
	Address address.Address `json:"address"`
	Source  Source          `json:"source"`
	Text    string          `json:"text"`
	Pages   []Page          `json:"pages"`
}

// NewDocument assembles a document from page texts, numbering pages from 1
// and recording their offsets in the joined text.
func NewDocument(addr address.Address, src Source, pageTexts []string) *Document {
	pages := make([]Page, 0, len(pageTexts))
	var sb strings.Builder
	for i, text := range pageTexts {
		if i > 0 {
			sb.WriteString(PageSeparator)
		}
		pages = append(pages, Page{
			Number: i + 1,
			Text:   text,
			Chars:  utf8.RuneCountInString(text),
			Lines:  countLines(text),
			Offset: sb.Len(),
		})
		sb.WriteString(text)
	}

	return &Document{
		Address: addr,
		Source:  src,
		Text:    sb.String(),
		Pages:   pages,
	}
}

// PageOffsets returns the byte offset of every page, in page order.
func (d *Document) PageOffsets() []int {
	offsets := make([]int, len(d.Pages))
	for i, p := range d.Pages {
		offsets[i] = p.Offset
	}
	return offsets
}

// PageAt returns the page number containing byte offset off. Documents
// without pages report page 1.
func (d *Document) PageAt(off int) int {
	if len(d.Pages) == 0 {
		return 1
	}
	i := sort.Search(len(d.Pages), func(i int) bool { return d.Pages[i].Offset > off })
	if i == 0 {
		return d.Pages[0].Number
	}
	return d.Pages[i-1].Number
}

// Chars is the document length in characters.
func (d *Document) Chars() int {
	return utf8.RuneCountInString(d.Text)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
