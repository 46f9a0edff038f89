// Package segment splits extracted document text into bounded chunks.
//
// Chapters are found with DetectBoundaries. A chapter that fits within the
// configured maximum becomes one chunk; a larger chapter is split at
// paragraph breaks into numbered parts. Chunks are contiguous and together
// reproduce the input text byte for byte.
package segment

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// DefaultMaxChunkSize is the default chunk limit in characters.
	DefaultMaxChunkSize = 300_000
	// DefaultFallbackTitle names the single chapter of a document without
	// detectable structure.
	DefaultFallbackTitle = "Document"
	// FrontMatterTitle names text that precedes the first boundary.
	FrontMatterTitle = "Front Matter"

	maxSlugLength = 80
)

// Options configure Split.
type Options struct {
	// MaxChunkSize is the chunk limit in characters. Required.
	MaxChunkSize int
	// FallbackTitle titles the chapter used when no boundaries are found.
	FallbackTitle string
	// PageOffsets are the byte offsets at which pages start. When set, chunks
	// carry the page range they span.
	PageOffsets []int
}

// Chunk is a contiguous slice of the document text.
type Chunk struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
	// Start and End delimit the chunk as a byte span [Start, End) of the text.
	Start int `json:"start"`
	End   int `json:"end"`
	// Chapter is the originating chapter number, 0 when none was detected.
	Chapter   int    `json:"chapter"`
	Part      int    `json:"part,omitempty"`
	PageStart int    `json:"page_start,omitempty"`
	PageEnd   int    `json:"page_end,omitempty"`
	Chars     int    `json:"chars"`
	Oversized bool   `json:"oversized,omitempty"`
	Text      string `json:"-"`
}

type chapter struct {
	title  string
	number int
	start  int
	end    int
}

type span struct {
	start, end int
	oversized  bool
}

// Split segments text into chunks of at most opts.MaxChunkSize characters.
// A paragraph longer than the limit is emitted on its own and flagged
// Oversized rather than cut mid-paragraph.
func Split(text string, opts Options) ([]Chunk, error) {
	if opts.MaxChunkSize <= 0 {
		return nil, errors.Errorf("max chunk size must be positive, got %d", opts.MaxChunkSize)
	}
	if opts.FallbackTitle == "" {
		opts.FallbackTitle = DefaultFallbackTitle
	}
	if text == "" {
		return nil, nil
	}

	chapters := buildChapters(text, DetectBoundaries(text), opts.FallbackTitle)
	slugs := newSlugger()

	var chunks []Chunk
	for _, ch := range chapters {
		spans := splitParagraphs(text, ch.start, ch.end, opts.MaxChunkSize)
		for part, sp := range spans {
			title := ch.title
			partNo := 0
			if len(spans) > 1 {
				partNo = part + 1
				title = fmt.Sprintf("%s (Part %d)", ch.title, partNo)
			}
			body := text[sp.start:sp.end]
			chunk := Chunk{
				Index:     len(chunks) + 1,
				Title:     title,
				Slug:      slugs.next(title),
				Start:     sp.start,
				End:       sp.end,
				Chapter:   ch.number,
				Part:      partNo,
				Chars:     utf8.RuneCountInString(body),
				Oversized: sp.oversized,
				Text:      body,
			}
			if len(opts.PageOffsets) > 0 {
				chunk.PageStart = pageAt(opts.PageOffsets, sp.start)
				chunk.PageEnd = pageAt(opts.PageOffsets, max(sp.start, sp.end-1))
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func buildChapters(text string, bounds []Boundary, fallbackTitle string) []chapter {
	if len(bounds) == 0 {
		return []chapter{{title: fallbackTitle, start: 0, end: len(text)}}
	}

	var chapters []chapter
	if pre := text[:bounds[0].Offset]; strings.TrimSpace(pre) != "" {
		chapters = append(chapters, chapter{title: FrontMatterTitle, start: 0, end: bounds[0].Offset})
	}

	for i, b := range bounds {
		start := b.Offset
		if i == 0 && len(chapters) == 0 {
			// Blank lead-in is folded into the first chapter.
			start = 0
		}
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].Offset
		}
		number := b.Number
		if number == 0 {
			number = i + 1
		}
		title := b.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", number)
		}
		chapters = append(chapters, chapter{title: title, number: number, start: start, end: end})
	}
	return chapters
}

// splitParagraphs cuts [start, end) into spans of at most limit characters
// at paragraph breaks. Blank-line separators stay attached to the paragraph
// they follow so that spans remain contiguous.
func splitParagraphs(text string, start, end, limit int) []span {
	if utf8.RuneCountInString(text[start:end]) <= limit {
		return []span{{start: start, end: end}}
	}

	var spans []span
	bufStart, bufLen := start, 0
	for _, p := range paragraphs(text, start, end) {
		n := utf8.RuneCountInString(text[p.start:p.end])
		if bufLen > 0 && bufLen+n > limit {
			spans = append(spans, span{start: bufStart, end: p.start})
			bufStart, bufLen = p.start, 0
		}
		if bufLen == 0 && n > limit {
			spans = append(spans, span{start: p.start, end: p.end, oversized: true})
			bufStart = p.end
			continue
		}
		bufLen += n
	}
	if bufLen > 0 || bufStart < end {
		spans = append(spans, span{start: bufStart, end: end})
	}
	return spans
}

func paragraphs(text string, start, end int) []span {
	var out []span
	pos := start
	for pos < end {
		idx := strings.Index(text[pos:end], "\n\n")
		if idx < 0 {
			out = append(out, span{start: pos, end: end})
			break
		}
		sepEnd := pos + idx
		for sepEnd < end && text[sepEnd] == '\n' {
			sepEnd++
		}
		out = append(out, span{start: pos, end: sepEnd})
		pos = sepEnd
	}
	return out
}

func pageAt(offsets []int, off int) int {
	i := sort.SearchInts(offsets, off+1)
	if i == 0 {
		return 1
	}
	return i
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with hyphens.
func Slugify(s string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

type slugger struct {
	seen map[string]bool
}

func newSlugger() *slugger {
	return &slugger{seen: make(map[string]bool)}
}

// next returns a slug for title that is unique among those issued so far.
func (s *slugger) next(title string) string {
	base := Slugify(title)
	if base == "" {
		base = "chunk"
	}
	slug := base
	for n := 2; s.seen[slug]; n++ {
		slug = base + "-" + strconv.Itoa(n)
	}
	s.seen[slug] = true
	return slug
}
