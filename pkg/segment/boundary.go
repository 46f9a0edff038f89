package segment

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Method is the heuristic that found a boundary.
type Method int

const (
	MethodNone Method = iota
	// MethodHeading is an explicit markdown heading.
	MethodHeading
	// MethodLabelled is a "Chapter N" / "Part N" / "Section N.M" / "N. Title" line.
	MethodLabelled
	// MethodCaps is a short fully capitalized line.
	MethodCaps
)

func (m Method) String() string {
	switch m {
	case MethodHeading:
		return "heading"
	case MethodLabelled:
		return "labelled"
	case MethodCaps:
		return "caps"
	default:
		return "none"
	}
}

// Confidence of each detection method.
const (
	HeadingConfidence  = 1.0
	LabelledConfidence = 0.9
	CapsConfidence     = 0.7
)

const (
	maxHeadingLevel  = 2
	maxLabelledChars = 100
	minCapsChars     = 4
	maxCapsChars     = 60
)

// Boundary marks the start of a chapter.
type Boundary struct {
	// Offset is the byte offset of the start of the boundary line.
	Offset     int
	Title      string
	Method     Method
	Confidence float64
	// Number is the chapter number taken from the label, 0 when the method
	// carries none.
	Number int
}

var (
	chapterPattern = regexp.MustCompile(`^\s{0,3}(?i:chapter|part)\s+([0-9]+|[IVXLCDM]+)\b`)
	sectionPattern = regexp.MustCompile(`^\s{0,3}(?i:section)\s+([0-9]+)(?:\.[0-9]+)*\b`)
	numberedTitle  = regexp.MustCompile(`^\s{0,3}([0-9]{1,2})\.\s+\p{Lu}.{2,80}$`)
)

// acronymDenylist holds capitalized tokens that are not chapter titles.
var acronymDenylist = map[string]bool{
	"NOTE": true, "NOTES": true, "TIP": true, "FAQ": true, "FAQS": true,
	"IRS": true, "HMRC": true, "USA": true, "U.S.": true, "EU": true,
	"VAT": true, "GST": true, "HST": true, "PAYE": true, "PDF": true,
	"N/A": true, "TOC": true, "SSN": true, "EIN": true, "ITIN": true,
	"LLC": true, "IRA": true, "CPA": true, "OECD": true, "TABLE": true,
	"WARNING": true, "CAUTION": true, "EXAMPLE": true, "TOTAL": true,
}

// DetectBoundaries returns the highest-confidence boundary set found in text,
// ordered by offset. Headings win over labelled sections, which win over
// capitalized lines. An empty result means no structure was detected.
func DetectBoundaries(text string) []Boundary {
	for _, detect := range []func(string) []Boundary{detectHeadings, detectLabelled, detectCaps} {
		if found := detect(text); len(found) > 0 {
			return dedupe(found)
		}
	}
	return nil
}

func detectHeadings(text string) []Boundary {
	src := []byte(text)
	doc := goldmark.DefaultParser().Parse(gmtext.NewReader(src))

	var found []Boundary
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() == ast.KindDocument {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || n.Parent() == nil || n.Parent().Kind() != ast.KindDocument {
			// Only top level blocks can start a chapter.
			return ast.WalkSkipChildren, nil
		}
		if heading.Level > maxHeadingLevel || heading.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}

		first := heading.Lines().At(0)
		var title strings.Builder
		for i := 0; i < heading.Lines().Len(); i++ {
			seg := heading.Lines().At(i)
			if i > 0 {
				title.WriteByte(' ')
			}
			title.Write(seg.Value(src))
		}

		found = append(found, Boundary{
			Offset:     lineStart(text, first.Start),
			Title:      strings.TrimSpace(title.String()),
			Method:     MethodHeading,
			Confidence: HeadingConfidence,
		})
		return ast.WalkSkipChildren, nil
	})
	return found
}

func detectLabelled(text string) []Boundary {
	var found []Boundary
	forEachLine(text, func(offset int, line string) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || utf8.RuneCountInString(trimmed) > maxLabelledChars {
			return
		}

		var number string
		switch {
		case chapterPattern.MatchString(line):
			number = chapterPattern.FindStringSubmatch(line)[1]
		case sectionPattern.MatchString(line):
			number = sectionPattern.FindStringSubmatch(line)[1]
		case numberedTitle.MatchString(line) && !endsSentence(trimmed):
			number = numberedTitle.FindStringSubmatch(line)[1]
		default:
			return
		}

		found = append(found, Boundary{
			Offset:     offset,
			Title:      trimmed,
			Method:     MethodLabelled,
			Confidence: LabelledConfidence,
			Number:     parseNumber(number),
		})
	})
	return found
}

func detectCaps(text string) []Boundary {
	var found []Boundary
	forEachLine(text, func(offset int, line string) {
		trimmed := strings.TrimSpace(line)
		n := utf8.RuneCountInString(trimmed)
		if n < minCapsChars || n > maxCapsChars {
			return
		}
		if acronymDenylist[strings.TrimRight(trimmed, ":.")] {
			return
		}

		letters := 0
		for _, r := range trimmed {
			if unicode.IsLetter(r) {
				if !unicode.IsUpper(r) {
					return
				}
				letters++
			}
		}
		if letters < 3 {
			return
		}

		found = append(found, Boundary{
			Offset:     offset,
			Title:      trimmed,
			Method:     MethodCaps,
			Confidence: CapsConfidence,
		})
	})
	return found
}

func dedupe(bs []Boundary) []Boundary {
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Offset < bs[j].Offset })
	out := bs[:0]
	for i, b := range bs {
		if i > 0 && b.Offset == out[len(out)-1].Offset {
			continue
		}
		out = append(out, b)
	}
	return out
}

func forEachLine(text string, fn func(offset int, line string)) {
	offset := 0
	for offset <= len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		if end < 0 {
			fn(offset, text[offset:])
			return
		}
		fn(offset, text[offset:offset+end])
		offset += end + 1
	}
}

func lineStart(text string, pos int) int {
	if pos > len(text) {
		pos = len(text)
	}
	return strings.LastIndexByte(text[:pos], '\n') + 1
}

func endsSentence(s string) bool {
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, ";") || strings.HasSuffix(s, ",")
}

func parseNumber(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return romanToInt(strings.ToUpper(s))
}

func romanToInt(s string) int {
	values := map[byte]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000}
	total := 0
	for i := 0; i < len(s); i++ {
		v := values[s[i]]
		if i+1 < len(s) && v < values[s[i+1]] {
			total -= v
		} else {
			total += v
		}
	}
	return total
}
