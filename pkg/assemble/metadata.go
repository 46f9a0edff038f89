package assemble

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/jingkaihe/skillsmith/pkg/segment"
)

const (
	maxTriggers    = 15
	maxKeywords    = 25
	maxDescription = 1024
)

var (
	partSuffix = regexp.MustCompile(`\s+\(Part \d+\)$`)
	wordRE     = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’-][\p{L}\p{N}]+)*`)
	stopwords  = map[string]bool{
		"about": true, "after": true, "also": true, "and": true, "before": true,
		"chapter": true, "from": true, "front": true, "general": true, "guide": true,
		"into": true, "matter": true, "more": true, "other": true, "part": true,
		"section": true, "that": true, "the": true, "their": true, "this": true,
		"under": true, "what": true, "when": true, "where": true, "which": true,
		"with": true, "your": true, "document": true, "introduction": true,
	}
)

// SkillID derives the skill identifier from a source file name.
func SkillID(sourceName string) string {
	stem := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	return segment.Slugify(stem)
}

func titleFromName(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// sectionTitles returns distinct chapter titles in document order, with
// split-chapter suffixes and front matter dropped.
func sectionTitles(chunks []segment.Chunk) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range chunks {
		title := partSuffix.ReplaceAllString(c.Title, "")
		if title == segment.FrontMatterTitle || title == "" || seen[title] {
			continue
		}
		seen[title] = true
		out = append(out, title)
	}
	return out
}

func describe(title, category string, sections []string) string {
	desc := fmt.Sprintf("%s knowledge from %s", strings.ReplaceAll(category, "-", " "), title)
	if len(sections) > 0 {
		shown := sections
		if len(shown) > 5 {
			shown = shown[:5]
		}
		desc += ", covering " + strings.Join(shown, "; ")
		if len(sections) > len(shown) {
			desc += fmt.Sprintf(" and %d more sections", len(sections)-len(shown))
		}
	}
	desc += "."
	if r := []rune(desc); len(r) > maxDescription {
		desc = string(r[:maxDescription-1]) + "…"
	}
	r := []rune(desc)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func triggers(sections []string) []string {
	var out []string
	for _, s := range sections {
		if len(out) == maxTriggers {
			break
		}
		out = append(out, strings.ToLower(s))
	}
	return out
}

// significantWords collects distinct lowercase words of at least four letters
// that are not stopwords.
func significantWords(texts ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range texts {
		for _, w := range wordRE.FindAllString(strings.ToLower(t), -1) {
			if len([]rune(w)) < 4 || stopwords[w] || seen[w] || isNumber(w) {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func dedupe(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func limit(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func pageRange(c segment.Chunk) string {
	switch {
	case c.PageStart == 0:
		return ""
	case c.PageEnd <= c.PageStart:
		return fmt.Sprintf("%d", c.PageStart)
	default:
		return fmt.Sprintf("%d-%d", c.PageStart, c.PageEnd)
	}
}
