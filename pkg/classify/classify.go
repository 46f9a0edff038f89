// Package classify scores extracted text against a fixed taxonomy.
//
// Classification is rule based: five independent signals, each in [0,1], are
// combined with fixed weights. Only keyword coverage depends on the category;
// the other four describe the document as a whole. No network calls are made,
// so classification runs unconditionally on every document.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jingkaihe/skillsmith/pkg/segment"
)

// Weights combine the component scores into a composite.
type Weights struct {
	Keyword      float64
	Structure    float64
	Depth        float64
	Specificity  float64
	Completeness float64
}

// DefaultWeights sum to 1.
var DefaultWeights = Weights{
	Keyword:      0.40,
	Structure:    0.20,
	Depth:        0.15,
	Specificity:  0.15,
	Completeness: 0.10,
}

// DepthCap is the average paragraph length at which depth saturates.
const DepthCap = 500

// TieBreak decides between categories with equal composite scores.
type TieBreak int

const (
	// TieBreakDeclared prefers the category declared first in the taxonomy.
	TieBreakDeclared TieBreak = iota
	// TieBreakAlphabetical prefers the lexically smallest category name.
	TieBreakAlphabetical
)

var (
	introMarkers     = []string{"introduction", "overview", "purpose of this"}
	exampleMarkers   = []string{"example", "for instance", "e.g."}
	referenceMarkers = []string{"references", "see also", "bibliography", "further information"}

	headingMarkup = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	listMarkup    = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+•]|\d{1,3}[.)])[ \t]+\S`)
)

// Scores are the component scores behind a classification.
type Scores struct {
	Keyword      float64 `json:"keyword" yaml:"keyword"`
	Structure    float64 `json:"structure" yaml:"structure"`
	Depth        float64 `json:"depth" yaml:"depth"`
	Specificity  float64 `json:"specificity" yaml:"specificity"`
	Completeness float64 `json:"completeness" yaml:"completeness"`
	Composite    float64 `json:"composite" yaml:"composite"`
}

// CategoryScore is the composite one category received.
type CategoryScore struct {
	Category  string  `json:"category"`
	Composite float64 `json:"composite"`
}

// Result is the outcome of Classify.
type Result struct {
	Category string `json:"category"`
	// Scores are the winning category's component scores.
	Scores Scores `json:"scores"`
	// Ranking holds every category's composite in taxonomy order.
	Ranking []CategoryScore `json:"ranking"`
}

// Confidence is the winning composite score.
func (r Result) Confidence() float64 { return r.Scores.Composite }

// Classifier scores documents. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	taxonomy *Taxonomy
	weights  Weights
	tieBreak TieBreak
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTaxonomy replaces the default taxonomy.
func WithTaxonomy(t *Taxonomy) Option {
	return func(c *Classifier) { c.taxonomy = t }
}

// WithWeights replaces the default weights.
func WithWeights(w Weights) Option {
	return func(c *Classifier) { c.weights = w }
}

// WithTieBreak selects the tie-break policy.
func WithTieBreak(tb TieBreak) Option {
	return func(c *Classifier) { c.tieBreak = tb }
}

// New creates a classifier using the default taxonomy and weights unless
// overridden.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		taxonomy: DefaultTaxonomy(),
		weights:  DefaultWeights,
		tieBreak: TieBreakDeclared,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Taxonomy returns the taxonomy in use.
func (c *Classifier) Taxonomy() *Taxonomy { return c.taxonomy }

// Classify scores text against every category and returns the winner.
func (c *Classifier) Classify(text string) Result {
	lower := strings.ToLower(text)

	shared := Scores{
		Structure:    structureScore(text),
		Depth:        depthScore(text),
		Specificity:  fractionPresent(lower, c.taxonomy.DomainTerms),
		Completeness: completenessScore(lower),
	}

	result := Result{Ranking: make([]CategoryScore, 0, len(c.taxonomy.Categories))}
	best := -1
	for i, cat := range c.taxonomy.Categories {
		s := shared
		s.Keyword = fractionPresent(lower, cat.Keywords)
		s.Composite = c.composite(s)
		result.Ranking = append(result.Ranking, CategoryScore{Category: cat.Name, Composite: s.Composite})

		if best < 0 || c.beats(s.Composite, cat.Name, result.Scores.Composite, result.Category) {
			best = i
			result.Category = cat.Name
			result.Scores = s
		}
	}
	return result
}

// Matched returns the keywords of category that occur in text, in taxonomy
// order. An unknown category matches nothing.
func (c *Classifier) Matched(text, category string) []string {
	lower := strings.ToLower(text)
	for _, cat := range c.taxonomy.Categories {
		if cat.Name != category {
			continue
		}
		var out []string
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				out = append(out, kw)
			}
		}
		return out
	}
	return nil
}

func (c *Classifier) composite(s Scores) float64 {
	w := c.weights
	return w.Keyword*s.Keyword +
		w.Structure*s.Structure +
		w.Depth*s.Depth +
		w.Specificity*s.Specificity +
		w.Completeness*s.Completeness
}

// beats reports whether a candidate displaces the current leader.
func (c *Classifier) beats(score float64, name string, leader float64, leaderName string) bool {
	if score != leader {
		return score > leader
	}
	if c.tieBreak == TieBreakAlphabetical {
		return name < leaderName
	}
	return false
}

func structureScore(text string) float64 {
	signals := []bool{
		headingMarkup.MatchString(text),
		listMarkup.MatchString(text),
		len(segment.DetectBoundaries(text)) > 0,
	}
	return meanOf(signals)
}

func depthScore(text string) float64 {
	breaks := strings.Count(text, "\n\n")
	if breaks < 1 {
		breaks = 1
	}
	avg := float64(utf8.RuneCountInString(text)) / float64(breaks)
	if avg > DepthCap {
		avg = DepthCap
	}
	return avg / DepthCap
}

func completenessScore(lower string) float64 {
	return meanOf([]bool{
		containsAny(lower, introMarkers),
		containsAny(lower, exampleMarkers),
		containsAny(lower, referenceMarkers),
	})
}

func fractionPresent(lower string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	found := 0
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func meanOf(signals []bool) float64 {
	n := 0
	for _, s := range signals {
		if s {
			n++
		}
	}
	return float64(n) / float64(len(signals))
}
