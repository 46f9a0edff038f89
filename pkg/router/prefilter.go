// Package router selects the skills relevant to a query: a deterministic
// prefilter narrows the index, then a reasoning backend picks the final set.
package router

import (
	"math"
	"sort"
	"strings"

	"github.com/jingkaihe/skillsmith/pkg/skills"
)

// Weights are the points a skill earns per kind of match.
type Weights struct {
	Trigger int `mapstructure:"trigger"`
	Keyword int `mapstructure:"keyword"`
	Domain  int `mapstructure:"domain"`
	Tag     int `mapstructure:"tag"`
}

// DefaultWeights is the standard scoring.
var DefaultWeights = Weights{Trigger: 10, Keyword: 5, Domain: 3, Tag: 2}

// PrefilterConfig tunes the prefilter.
type PrefilterConfig struct {
	// Threshold is the index size from which zero-score skills are dropped.
	Threshold int `mapstructure:"prefilter_threshold"`
	// FloorRatio is the minimum share of the index kept once filtering applies.
	FloorRatio float64 `mapstructure:"floor_ratio"`
	Weights    Weights `mapstructure:"weights"`
}

// NewPrefilterConfig returns the default configuration.
func NewPrefilterConfig() PrefilterConfig {
	return PrefilterConfig{Threshold: 50, FloorRatio: 0.30, Weights: DefaultWeights}
}

// Candidate is a skill with its prefilter score.
type Candidate struct {
	Skill *skills.Skill
	Score int
}

// Prefilter scores skills against a query without calling any backend.
type Prefilter struct {
	cfg PrefilterConfig
}

// NewPrefilter creates a prefilter.
func NewPrefilter(cfg PrefilterConfig) *Prefilter {
	return &Prefilter{cfg: cfg}
}

// Score ranks every skill by score, then identifier. Small indexes are
// returned whole. Larger ones keep the skills that scored, topped up with the
// next best ranked skills until the floor share of the index is reached.
func (p *Prefilter) Score(query string, idx *skills.Index) []Candidate {
	q := strings.ToLower(query)
	all := make([]Candidate, 0, idx.Len())
	for _, s := range idx.List() {
		all = append(all, Candidate{Skill: s, Score: p.score(q, s)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Skill.Name < all[j].Skill.Name
	})

	if len(all) < p.cfg.Threshold {
		return all
	}

	floor := int(math.Ceil(p.cfg.FloorRatio * float64(len(all))))
	kept := 0
	for kept < len(all) && all[kept].Score > 0 {
		kept++
	}
	return all[:max(kept, min(floor, len(all)))]
}

func (p *Prefilter) score(q string, s *skills.Skill) int {
	w := p.cfg.Weights
	score := w.Trigger*countContained(q, s.Triggers) +
		w.Keyword*countContained(q, s.Keywords) +
		w.Tag*countContained(q, s.Tags)
	if domainMatches(q, s.Category) {
		score += w.Domain
	}
	return score
}

func countContained(q string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(q, p) {
			n++
		}
	}
	return n
}

// domainMatches reports whether the query names the category or one of its
// significant words.
func domainMatches(q, category string) bool {
	if category == "" {
		return false
	}
	category = strings.ToLower(category)
	if strings.Contains(q, category) || strings.Contains(q, strings.ReplaceAll(category, "-", " ")) {
		return true
	}
	for _, part := range strings.Split(category, "-") {
		if len(part) >= 4 && part != "general" && strings.Contains(q, part) {
			return true
		}
	}
	return false
}
