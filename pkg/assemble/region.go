package assemble

import (
	"regexp"
	"strings"

	"github.com/jingkaihe/skillsmith/pkg/skills"
)

// Region is a jurisdiction label and the terms that indicate it.
type Region struct {
	Name  string
	Terms []string
}

// DefaultRegions is the built-in jurisdiction table, in tie-break order.
var DefaultRegions = []Region{
	{Name: "uk", Terms: []string{"hmrc", "united kingdom", "self assessment", "national insurance", "companies house"}},
	{Name: "us", Terms: []string{"irs", "internal revenue", "united states", "form 1040", "social security"}},
	{Name: "eu", Terms: []string{"european union", "member state", "vat directive", "european commission"}},
	{Name: "au", Terms: []string{"australian taxation office", "australia", "ato", "superannuation"}},
	{Name: "ca", Terms: []string{"canada revenue agency", "canada", "cra", "hst"}},
	{Name: "in", Terms: []string{"india", "gst council", "cbdt", "income tax department"}},
}

type regionMatcher struct {
	name     string
	patterns []*regexp.Regexp
}

// RegionDetector labels text with the region whose terms occur most often.
type RegionDetector struct {
	matchers []regionMatcher
}

// NewRegionDetector compiles a region table. Terms match on word boundaries.
func NewRegionDetector(regions []Region) *RegionDetector {
	d := &RegionDetector{}
	for _, r := range regions {
		m := regionMatcher{name: r.Name}
		for _, term := range r.Terms {
			m.patterns = append(m.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(strings.ToLower(term))+`\b`))
		}
		d.matchers = append(d.matchers, m)
	}
	return d
}

// Detect returns the best matching region, or skills.DefaultRegion when no
// term occurs. Ties go to the earlier region in the table.
func (d *RegionDetector) Detect(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := skills.DefaultRegion, 0
	for _, m := range d.matchers {
		hits := 0
		for _, p := range m.patterns {
			hits += len(p.FindAllStringIndex(lower, -1))
		}
		if hits > bestHits {
			best, bestHits = m.name, hits
		}
	}
	return best
}
