// Package assemble turns a segmented, classified and enhanced document into a
// skill directory: SKILL.md with YAML frontmatter, one reference file per
// chunk grouped by region, and a references index.
package assemble

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillsmith/pkg/address"
	"github.com/jingkaihe/skillsmith/pkg/classify"
	"github.com/jingkaihe/skillsmith/pkg/enhance"
	"github.com/jingkaihe/skillsmith/pkg/fsutil"
	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/segment"
	"github.com/jingkaihe/skillsmith/pkg/skills"
)

const (
	referencesDir = "references"
	indexFile     = "index.md"
)

// Input is everything needed to assemble one skill.
type Input struct {
	Address address.Address
	// SourceName is the file name of the source document.
	SourceName string
	// Name overrides the identifier derived from SourceName.
	Name           string
	Classification classify.Result
	// Keywords are category keywords found in the document.
	Keywords []string
	Chunks   []segment.Chunk
	// Enhanced holds generated content by chunk index. Chunks without an
	// entry are written from their source text.
	Enhanced map[int]enhance.EnhancedChunk
}

// Assembler writes skills under a root directory.
type Assembler struct {
	root    string
	regions *RegionDetector
	now     func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithRegions replaces the jurisdiction table.
func WithRegions(regions []Region) Option {
	return func(a *Assembler) { a.regions = NewRegionDetector(regions) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// New creates an assembler writing to root.
func New(root string, opts ...Option) *Assembler {
	a := &Assembler{
		root:    root,
		regions: NewRegionDetector(DefaultRegions),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Root is the skills directory.
func (a *Assembler) Root() string { return a.root }

type referenceFile struct {
	ref     skills.Reference
	content string
}

// Assemble builds and writes the skill for in. The skill directory is staged
// next to its final location and swapped in, so assembling the same source
// again replaces the previous skill as a whole.
func (a *Assembler) Assemble(ctx context.Context, in Input) (*skills.Skill, error) {
	if len(in.Chunks) == 0 {
		return nil, errors.New("cannot assemble a skill without chunks")
	}

	id := in.Name
	if id == "" {
		id = SkillID(in.SourceName)
	}
	id = segment.Slugify(id)
	if id == "" {
		id = "skill-" + in.Address.String()
	}

	log := logger.G(ctx).WithFields(logrus.Fields{"skill": id, "address": in.Address})

	title := titleFromName(in.SourceName)
	if in.Name != "" {
		title = titleFromName(in.Name)
	}
	sections := sectionTitles(in.Chunks)

	refs := make([]referenceFile, 0, len(in.Chunks))
	var regions []string
	enhancedCount := 0
	for _, c := range in.Chunks {
		body := c.Text
		if ec, ok := in.Enhanced[c.Index]; ok && strings.TrimSpace(ec.Content) != "" {
			body = ec.Content
			enhancedCount++
		}
		region := a.regions.Detect(c.Title + "\n" + body)
		if region != skills.DefaultRegion {
			regions = append(regions, region)
		}
		ref := skills.Reference{
			Path:   path.Join(referencesDir, region, fmt.Sprintf("%04d-%s.md", c.Index, c.Slug)),
			Title:  c.Title,
			Region: region,
			Chunk:  c.Index,
			Pages:  pageRange(c),
		}
		refs = append(refs, referenceFile{ref: ref, content: renderReference(ref, in.SourceName, len(in.Chunks), body)})
	}

	result := in.Classification
	meta := skills.Metadata{
		Name:        id,
		Title:       title,
		Description: describe(title, result.Category, sections),
		Category:    result.Category,
		Tags:        dedupe([]string{result.Category}, regions, limit(significantWords(title), 5)),
		Triggers:    triggers(sections),
		Keywords:    limit(dedupe(in.Keywords, significantWords(sections...)), maxKeywords),
		Source:      in.SourceName,
		Address:     in.Address.String(),
		Confidence:  result.Confidence(),
		Scores: map[string]float64{
			"keyword":      result.Scores.Keyword,
			"structure":    result.Scores.Structure,
			"depth":        result.Scores.Depth,
			"specificity":  result.Scores.Specificity,
			"completeness": result.Scores.Completeness,
			"composite":    result.Scores.Composite,
		},
		GeneratedAt: a.now().Format(time.RFC3339),
	}
	for _, r := range refs {
		meta.References = append(meta.References, r.ref)
	}

	skillFile, err := skills.Render(meta, renderOverview(meta))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create skills directory")
	}
	staging, err := os.MkdirTemp(a.root, ".staging-"+id+"-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	defer os.RemoveAll(staging)

	if err := os.WriteFile(filepath.Join(staging, skills.FileName), skillFile, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write SKILL.md")
	}
	for _, r := range refs {
		p := filepath.Join(staging, filepath.FromSlash(r.ref.Path))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create reference directory")
		}
		if err := os.WriteFile(p, []byte(r.content), 0o644); err != nil {
			return nil, errors.Wrapf(err, "failed to write reference %s", r.ref.Path)
		}
	}
	indexPath := filepath.Join(staging, referencesDir, indexFile)
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create references directory")
	}
	if err := os.WriteFile(indexPath, []byte(renderIndex(meta)), 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write references index")
	}

	final := filepath.Join(a.root, id)
	if err := swapDir(staging, final); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"references": len(refs),
		"enhanced":   enhancedCount,
		"category":   meta.Category,
	}).Info("skill assembled")

	return skills.LoadSkill(filepath.Join(final, skills.FileName))
}

// swapDir replaces final with staging. An existing final directory is moved
// aside first and removed once the new one is in place.
func swapDir(staging, final string) error {
	var old string
	if _, err := os.Stat(final); err == nil {
		old = filepath.Join(filepath.Dir(final), fmt.Sprintf(".old-%s-%d", filepath.Base(final), time.Now().UnixNano()))
		if err := fsutil.DefaultRenamer(final, old); err != nil {
			return errors.Wrap(err, "failed to move previous skill aside")
		}
	}
	if err := fsutil.DefaultRenamer(staging, final); err != nil {
		if old != "" {
			_ = fsutil.DefaultRenamer(old, final)
		}
		return errors.Wrap(err, "failed to publish skill directory")
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			return errors.Wrap(err, "failed to remove previous skill")
		}
	}
	return nil
}

func renderReference(ref skills.Reference, source string, total int, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", ref.Title)
	fmt.Fprintf(&sb, "> Source: %s, section %d of %d", source, ref.Chunk, total)
	if ref.Pages != "" {
		fmt.Fprintf(&sb, ", pages %s", ref.Pages)
	}
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n")
	return sb.String()
}

func renderOverview(m skills.Metadata) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n%s\n\n", m.Title, m.Description)
	sb.WriteString("## Contents\n\n")
	for _, r := range m.References {
		fmt.Fprintf(&sb, "- [%s](%s)", r.Title, r.Path)
		if r.Pages != "" {
			fmt.Fprintf(&sb, " (pages %s)", r.Pages)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n## How to use\n\n")
	fmt.Fprintf(&sb, "Start from [%s/%s](%s/%s) and open only the references that match the question.\n",
		referencesDir, indexFile, referencesDir, indexFile)
	return sb.String()
}

func renderIndex(m skills.Metadata) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s references\n\n", m.Title)

	byRegion := map[string][]skills.Reference{}
	for _, r := range m.References {
		byRegion[r.Region] = append(byRegion[r.Region], r)
	}
	regions := make([]string, 0, len(byRegion))
	for r := range byRegion {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	for _, region := range regions {
		fmt.Fprintf(&sb, "## %s\n\n", region)
		for _, r := range byRegion[region] {
			// Links are relative to the references directory.
			fmt.Fprintf(&sb, "- [%s](%s)", r.Title, strings.TrimPrefix(r.Path, referencesDir+"/"))
			if r.Pages != "" {
				fmt.Fprintf(&sb, " (pages %s)", r.Pages)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
