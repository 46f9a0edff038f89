package assemble

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/fsutil"
	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/skills"
)

// ErrIntegrityViolation rejects a rewrite that changes a skill's identifier
// or category.
var ErrIntegrityViolation = errors.New("skill rewrite changed identifier or category")

// IntegrityError describes a rejected rewrite. It matches
// ErrIntegrityViolation with errors.Is.
type IntegrityError struct {
	Skill string
	// Diff is a unified diff from the stored metadata to the proposed one.
	Diff string
}

func (e *IntegrityError) Error() string {
	return "skill " + e.Skill + ": " + ErrIntegrityViolation.Error()
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityViolation }

// Load reads an assembled skill by identifier.
func (a *Assembler) Load(id string) (*skills.Skill, error) {
	return skills.LoadSkill(filepath.Join(a.root, id, skills.FileName))
}

// Rewrite replaces a skill's metadata and overview. The identifier and
// category must be unchanged; otherwise the stored skill is kept and an
// *IntegrityError is returned. References are kept when meta lists none.
func (a *Assembler) Rewrite(ctx context.Context, id string, meta skills.Metadata, overview string) (*skills.Skill, error) {
	current, err := a.Load(id)
	if err != nil {
		return nil, err
	}

	if meta.References == nil {
		meta.References = current.References
	}
	if meta.Name != current.Name || meta.Category != current.Category {
		diff, derr := metadataDiff(current.Metadata, meta)
		if derr != nil {
			return nil, derr
		}
		logger.G(ctx).WithField("skill", id).WithField("diff", diff).Warn("rejected skill rewrite")
		return nil, &IntegrityError{Skill: id, Diff: diff}
	}

	content, err := skills.Render(meta, overview)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(current.Directory, skills.FileName)
	if err := fsutil.WriteFileAtomic(path, content, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write SKILL.md")
	}
	logger.G(ctx).WithField("skill", id).Info("skill rewritten")
	return skills.LoadSkill(path)
}

func metadataDiff(before, after skills.Metadata) (string, error) {
	old, err := yaml.Marshal(before)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}
	updated, err := yaml.Marshal(after)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}
	return udiff.Unified("stored", "proposed", string(old), string(updated)), nil
}

var polishTemplate = template.Must(template.New("polish").Parse(`You maintain a library of knowledge skills. Improve the metadata and overview of the skill below so that a router can tell when it applies.

Rules:
- "name" and "category" must be returned exactly as given
- the description is one or two sentences naming the questions the skill answers
- triggers are short lowercase phrases a user might ask
- the overview is markdown and must keep every reference link

Current metadata:
{{.Metadata}}
Current overview:
{{.Overview}}

Answer with a single JSON object:
{"name": "...", "category": "...", "title": "...", "description": "...", "tags": ["..."], "triggers": ["..."], "keywords": ["..."], "overview": "..."}
`))

type polishAnswer struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Triggers    []string `json:"triggers"`
	Keywords    []string `json:"keywords"`
	Overview    string   `json:"overview"`
}

// Polish asks gen to rewrite a skill's metadata and overview and applies the
// answer through Rewrite. Fields missing from the answer keep their stored
// values.
func (a *Assembler) Polish(ctx context.Context, gen backend.Generator, id string) (*skills.Skill, error) {
	current, err := a.Load(id)
	if err != nil {
		return nil, err
	}

	front, err := yaml.Marshal(current.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	var prompt bytes.Buffer
	if err := polishTemplate.Execute(&prompt, map[string]string{
		"Metadata": string(front),
		"Overview": current.Body,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to render polish prompt")
	}

	out, err := gen.Generate(ctx, prompt.String())
	if err != nil {
		return nil, errors.Wrap(err, "polish generation failed")
	}
	var answer polishAnswer
	if err := backend.DecodeJSON(out, &answer); err != nil {
		return nil, errors.Wrap(err, "polish answer was not usable")
	}

	meta := current.Metadata
	meta.Name = pick(answer.Name, meta.Name)
	meta.Category = pick(answer.Category, meta.Category)
	meta.Title = pick(answer.Title, meta.Title)
	meta.Description = pick(answer.Description, meta.Description)
	if len(answer.Tags) > 0 {
		meta.Tags = answer.Tags
	}
	if len(answer.Triggers) > 0 {
		meta.Triggers = answer.Triggers
	}
	if len(answer.Keywords) > 0 {
		meta.Keywords = answer.Keywords
	}
	overview := pick(answer.Overview, current.Body)

	return a.Rewrite(ctx, id, meta, overview)
}

func pick(candidate, fallback string) string {
	if strings.TrimSpace(candidate) == "" {
		return fallback
	}
	return strings.TrimSpace(candidate)
}
