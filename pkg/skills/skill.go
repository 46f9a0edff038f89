// Package skills loads assembled skills from disk and keeps a queryable index
// of their metadata. A skill is a directory holding a SKILL.md file whose YAML
// frontmatter describes it, plus reference documents under references/.
package skills

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"
)

// FileName is the skill definition file inside a skill directory.
const FileName = "SKILL.md"

// DefaultRegion labels references with no detected jurisdiction.
const DefaultRegion = "general"

// Reference is one reference document of a skill.
type Reference struct {
	// Path is relative to the skill directory.
	Path   string `yaml:"path" mapstructure:"path" json:"path"`
	Title  string `yaml:"title" mapstructure:"title" json:"title"`
	Region string `yaml:"region" mapstructure:"region" json:"region"`
	Chunk  int    `yaml:"chunk" mapstructure:"chunk" json:"chunk"`
	Pages  string `yaml:"pages,omitempty" mapstructure:"pages" json:"pages,omitempty"`
}

// Metadata is the frontmatter of a SKILL.md file.
type Metadata struct {
	// Name is the skill identifier. It is unique within an index.
	Name        string             `yaml:"name" mapstructure:"name" json:"name"`
	Title       string             `yaml:"title" mapstructure:"title" json:"title"`
	Description string             `yaml:"description" mapstructure:"description" json:"description"`
	Category    string             `yaml:"category" mapstructure:"category" json:"category"`
	Tags        []string           `yaml:"tags,omitempty" mapstructure:"tags" json:"tags,omitempty"`
	Triggers    []string           `yaml:"triggers,omitempty" mapstructure:"triggers" json:"triggers,omitempty"`
	Keywords    []string           `yaml:"keywords,omitempty" mapstructure:"keywords" json:"keywords,omitempty"`
	Source      string             `yaml:"source,omitempty" mapstructure:"source" json:"source,omitempty"`
	Address     string             `yaml:"address,omitempty" mapstructure:"address" json:"address,omitempty"`
	Confidence  float64            `yaml:"confidence,omitempty" mapstructure:"confidence" json:"confidence,omitempty"`
	Scores      map[string]float64 `yaml:"scores,omitempty" mapstructure:"scores" json:"scores,omitempty"`
	References  []Reference        `yaml:"references,omitempty" mapstructure:"references" json:"references,omitempty"`
	GeneratedAt string             `yaml:"generated_at,omitempty" mapstructure:"generated_at" json:"generated_at,omitempty"`
}

// Validate checks the fields every skill must carry.
func (m Metadata) Validate() error {
	if m.Name == "" {
		return errors.New("skill name is required in frontmatter")
	}
	if m.Description == "" {
		return errors.New("skill description is required in frontmatter")
	}
	return nil
}

// Regions lists the distinct reference regions in first-seen order.
func (m Metadata) Regions() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range m.References {
		if r.Region != "" && !seen[r.Region] {
			seen[r.Region] = true
			out = append(out, r.Region)
		}
	}
	return out
}

// Skill is a loaded skill.
type Skill struct {
	Metadata
	// Directory is the skill directory.
	Directory string
	// Body is the markdown of SKILL.md after the frontmatter.
	Body string
}

// ReadReference returns the content of one reference document.
func (s *Skill) ReadReference(ref Reference) (string, error) {
	path := filepath.Join(s.Directory, filepath.FromSlash(ref.Path))
	rel, err := filepath.Rel(s.Directory, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Errorf("reference %q escapes the skill directory", ref.Path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read reference %s", ref.Path)
	}
	return string(data), nil
}

// LoadSkill reads and parses a SKILL.md file.
func LoadSkill(path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}
	m, body, err := Parse(content)
	if err != nil {
		return nil, err
	}
	return &Skill{Metadata: m, Directory: filepath.Dir(path), Body: body}, nil
}

// Parse splits SKILL.md content into its metadata and body.
func Parse(content []byte) (Metadata, string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return Metadata{}, "", errors.Wrap(err, "failed to parse markdown")
	}

	raw, err := meta.TryGet(pctx)
	if err != nil {
		return Metadata{}, "", errors.Wrap(err, "invalid frontmatter")
	}
	if raw == nil {
		return Metadata{}, "", errors.New("missing frontmatter")
	}

	var m Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &m,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Metadata{}, "", errors.Wrap(err, "failed to create frontmatter decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return Metadata{}, "", errors.Wrap(err, "failed to decode frontmatter")
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, "", err
	}

	return m, extractBodyContent(string(content)), nil
}

// Render produces SKILL.md content from metadata and a markdown body.
func Render(m Metadata, body string) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	front, err := yaml.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal frontmatter")
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimLeft(body, "\n"))
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// extractBodyContent removes YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}
	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}
