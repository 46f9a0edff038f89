package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Warning records a skill directory that was skipped while loading.
type Warning struct {
	Path string
	Err  error
}

func (w Warning) Error() string { return fmt.Sprintf("%s: %v", w.Path, w.Err) }

// Index maps skill identifiers to loaded skills. It is immutable once built.
type Index struct {
	root     string
	skills   map[string]*Skill
	ids      []string
	revision string

	// Warnings lists skills that could not be loaded or were duplicates.
	Warnings []Warning
}

// Load builds an index from every <root>/<dir>/SKILL.md. Malformed skills and
// duplicate identifiers are skipped and reported in Warnings; only a missing
// or unreadable root is an error.
func Load(root string) (*Index, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read skills directory %s", root)
	}

	idx := &Index{root: root, skills: map[string]*Skill{}}
	rev := sha256.New()
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}

		path := filepath.Join(dir, FileName)
		fi, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			idx.Warnings = append(idx.Warnings, Warning{Path: path, Err: err})
			continue
		}

		skill, err := LoadSkill(path)
		if err != nil {
			idx.Warnings = append(idx.Warnings, Warning{Path: path, Err: err})
			continue
		}
		if _, exists := idx.skills[skill.Name]; exists {
			idx.Warnings = append(idx.Warnings, Warning{
				Path: path,
				Err:  errors.Errorf("duplicate skill name %q", skill.Name),
			})
			continue
		}

		idx.skills[skill.Name] = skill
		idx.ids = append(idx.ids, skill.Name)
		fmt.Fprintf(rev, "%s\x00%s\x00%d\x00%d\n", skill.Name, entry.Name(), fi.Size(), fi.ModTime().UnixNano())
	}
	sort.Strings(idx.ids)
	idx.revision = hex.EncodeToString(rev.Sum(nil))[:16]
	return idx, nil
}

// Root is the directory the index was loaded from.
func (i *Index) Root() string { return i.root }

// Revision changes whenever any indexed SKILL.md changes.
func (i *Index) Revision() string { return i.revision }

// Len is the number of indexed skills.
func (i *Index) Len() int { return len(i.ids) }

// IDs returns the identifiers in ascending order.
func (i *Index) IDs() []string { return append([]string(nil), i.ids...) }

// Get looks up a skill by identifier.
func (i *Index) Get(id string) (*Skill, bool) {
	s, ok := i.skills[id]
	return s, ok
}

// List returns the skills ordered by identifier.
func (i *Index) List() []*Skill {
	out := make([]*Skill, len(i.ids))
	for n, id := range i.ids {
		out[n] = i.skills[id]
	}
	return out
}

// Problems aggregates the load warnings, or returns nil.
func (i *Index) Problems() error {
	var result *multierror.Error
	for _, w := range i.Warnings {
		result = multierror.Append(result, w)
	}
	return result.ErrorOrNil()
}

// Filter returns an index holding the skills whose identifier matches any of
// the glob patterns. No patterns returns the index unchanged.
func (i *Index) Filter(patterns []string) (*Index, error) {
	if len(patterns) == 0 {
		return i, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "invalid skill pattern %q", p)
		}
		globs = append(globs, g)
	}

	out := &Index{
		root:     i.root,
		skills:   map[string]*Skill{},
		Warnings: i.Warnings,
		revision: i.revision + ":" + strings.Join(patterns, ","),
	}
	for _, id := range i.ids {
		for _, g := range globs {
			if g.Match(id) {
				out.skills[id] = i.skills[id]
				out.ids = append(out.ids, id)
				break
			}
		}
	}
	return out, nil
}
