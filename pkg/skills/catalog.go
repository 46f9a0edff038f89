package skills

import (
	"context"
	"sync"

	"github.com/jingkaihe/skillsmith/pkg/logger"
)

// Catalog holds the current index and replaces it wholesale on reload, so
// readers never observe a partially built index.
type Catalog struct {
	root     string
	patterns []string

	mu    sync.RWMutex
	index *Index
}

// NewCatalog loads root and keeps the skills matching patterns.
func NewCatalog(ctx context.Context, root string, patterns ...string) (*Catalog, error) {
	c := &Catalog{root: root, patterns: patterns}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Index returns the current index.
func (c *Catalog) Index() *Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// Root is the skills directory the catalog loads.
func (c *Catalog) Root() string { return c.root }

// Reload rebuilds the index from disk. On error the previous index is kept.
func (c *Catalog) Reload(ctx context.Context) error {
	idx, err := Load(c.root)
	if err != nil {
		return err
	}
	idx, err = idx.Filter(c.patterns)
	if err != nil {
		return err
	}

	log := logger.G(ctx).WithField("skills_dir", c.root)
	for _, w := range idx.Warnings {
		log.WithError(w.Err).WithField("path", w.Path).Warn("skipped skill")
	}
	log.WithField("skills", idx.Len()).WithField("revision", idx.Revision()).Debug("skill index loaded")

	c.mu.Lock()
	c.index = idx
	c.mu.Unlock()
	return nil
}
