package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/skills"
	"github.com/jingkaihe/skillsmith/pkg/telemetry"
)

// Cache stores routing decisions by key. Implementations expire entries on
// their own schedule.
type Cache interface {
	Get(ctx context.Context, key string) (Decision, bool, error)
	Put(ctx context.Context, key string, d Decision) error
}

// NormalizeQuery lowercases a query, collapses whitespace and drops trailing
// punctuation.
func NormalizeQuery(q string) string {
	q = strings.Join(strings.Fields(strings.ToLower(q)), " ")
	return strings.TrimRightFunc(q, unicode.IsPunct)
}

// CacheKey identifies a query against a specific index revision.
func CacheKey(query, revision string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query) + "\x00" + revision))
	return hex.EncodeToString(sum[:16])
}

// Selection is a decision together with the selected skills.
type Selection struct {
	Decision
	Selected   []*skills.Skill `json:"-"`
	Candidates int             `json:"candidates"`
	Cached     bool            `json:"cached"`
}

// Service routes queries against a catalog.
type Service struct {
	catalog   *skills.Catalog
	prefilter *Prefilter
	router    *Router
	cache     Cache
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables the decision cache.
func WithCache(c Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// NewService combines a catalog, prefilter and router.
func NewService(catalog *skills.Catalog, prefilter *Prefilter, router *Router, opts ...ServiceOption) *Service {
	s := &Service{catalog: catalog, prefilter: prefilter, router: router}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog is the catalog the service routes against.
func (s *Service) Catalog() *skills.Catalog { return s.catalog }

// Select routes query and resolves the chosen skills. Cache failures are
// logged and otherwise ignored.
func (s *Service) Select(ctx context.Context, query string) (Selection, error) {
	if strings.TrimSpace(query) == "" {
		return Selection{}, errors.New("query is empty")
	}

	var sel Selection
	err := telemetry.WithSpan(ctx, "router.select", func(ctx context.Context) error {
		idx := s.catalog.Index()
		log := logger.G(ctx).WithField("revision", idx.Revision())
		key := CacheKey(query, idx.Revision())

		if s.cache != nil {
			d, ok, err := s.cache.Get(ctx, key)
			if err != nil {
				log.WithError(err).Warn("route cache lookup failed")
			} else if ok {
				sel = resolve(idx, d)
				sel.Cached = true
				if len(sel.Selected) > 0 {
					return nil
				}
			}
		}

		candidates := s.prefilter.Score(query, idx)
		telemetry.SetAttributes(ctx, attribute.Int("router.candidates", len(candidates)))
		d, err := s.router.Route(ctx, query, candidates)
		if err != nil {
			return err
		}

		sel = resolve(idx, d)
		sel.Candidates = len(candidates)
		telemetry.SetAttributes(ctx,
			attribute.StringSlice("router.skills", d.Skills),
			attribute.Bool("router.fallback", d.Fallback),
		)

		if s.cache != nil && !d.Fallback {
			if err := s.cache.Put(ctx, key, d); err != nil {
				log.WithError(err).Warn("route cache store failed")
			}
		}
		log.WithField("skills", d.Skills).WithField("confidence", d.Confidence).Debug("query routed")
		return nil
	}, attribute.Int("query.length", len(query)))

	return sel, err
}

func resolve(idx *skills.Index, d Decision) Selection {
	sel := Selection{Decision: d}
	for _, id := range d.Skills {
		if s, ok := idx.Get(id); ok {
			sel.Selected = append(sel.Selected, s)
		}
	}
	return sel
}

// MemoryCache is an unbounded in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Decision
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]Decision{}}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (Decision, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key]
	return d, ok, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, key string, d Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = d
	return nil
}
