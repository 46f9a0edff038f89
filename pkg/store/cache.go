package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/router"
)

var _ router.Cache = (*RouteCache)(nil)

// RouteCache is a router.Cache backed by the route_cache table. A zero TTL
// keeps entries forever.
type RouteCache struct {
	store *Store
	ttl   time.Duration
}

// RouteCache returns a decision cache sharing this store's database.
func (s *Store) RouteCache(ttl time.Duration) *RouteCache {
	return &RouteCache{store: s, ttl: ttl}
}

// Get returns the cached decision for key unless it has expired.
func (c *RouteCache) Get(ctx context.Context, key string) (router.Decision, bool, error) {
	var field jsonField[router.Decision]
	err := c.store.db.GetContext(ctx, &field, `
		SELECT decision FROM route_cache
		WHERE cache_key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, c.store.clock().UnixNano())
	if errors.Is(err, sql.ErrNoRows) {
		return router.Decision{}, false, nil
	}
	if err != nil {
		return router.Decision{}, false, errors.Wrap(err, "failed to read route cache")
	}
	return field.Data, true, nil
}

// Put stores d under key, replacing any previous entry.
func (c *RouteCache) Put(ctx context.Context, key string, d router.Decision) error {
	now := c.store.clock()
	var expires int64
	if c.ttl > 0 {
		expires = now.Add(c.ttl).UnixNano()
	}

	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO route_cache (cache_key, decision, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			decision = excluded.decision,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, jsonField[router.Decision]{Data: d}, now, expires)
	return errors.Wrap(err, "failed to write route cache")
}

// Purge deletes expired entries and reports how many were removed.
func (c *RouteCache) Purge(ctx context.Context) (int64, error) {
	out, err := c.store.db.ExecContext(ctx,
		"DELETE FROM route_cache WHERE expires_at != 0 AND expires_at <= ?",
		c.store.clock().UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge route cache")
	}
	return out.RowsAffected()
}
