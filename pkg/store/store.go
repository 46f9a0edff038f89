// Package store keeps ingestion run history and cached routing decisions in
// SQLite.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/db"
	"github.com/jingkaihe/skillsmith/pkg/db/migrations"
)

// Store wraps the migrated skillsmith database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the database at dbPath, creating and migrating it as needed.
// An empty dbPath uses db.DefaultDBPath.
func Open(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	sqlDB, err := db.OpenMigrated(ctx, dbPath, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}

	s := &Store{db: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// jsonField stores a value as a JSON text column.
type jsonField[T any] struct {
	Data T
}

func (j *jsonField[T]) Scan(value any) error {
	if value == nil {
		return nil
	}

	raw, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.Errorf("cannot scan %T into jsonField", value)
		}
		raw = []byte(str)
	}

	return json.Unmarshal(raw, &j.Data)
}

func (j jsonField[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
