package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillsmith/pkg/db"
	"github.com/pkg/errors"
)

func Migration20261001090001CreateRouteCache() db.Migration {
	return db.Migration{
		Version:     20261001090001,
		Description: "Create route_cache table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS route_cache (
					cache_key TEXT PRIMARY KEY,
					decision TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					expires_at INTEGER NOT NULL DEFAULT 0
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create route_cache table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_route_cache_expires_at
				ON route_cache(expires_at)
			`); err != nil {
				return errors.Wrap(err, "failed to create expires_at index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS route_cache")
			return errors.Wrap(err, "failed to drop route_cache table")
		},
	}
}
