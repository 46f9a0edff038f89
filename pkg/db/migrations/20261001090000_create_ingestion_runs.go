package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillsmith/pkg/db"
	"github.com/pkg/errors"
)

func Migration20261001090000CreateIngestionRuns() db.Migration {
	return db.Migration{
		Version:     20261001090000,
		Description: "Create ingestion_runs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS ingestion_runs (
					run_id TEXT PRIMARY KEY,
					address TEXT NOT NULL,
					source TEXT NOT NULL,
					mode TEXT NOT NULL,
					status TEXT NOT NULL,
					total_chunks INTEGER NOT NULL DEFAULT 0,
					selected_chunks INTEGER NOT NULL DEFAULT 0,
					completed_chunks INTEGER NOT NULL DEFAULT 0,
					failed_chunks INTEGER NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					finished_at DATETIME
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create ingestion_runs table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_ingestion_runs_address
				ON ingestion_runs(address, started_at DESC)
			`); err != nil {
				return errors.Wrap(err, "failed to create address index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS ingestion_runs")
			return errors.Wrap(err, "failed to drop ingestion_runs table")
		},
	}
}
