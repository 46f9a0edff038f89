package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillsmith/pkg/db"
	"github.com/pkg/errors"
)

func Migration20261008140000AddSkillToIngestionRuns() db.Migration {
	return db.Migration{
		Version:     20261008140000,
		Description: "Add skill_id and backend to ingestion_runs",
		Up: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				"ALTER TABLE ingestion_runs ADD COLUMN skill_id TEXT NOT NULL DEFAULT ''",
				"ALTER TABLE ingestion_runs ADD COLUMN backend TEXT NOT NULL DEFAULT ''",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to execute: %s", stmt)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				"ALTER TABLE ingestion_runs DROP COLUMN backend",
				"ALTER TABLE ingestion_runs DROP COLUMN skill_id",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to execute: %s", stmt)
				}
			}
			return nil
		},
	}
}
