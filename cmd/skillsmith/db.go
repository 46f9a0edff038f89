package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillsmith/pkg/db"
	"github.com/jingkaihe/skillsmith/pkg/db/migrations"
	"github.com/jingkaihe/skillsmith/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the run registry database (migrations, route cache).`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	Long:  `Shows the current database migration status, including applied and pending migrations.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDBStatus(cmd.Context(), cmd.OutOrStdout())
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback the last database migration",
	Long:  `Rolls back the most recently applied database migration. Useful for downgrading skillsmith.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDBRollback(cmd.Context())
	},
}

var dbPurgeCacheCmd = &cobra.Command{
	Use:   "purge-cache",
	Short: "Delete expired routing decisions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore(st)

		n, err := st.RouteCache(cfg.Router.CacheTTL).Purge(cmd.Context())
		if err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("purged %d expired routing decisions", n))
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	dbCmd.AddCommand(dbPurgeCacheCmd)
}

// databasePath is the configured registry path or the default one.
func databasePath() (string, error) {
	if cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	return db.DefaultDBPath()
}

// openUnmigrated opens the database without applying pending migrations.
func openUnmigrated(ctx context.Context) (*sqlx.DB, string, error) {
	path, err := databasePath()
	if err != nil {
		return nil, "", err
	}
	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return conn, path, nil
}

func runDBStatus(ctx context.Context, w io.Writer) error {
	conn, path, err := openUnmigrated(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err := db.NewMigrationRunner(conn).GetAppliedVersions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get migration status")
	}
	appliedMap := make(map[int64]bool, len(applied))
	for _, v := range applied {
		appliedMap[v] = true
	}

	all := migrations.All()
	fmt.Fprintln(w, "Database Migration Status")
	fmt.Fprintln(w, "=========================")
	fmt.Fprintf(w, "Database: %s\n\n", path)

	appliedCount := 0
	for _, m := range all {
		status := "[ ]"
		if appliedMap[m.Version] {
			status = "[x]"
			appliedCount++
		}
		fmt.Fprintf(w, "%s %d - %s\n", status, m.Version, m.Description)
	}
	fmt.Fprintf(w, "\nApplied: %d/%d migrations\n", appliedCount, len(all))
	return nil
}

func runDBRollback(ctx context.Context) error {
	conn, _, err := openUnmigrated(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	runner := db.NewMigrationRunner(conn)
	applied, err := runner.GetAppliedVersions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get migration status")
	}
	if len(applied) == 0 {
		presenter.Warning("No migrations to rollback")
		return nil
	}

	last := applied[len(applied)-1]
	var description string
	for _, m := range migrations.All() {
		if m.Version == last {
			description = m.Description
			break
		}
	}

	presenter.Info(fmt.Sprintf("Rolling back migration %d: %s", last, description))
	if err := runner.Rollback(ctx, migrations.All()); err != nil {
		return errors.Wrap(err, "failed to rollback migration")
	}
	presenter.Success(fmt.Sprintf("Successfully rolled back migration %d", last))
	return nil
}
