package migrations

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillsmith/pkg/db"
)

func TestAll_Ordered(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	assert.True(t, sort.SliceIsSorted(all, func(i, j int) bool {
		return all[i].Version < all[j].Version
	}))
	for _, m := range all {
		assert.NotEmpty(t, m.Description)
		assert.NotNil(t, m.Up)
		assert.NotNil(t, m.Down)
	}
}

func TestAll_ApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenMigrated(ctx, filepath.Join(t.TempDir(), "schema.db"), All())
	require.NoError(t, err)
	defer sqlDB.Close()

	var tables []string
	require.NoError(t, sqlDB.Select(&tables, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name IN ('ingestion_runs', 'route_cache')
		ORDER BY name
	`))
	assert.Equal(t, []string{"ingestion_runs", "route_cache"}, tables)

	var cols []string
	require.NoError(t, sqlDB.Select(&cols, "SELECT name FROM pragma_table_info('ingestion_runs')"))
	assert.Contains(t, cols, "skill_id")
	assert.Contains(t, cols, "backend")

	runner := db.NewMigrationRunner(sqlDB)
	for range All() {
		require.NoError(t, runner.Rollback(ctx, All()))
	}
	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
