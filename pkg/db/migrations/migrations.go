// Package migrations holds the skillsmith schema, one timestamped step per file.
package migrations

import (
	"github.com/jingkaihe/skillsmith/pkg/db"
)

// All returns every registered migration. Append new ones here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261001090000CreateIngestionRuns(),
		Migration20261001090001CreateRouteCache(),
		Migration20261008140000AddSkillToIngestionRuns(),
	}
}
