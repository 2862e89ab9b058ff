package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations holds every schema change. Each file registers itself from init and
// takes its name from the file name, so keep the timestamp prefix.
var Migrations = migrate.NewMigrations()

func execSQL(script string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, script)
		return err
	}
}
