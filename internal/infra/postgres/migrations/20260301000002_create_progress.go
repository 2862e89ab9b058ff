package migrations

import _ "embed"

//go:embed sql/20260301000002_create_progress.up.sql
var createProgressUp string

//go:embed sql/20260301000002_create_progress.down.sql
var createProgressDown string

func init() {
	Migrations.MustRegister(execSQL(createProgressUp), execSQL(createProgressDown))
}
