package migrations

import _ "embed"

//go:embed sql/20260301000001_create_catalog.up.sql
var createCatalogUp string

//go:embed sql/20260301000001_create_catalog.down.sql
var createCatalogDown string

func init() {
	Migrations.MustRegister(execSQL(createCatalogUp), execSQL(createCatalogDown))
}
