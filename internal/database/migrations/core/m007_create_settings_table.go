package core

import (
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

func init() {
	// Opaque to this module: rows are owned by the host application.
	Registry.MustRegister(migrations.Step{
		Name:        "m007_create_settings_table",
		Description: "Key/value settings table",
		Kind:        migrations.KindSchema,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT
			)`,
		},
	})
}
