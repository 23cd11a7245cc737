package core

import (
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

func init() {
	Registry.MustRegister(migrations.Step{
		Name:        "m006_balance_check_balance_notify",
		Description: "Track balanceCheck services and balanceNotify URLs per wallet",
		Kind:        migrations.KindSchema,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS balance_check (
				wallet TEXT NOT NULL REFERENCES wallets (id),
				service TEXT NOT NULL,
				url TEXT NOT NULL,

				UNIQUE (wallet, service)
			)`,
			`CREATE TABLE IF NOT EXISTS balance_notify (
				wallet TEXT NOT NULL REFERENCES wallets (id),
				url TEXT NOT NULL,

				UNIQUE (wallet, url)
			)`,
		},
	})
}
