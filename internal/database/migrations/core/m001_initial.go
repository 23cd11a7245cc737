package core

import (
	"context"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

// Debits add their (then negative) fee; pending credits are left out.
const balancesV1 = `
	SELECT wallet, COALESCE(SUM(s), 0) AS balance FROM (
		SELECT wallet, SUM(amount) AS s  -- incoming
		FROM apipayments
		WHERE amount > 0 AND pending = false  -- skip pending
		GROUP BY wallet
		UNION ALL
		SELECT wallet, SUM(amount + fee) AS s  -- outgoing, sum fees
		FROM apipayments
		WHERE amount < 0  -- do sum pending
		GROUP BY wallet
	) x
	GROUP BY wallet
`

func init() {
	Registry.MustRegister(migrations.Step{
		Name:        "m001_initial",
		Description: "Initial accounts, wallets and payments tables",
		Kind:        migrations.KindSchema,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				email TEXT,
				pass TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS extensions (
				"user" TEXT NOT NULL,
				extension TEXT NOT NULL,
				active BOOLEAN DEFAULT false,

				UNIQUE ("user", extension)
			)`,
			`CREATE TABLE IF NOT EXISTS wallets (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				"user" TEXT NOT NULL,
				adminkey TEXT NOT NULL,
				inkey TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS apipayments (
				payhash TEXT NOT NULL,
				amount {{big_int}} NOT NULL,
				fee INTEGER NOT NULL DEFAULT 0,
				wallet TEXT NOT NULL,
				pending BOOLEAN NOT NULL,
				memo TEXT,
				time TIMESTAMP NOT NULL DEFAULT {{timestamp_now}},
				UNIQUE (wallet, payhash)
			)`,
		},
		Apply: func(ctx context.Context, tx *database.Tx) error {
			return createView(ctx, tx, "balances", balancesV1)
		},
	})
}
