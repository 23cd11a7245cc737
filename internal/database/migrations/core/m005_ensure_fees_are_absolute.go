package core

import (
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

// Fees are magnitudes; debits subtract them whatever sign a backend used.
const balancesV2 = `
	SELECT wallet, COALESCE(SUM(s), 0) AS balance FROM (
		SELECT wallet, SUM(amount) AS s  -- incoming
		FROM apipayments
		WHERE amount > 0 AND pending = false  -- skip pending
		GROUP BY wallet
		UNION ALL
		SELECT wallet, SUM(amount - ABS(fee)) AS s  -- outgoing, sum fees
		FROM apipayments
		WHERE amount < 0  -- do sum pending
		GROUP BY wallet
	) x
	GROUP BY wallet
`

func init() {
	// Drop and recreate run in the step's single transaction, so the view
	// is never missing once the step commits.
	Registry.MustRegister(migrations.Step{
		Name:        "m005_ensure_fees_are_absolute",
		Description: "Store fees as magnitudes and recreate balances with abs(fee)",
		Kind:        migrations.KindSchema,
		Up: []string{
			`UPDATE apipayments SET fee = ABS(fee) WHERE fee < 0`,
			`DROP VIEW IF EXISTS balances`,
			`CREATE VIEW balances AS ` + balancesV2,
		},
	})
}
