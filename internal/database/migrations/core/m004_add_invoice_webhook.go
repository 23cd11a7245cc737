package core

import (
	"context"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

func init() {
	Registry.MustRegister(migrations.Step{
		Name:        "m004_add_invoice_webhook",
		Description: "Per-invoice webhook target and delivery status",
		Kind:        migrations.KindSchema,
		Apply: func(ctx context.Context, tx *database.Tx) error {
			if err := addColumn(ctx, tx, "apipayments", "webhook", "TEXT"); err != nil {
				return err
			}
			return addColumn(ctx, tx, "apipayments", "webhook_status", "TEXT")
		},
	})
}
