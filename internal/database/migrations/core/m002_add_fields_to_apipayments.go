package core

import (
	"context"
	"fmt"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

func init() {
	Registry.MustRegister(migrations.Step{
		Name:        "m002_add_fields_to_apipayments",
		Description: "Rename payhash to checking_id and add hash, preimage, bolt11 and extra",
		Kind:        migrations.KindSchema,
		Apply: func(ctx context.Context, tx *database.Tx) error {
			if err := renamePayhash(ctx, tx); err != nil {
				return err
			}
			if err := addColumn(ctx, tx, "apipayments", "hash", "TEXT"); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `CREATE INDEX IF NOT EXISTS by_hash ON apipayments (hash)`); err != nil {
				return err
			}
			for _, column := range []string{"preimage", "bolt11", "extra"} {
				if err := addColumn(ctx, tx, "apipayments", column, "TEXT"); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// renamePayhash is a no-op on stores where the rename already happened.
func renamePayhash(ctx context.Context, tx *database.Tx) error {
	renamed, err := tx.ColumnExists(ctx, "apipayments", "checking_id")
	if err != nil {
		return fmt.Errorf("probe apipayments.checking_id: %w", err)
	}
	if renamed {
		return nil
	}
	_, err = tx.Exec(ctx, `ALTER TABLE apipayments RENAME COLUMN payhash TO checking_id`)
	return err
}
