// Package core holds the migration steps of the "core" logical database: the
// payment ledger and the derived balances view.
//
// Step files are named after the step and register themselves from init, so
// lexical file order is registration order.
package core

import (
	"context"
	"fmt"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

// DB is the logical database name used in the tracking table.
const DB = "core"

// Registry is the step list of the core database.
var Registry = migrations.NewRegistry(DB)

// NewRunner returns a runner for the core database followed by any extra
// registries (extensions).
func NewRunner(store *database.Store, extra []*migrations.Registry, opts ...migrations.Option) (*migrations.Runner, error) {
	regs := append([]*migrations.Registry{Registry}, extra...)
	return migrations.NewRunner(store, regs, opts...)
}

// addColumn adds a column unless it is already there, which is the case on
// stores that ran an earlier partial version of a step.
func addColumn(ctx context.Context, tx *database.Tx, table, column, definition string) error {
	exists, err := tx.ColumnExists(ctx, table, column)
	if err != nil {
		return fmt.Errorf("probe %s.%s: %w", table, column, err)
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

// createView creates a view unless one with that name exists.
func createView(ctx context.Context, tx *database.Tx, name, definition string) error {
	exists, err := tx.TableExists(ctx, name)
	if err != nil {
		return fmt.Errorf("probe view %s: %w", name, err)
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, fmt.Sprintf("CREATE VIEW %s AS %s", name, definition))
	return err
}
