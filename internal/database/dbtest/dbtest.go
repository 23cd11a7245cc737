// Package dbtest opens throwaway stores for tests.
package dbtest

import (
	"testing"

	"github.com/jmylchreest/ledger-api/internal/database"
)

// New opens an in-memory sqlite store (modernc driver) that is closed when
// the test completes.
func New(t testing.TB) *database.Store {
	t.Helper()

	store, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		DSN:    ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
