// Package database opens the ledger store and exposes the dialect-aware store
// handle that migrations and repositories run against.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverLibSQL   = "libsql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Options describes how to reach the store.
type Options struct {
	Driver string
	DSN    string

	// Embedded replica settings, libsql only.
	TursoURL       string
	TursoAuthToken string
}

// Open connects to the store described by opts.
// Supports:
//   - libsql local files: DSN="file:path/to/ledger.db"
//   - libsql embedded replica: TursoURL + TursoAuthToken for sync with Turso cloud
//   - modernc sqlite (pure Go): Driver="sqlite", DSN="ledger.db" or ":memory:"
//   - Postgres through pgx: Driver="pgx", DSN="postgres://..."
func Open(opts Options) (*Store, error) {
	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch {
	case opts.Driver == DriverLibSQL && opts.TursoURL != "" && opts.TursoAuthToken != "":
		// Embedded replica mode: local file synced with remote Turso
		dbPath := strings.TrimPrefix(opts.DSN, "file:")
		dbPath = strings.Split(dbPath, "?")[0]

		connector, err := libsql.NewEmbeddedReplicaConnector(dbPath, opts.TursoURL,
			libsql.WithAuthToken(opts.TursoAuthToken),
			libsql.WithReadYourWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Turso connector: %w", err)
		}
		db = sql.OpenDB(connector)
	default:
		db, err = sql.Open(opts.Driver, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	// Every connection of an in-memory sqlite database is a different database.
	if isMemoryDSN(opts.DSN) {
		db.SetMaxOpenConns(1)
	}

	if dialect.Name() == DialectSQLite {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStore(db, dialect), nil
}

// InferDriver picks a driver from the shape of a database URL.
func InferDriver(url string) string {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	default:
		return DriverLibSQL
	}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, "file::memory:")
}
