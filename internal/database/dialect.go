package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Tokens that schema text may use in place of dialect-specific SQL.
const (
	TokenBigInt       = "{{big_int}}"
	TokenTimestampNow = "{{timestamp_now}}"
)

// Dialect names.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Dialect is the small set of capabilities that differ between the stores we
// support. Step bodies and repositories never spell these out themselves.
type Dialect interface {
	Name() string

	// BigInt is the column type used for signed 64-bit amounts.
	BigInt() string

	// TimestampNow is the expression for "the current timestamp" in a
	// column default.
	TimestampNow() string

	// Rebind rewrites '?' placeholders into the dialect's own style.
	Rebind(query string) string

	// TableExists reports whether a table or view with the given name exists.
	TableExists(ctx context.Context, q Querier, table string) (bool, error)

	// ColumnExists reports whether table has the given column.
	ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error)
}

// DialectFor returns the dialect spoken by a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case DriverLibSQL, DriverSQLite, "sqlite3":
		return SQLite{}, nil
	case DriverPostgres, "postgres", "postgresql":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Render substitutes the dialect tokens in query.
func Render(d Dialect, query string) string {
	return strings.NewReplacer(
		TokenBigInt, d.BigInt(),
		TokenTimestampNow, d.TimestampNow(),
	).Replace(query)
}

// SQLite covers both the libsql and the modernc drivers.
type SQLite struct{}

func (SQLite) Name() string               { return DialectSQLite }
func (SQLite) BigInt() string             { return "INTEGER" }
func (SQLite) TimestampNow() string       { return "CURRENT_TIMESTAMP" }
func (SQLite) Rebind(query string) string { return query }

func (SQLite) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`,
		table,
	).Scan(&n)
	return n > 0, err
}

func (SQLite) ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&n)
	return n > 0, err
}

// Postgres is spoken through the pgx stdlib driver.
type Postgres struct{}

func (Postgres) Name() string         { return DialectPostgres }
func (Postgres) BigInt() string       { return "BIGINT" }
func (Postgres) TimestampNow() string { return "now()" }

// Rebind turns each '?' outside of quoted literals into $1, $2, ...
func (Postgres) Rebind(query string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (Postgres) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	`, table).Scan(&n)
	return n > 0, err
}

func (Postgres) ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	`, table, column).Scan(&n)
	return n > 0, err
}
