package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the handle every migration step and repository is written against:
// a connection pool plus the dialect it speaks.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore wraps an open pool.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect of the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the store is reachable.
func (s *Store) Ping() error { return s.db.Ping() }

// Exec runs a statement outside of any transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.prepare(query), args...)
}

// Query runs a query outside of any transaction.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.prepare(query), args...)
}

// QueryRow runs a single-row query outside of any transaction.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.prepare(query), args...)
}

// TableExists reports whether a table or view exists.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	return s.dialect.TableExists(ctx, s.db, table)
}

// InTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) prepare(query string) string {
	return s.dialect.Rebind(Render(s.dialect, query))
}

// Tx is one unit of work on the store. Queries go through the same token
// rendering and placeholder rebinding as Store.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// Dialect returns the dialect of the store.
func (t *Tx) Dialect() Dialect { return t.dialect }

// Exec runs a statement in the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.prepare(query), args...)
}

// Query runs a query in the transaction. Callers must close the rows before
// issuing the next statement.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.prepare(query), args...)
}

// QueryRow runs a single-row query in the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.prepare(query), args...)
}

// TableExists reports whether a table or view exists.
func (t *Tx) TableExists(ctx context.Context, table string) (bool, error) {
	return t.dialect.TableExists(ctx, t.tx, table)
}

// ColumnExists reports whether table has column.
func (t *Tx) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	return t.dialect.ColumnExists(ctx, t.tx, table, column)
}

func (t *Tx) prepare(query string) string {
	return t.dialect.Rebind(Render(t.dialect, query))
}
