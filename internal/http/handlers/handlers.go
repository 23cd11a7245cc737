// Package handlers implements the read-only ledger API operations.
package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/ledger-api/internal/database/migrations"
	"github.com/jmylchreest/ledger-api/internal/ledger"
	"github.com/jmylchreest/ledger-api/internal/version"
)

// LedgerReader is the read side of the ledger repository.
type LedgerReader interface {
	Balance(ctx context.Context, wallet string) (int64, error)
	ListPayments(ctx context.Context, wallet string, filter ledger.ListFilter) ([]*ledger.Payment, error)
}

// MigrationStatus reports how far each logical database has been migrated.
type MigrationStatus interface {
	Status(ctx context.Context) ([]migrations.DatabaseStatus, error)
}

// DBPinger checks the store is reachable.
type DBPinger interface {
	Ping() error
}

// Handlers holds the dependencies of every operation.
type Handlers struct {
	Ledger     LedgerReader
	Migrations MigrationStatus
	DB         DBPinger
	Logger     *slog.Logger
}

// New creates the handlers.
func New(l LedgerReader, m MigrationStatus, db DBPinger, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{Ledger: l, Migrations: m, DB: db, Logger: logger.With("component", "handlers")}
}

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status" doc:"ok when the store is reachable and fully migrated"`
		Version string `json:"version"`
	}
}

// HealthCheck reports ready once the store answers and no migration is
// pending.
func (h *Handlers) HealthCheck(ctx context.Context, _ *struct{}) (*HealthCheckOutput, error) {
	if err := h.DB.Ping(); err != nil {
		h.Logger.WarnContext(ctx, "health check: database unreachable", "error", err)
		return nil, huma.Error503ServiceUnavailable("database unreachable")
	}

	statuses, err := h.Migrations.Status(ctx)
	if err != nil {
		h.Logger.WarnContext(ctx, "health check: failed to read migration status", "error", err)
		return nil, huma.Error503ServiceUnavailable("migration status unavailable")
	}
	for _, s := range statuses {
		if !s.UpToDate() {
			return nil, huma.Error503ServiceUnavailable("database " + s.DB + " has pending migrations")
		}
	}

	out := &HealthCheckOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// MigrationsOutput lists the migration state of every logical database.
type MigrationsOutput struct {
	Body struct {
		Databases []migrations.DatabaseStatus `json:"databases"`
	}
}

// ListMigrations returns the stored and latest version of each database.
func (h *Handlers) ListMigrations(ctx context.Context, _ *struct{}) (*MigrationsOutput, error) {
	statuses, err := h.Migrations.Status(ctx)
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to read migration status", "error", err)
		return nil, huma.Error500InternalServerError("failed to read migration status")
	}

	out := &MigrationsOutput{}
	out.Body.Databases = statuses
	return out, nil
}
