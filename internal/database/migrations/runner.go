package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmylchreest/ledger-api/internal/database"
)

const tracerName = "github.com/jmylchreest/ledger-api/internal/database/migrations"

// Runner applies the pending steps of every registered logical database.
// A single process is expected to hold the store while it runs.
type Runner struct {
	store      *database.Store
	registries []*Registry
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records step outcomes and schema versions.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner over the given registries. Databases are
// migrated in the order given.
func NewRunner(store *database.Store, registries []*Registry, opts ...Option) (*Runner, error) {
	seen := make(map[string]bool, len(registries))
	for _, reg := range registries {
		if seen[reg.DB()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDatabase, reg.DB())
		}
		seen[reg.DB()] = true
	}

	r := &Runner{
		store:      store,
		registries: registries,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "migrations")
	return r, nil
}

// Run migrates every database. It stops at the first failing step and
// returns it as a *StepError; the version of that database stays at the last
// step that fully completed, and the failed step is retried from the top on
// the next Run.
func (r *Runner) Run(ctx context.Context) error {
	for _, reg := range r.registries {
		if err := r.runDatabase(ctx, reg); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runDatabase(ctx context.Context, reg *Registry) error {
	db := reg.DB()

	version, err := ReadVersion(ctx, r.store, db)
	if err != nil {
		return fmt.Errorf("failed to read version of %s: %w", db, err)
	}

	steps := reg.Steps()
	if version > len(steps) {
		return fmt.Errorf("%w: %s is at %d, latest known is %d", ErrVersionAhead, db, version, len(steps))
	}

	if version == len(steps) {
		r.logger.Debug("database up to date", "db", db, "version", version)
		r.metrics.observeVersion(db, version)
		return nil
	}

	r.logger.Info("applying migrations", "db", db, "from_version", version, "to_version", len(steps))

	for pos := version; pos < len(steps); pos++ {
		if err := r.applyStep(ctx, db, pos, steps[pos]); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) applyStep(ctx context.Context, db string, pos int, step Step) error {
	ctx, span := r.tracer.Start(ctx, "migrations.step", trace.WithAttributes(
		attribute.String("migration.db", db),
		attribute.Int("migration.index", step.Index()),
		attribute.String("migration.name", step.Name),
		attribute.String("migration.kind", step.Kind.String()),
	))
	defer span.End()

	r.logger.Info("running migration", "db", db, "index", step.Index(), "name", step.Name, "description", step.Description)
	start := time.Now()

	err := r.store.InTx(ctx, func(tx *database.Tx) error {
		if err := step.run(ctx, tx); err != nil {
			if !errors.Is(err, ErrAlreadyApplied) {
				return err
			}
			r.logger.Info("migration already applied", "db", db, "name", step.Name)
		}
		return setVersion(ctx, tx, db, pos+1)
	})
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "migration failed")
		r.metrics.observeStep(db, "failed", elapsed)
		r.logger.Error("migration failed", "db", db, "index", step.Index(), "name", step.Name, "error", err)
		return &StepError{DB: db, Index: step.Index(), Name: step.Name, Err: err}
	}

	r.metrics.observeStep(db, "applied", elapsed)
	r.metrics.observeVersion(db, pos+1)
	r.logger.Info("migration completed", "db", db, "name", step.Name, "version", pos+1, "duration", elapsed)
	return nil
}

// DatabaseStatus describes how far one logical database has been migrated.
type DatabaseStatus struct {
	DB      string   `json:"db"`
	Version int      `json:"version"`
	Latest  int      `json:"latest"`
	Pending []string `json:"pending"`
}

// UpToDate reports whether nothing is left to apply.
func (s DatabaseStatus) UpToDate() bool { return s.Version >= s.Latest }

// Status reports the current and latest version of every database.
func (r *Runner) Status(ctx context.Context) ([]DatabaseStatus, error) {
	out := make([]DatabaseStatus, 0, len(r.registries))
	for _, reg := range r.registries {
		version, err := ReadVersion(ctx, r.store, reg.DB())
		if err != nil {
			return nil, fmt.Errorf("failed to read version of %s: %w", reg.DB(), err)
		}

		status := DatabaseStatus{
			DB:      reg.DB(),
			Version: version,
			Latest:  reg.Latest(),
			Pending: []string{},
		}
		steps := reg.Steps()
		for pos := version; pos < len(steps); pos++ {
			status.Pending = append(status.Pending, steps[pos].Name)
		}
		out = append(out, status)
	}
	return out, nil
}

// Pending returns the steps a Run would apply, per database.
func (r *Runner) Pending(ctx context.Context) (map[string][]Step, error) {
	out := make(map[string][]Step, len(r.registries))
	for _, reg := range r.registries {
		version, err := ReadVersion(ctx, r.store, reg.DB())
		if err != nil {
			return nil, fmt.Errorf("failed to read version of %s: %w", reg.DB(), err)
		}
		steps := reg.Steps()
		if version < len(steps) {
			out[reg.DB()] = steps[version:]
		}
	}
	return out, nil
}

// ReadVersion returns the stored version of db, 0 when the tracking table or
// its row does not exist yet.
func ReadVersion(ctx context.Context, store *database.Store, db string) (int, error) {
	exists, err := store.TableExists(ctx, TrackingTable)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = store.QueryRow(ctx, `SELECT version FROM dbversions WHERE db = ?`, db).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Versions returns every row of the tracking table.
func Versions(ctx context.Context, store *database.Store) (map[string]int, error) {
	out := make(map[string]int)

	exists, err := store.TableExists(ctx, TrackingTable)
	if err != nil || !exists {
		return out, err
	}

	rows, err := store.Query(ctx, `SELECT db, version FROM dbversions`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var db string
		var version int
		if err := rows.Scan(&db, &version); err != nil {
			return nil, err
		}
		out[db] = version
	}
	return out, rows.Err()
}

// setVersion stores version for db. The guard keeps the stored version from
// ever going backwards.
func setVersion(ctx context.Context, tx *database.Tx, db string, version int) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO dbversions (db, version) VALUES (?, ?)
		ON CONFLICT (db) DO UPDATE SET version = excluded.version
		WHERE dbversions.version < excluded.version
	`, db, version); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return nil
}
