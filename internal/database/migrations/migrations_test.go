package migrations

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/dbtest"
)

var errBoom = errors.New("boom")

// recorder counts step invocations and lets a test make chosen steps fail.
type recorder struct {
	calls   map[string]int
	failing map[string]bool
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]int{}, failing: map[string]bool{}}
}

// step creates a table named after the step so its effect is observable.
func (r *recorder) step(name string) Step {
	return Step{
		Name:        name,
		Description: "test step " + name,
		Apply: func(ctx context.Context, tx *database.Tx) error {
			r.calls[name]++
			if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE t_%s (id INTEGER)", name)); err != nil {
				return err
			}
			if r.failing[name] {
				return errBoom
			}
			return nil
		},
	}
}

func (r *recorder) registry(t testing.TB, db string, n int) *Registry {
	t.Helper()
	reg := NewRegistry(db)
	for i := 1; i < n; i++ {
		require.NoError(t, reg.Register(r.step(fmt.Sprintf("m%03d_step", i))))
	}
	return reg
}

func newRunner(t testing.TB, store *database.Store, regs ...*Registry) *Runner {
	t.Helper()
	runner, err := NewRunner(store, regs)
	require.NoError(t, err)
	return runner
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		name  string
		index int
		ok    bool
	}{
		{"m000_create_migrations_table", 0, true},
		{"m002_add_fields_to_apipayments", 2, true},
		{"m1234_big", 1234, true},
		{"m01_short", 0, false},
		{"002_missing_prefix", 0, false},
		{"m003", 0, false},
		{"m003_Upper", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := ParseIndex(tt.name)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.index, idx)
			}
		})
	}
}

func TestRegistryStartsWithTrackingTable(t *testing.T) {
	reg := NewRegistry("core")

	steps := reg.Steps()
	require.Len(t, steps, 1)
	require.Equal(t, 0, steps[0].Index())
	require.Equal(t, "m000_create_migrations_table", steps[0].Name)
	require.Equal(t, 1, reg.Latest())
}

func TestRegistryRejectsBadOrdering(t *testing.T) {
	body := func(context.Context, *database.Tx) error { return nil }

	t.Run("duplicate index", func(t *testing.T) {
		reg := NewRegistry("core")
		require.NoError(t, reg.Register(Step{Name: "m001_first", Apply: body}))

		err := reg.Register(Step{Name: "m001_again", Apply: body})
		var oe *OrderingError
		require.ErrorAs(t, err, &oe)
		require.Equal(t, 1, oe.Index)
		require.Equal(t, 1, oe.LastIndex)
		require.Len(t, reg.Steps(), 2)
	})

	t.Run("decreasing index", func(t *testing.T) {
		reg := NewRegistry("core")
		require.NoError(t, reg.Register(Step{Name: "m005_later", Apply: body}))

		var oe *OrderingError
		require.ErrorAs(t, reg.Register(Step{Name: "m003_earlier", Apply: body}), &oe)
	})

	t.Run("step zero is taken", func(t *testing.T) {
		reg := NewRegistry("core")

		var oe *OrderingError
		require.ErrorAs(t, reg.Register(Step{Name: "m000_other", Apply: body}), &oe)
	})

	t.Run("name without index", func(t *testing.T) {
		reg := NewRegistry("core")

		var oe *OrderingError
		require.ErrorAs(t, reg.Register(Step{Name: "add_things", Apply: body}), &oe)
	})

	t.Run("empty body", func(t *testing.T) {
		reg := NewRegistry("core")

		var oe *OrderingError
		require.ErrorAs(t, reg.Register(Step{Name: "m001_nothing"}), &oe)
	})

	t.Run("gaps are allowed", func(t *testing.T) {
		reg := NewRegistry("core")
		require.NoError(t, reg.Register(Step{Name: "m002_two", Apply: body}))
		require.NoError(t, reg.Register(Step{Name: "m010_ten", Apply: body}))
		require.Equal(t, 3, reg.Latest())
	})

	t.Run("must register panics", func(t *testing.T) {
		reg := NewRegistry("core")
		require.Panics(t, func() {
			reg.MustRegister(Step{Name: "m000_dup", Apply: body})
		})
	})
}

func TestNewRunnerRejectsDuplicateDatabase(t *testing.T) {
	store := dbtest.New(t)

	_, err := NewRunner(store, []*Registry{NewRegistry("core"), NewRegistry("core")})
	require.ErrorIs(t, err, ErrDuplicateDatabase)
}

func TestRunFreshStore(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	rec := newRecorder()
	reg := rec.registry(t, "core", 4)

	require.NoError(t, newRunner(t, store, reg).Run(ctx))

	version, err := ReadVersion(ctx, store, "core")
	require.NoError(t, err)
	require.Equal(t, 4, version)

	for _, name := range []string{"m001_step", "m002_step", "m003_step"} {
		require.Equal(t, 1, rec.calls[name], name)
		exists, err := store.TableExists(ctx, "t_"+name)
		require.NoError(t, err)
		require.True(t, exists, name)
	}
}

func TestReadVersionWithoutTrackingTable(t *testing.T) {
	store := dbtest.New(t)

	version, err := ReadVersion(context.Background(), store, "core")
	require.NoError(t, err)
	require.Zero(t, version)

	versions, err := Versions(context.Background(), store)
	require.NoError(t, err)
	require.Empty(t, versions)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	rec := newRecorder()
	runner := newRunner(t, store, rec.registry(t, "core", 5))

	require.NoError(t, runner.Run(ctx))
	first, err := Versions(ctx, store)
	require.NoError(t, err)

	require.NoError(t, runner.Run(ctx))
	second, err := Versions(ctx, store)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, map[string]int{"core": 5}, second)
	for name, n := range rec.calls {
		require.Equal(t, 1, n, name)
	}
}

func TestFailureHaltsForwardProgress(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	rec := newRecorder()
	rec.failing["m003_step"] = true
	runner := newRunner(t, store, rec.registry(t, "core", 7))

	err := runner.Run(ctx)
	var se *StepError
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, "core", se.DB)
	require.Equal(t, 3, se.Index)

	version, err := ReadVersion(ctx, store, "core")
	require.NoError(t, err)
	require.Equal(t, 3, version, "version stops after the last completed step")

	require.Equal(t, 1, rec.calls["m003_step"])
	for _, name := range []string{"m004_step", "m005_step", "m006_step"} {
		require.Zero(t, rec.calls[name], name)
	}

	// The failed step's own statements were rolled back with it.
	exists, err := store.TableExists(ctx, "t_m003_step")
	require.NoError(t, err)
	require.False(t, exists)

	// Next start: the failed step is retried from the top, earlier steps are
	// not touched again.
	rec.failing["m003_step"] = false
	require.NoError(t, runner.Run(ctx))

	version, err = ReadVersion(ctx, store, "core")
	require.NoError(t, err)
	require.Equal(t, 7, version)
	require.Equal(t, 1, rec.calls["m001_step"])
	require.Equal(t, 1, rec.calls["m002_step"])
	require.Equal(t, 2, rec.calls["m003_step"])
	for _, name := range []string{"m004_step", "m005_step", "m006_step"} {
		require.Equal(t, 1, rec.calls[name], name)
	}
}

func TestUpStatementFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	reg := NewRegistry("core")
	reg.MustRegister(Step{Name: "m001_bad_sql", Up: []string{"CREAT TABLE nope (id INTEGER)"}})

	err := newRunner(t, store, reg).Run(ctx)
	var se *StepError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "m001_bad_sql", se.Name)

	version, err := ReadVersion(ctx, store, "core")
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

func TestAlreadyAppliedCountsAsSuccess(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	reg := NewRegistry("core")
	reg.MustRegister(Step{
		Name: "m001_detects_itself",
		Apply: func(context.Context, *database.Tx) error {
			return fmt.Errorf("column exists: %w", ErrAlreadyApplied)
		},
	})

	require.NoError(t, newRunner(t, store, reg).Run(ctx))

	version, err := ReadVersion(ctx, store, "core")
	require.NoError(t, err)
	require.Equal(t, 2, version)
}

func TestVersionAheadOfBinary(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	rec := newRecorder()
	require.NoError(t, newRunner(t, store, rec.registry(t, "core", 4)).Run(ctx))

	older := newRecorder()
	err := newRunner(t, store, older.registry(t, "core", 2)).Run(ctx)
	require.ErrorIs(t, err, ErrVersionAhead)
	require.Empty(t, older.calls)
}

func TestMultipleDatabasesTrackedIndependently(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	rec := newRecorder()

	core := rec.registry(t, "core", 3)
	ext := NewRegistry("ext_withdraw")
	ext.MustRegister(rec.step("m001_ext"))
	ext.MustRegister(rec.step("m002_ext"))
	rec.failing["m002_ext"] = true

	err := newRunner(t, store, core, ext).Run(ctx)
	require.ErrorIs(t, err, errBoom)

	versions, err := Versions(ctx, store)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"core": 3, "ext_withdraw": 2}, versions)

	rec.failing["m002_ext"] = false
	require.NoError(t, newRunner(t, store, core, ext).Run(ctx))

	versions, err = Versions(ctx, store)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"core": 3, "ext_withdraw": 3}, versions)
	require.Equal(t, 1, rec.calls["m001_step"])
}

func TestStatusAndPending(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	rec := newRecorder()
	rec.failing["m002_step"] = true
	runner := newRunner(t, store, rec.registry(t, "core", 4))

	status, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	require.Equal(t, 0, status[0].Version)
	require.Equal(t, 4, status[0].Latest)
	require.Len(t, status[0].Pending, 4)

	require.Error(t, runner.Run(ctx))

	status, err = runner.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status[0].Version)
	require.Equal(t, []string{"m002_step", "m003_step"}, status[0].Pending)
	require.False(t, status[0].UpToDate())

	pending, err := runner.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending["core"], 2)
	require.Equal(t, 2, pending["core"][0].Index())
}

func TestMetricsRecordOutcome(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	rec := newRecorder()
	rec.failing["m002_step"] = true

	reg := prometheus.NewRegistry()
	metrics := NewMetrics("ledger", reg)
	runner, err := NewRunner(store, []*Registry{rec.registry(t, "core", 3)}, WithMetrics(metrics))
	require.NoError(t, err)

	require.Error(t, runner.Run(ctx))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.Steps.WithLabelValues("core", "applied")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Steps.WithLabelValues("core", "failed")))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.SchemaVersion.WithLabelValues("core")))
}

// Across any sequence of restarts with injected failures the stored version
// never decreases, never exceeds the registry, and every step completes
// exactly once.
func TestVersionsAreMonotonicAcrossRestarts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store, err := database.Open(database.Options{Driver: database.DriverSQLite, DSN: ":memory:"})
		if err != nil {
			rt.Fatalf("open store: %v", err)
		}
		defer func() { _ = store.Close() }()

		n := rapid.IntRange(1, 8).Draw(rt, "steps")
		rec := newRecorder()
		reg := NewRegistry("core")
		for i := 1; i < n; i++ {
			if err := reg.Register(rec.step(fmt.Sprintf("m%03d_step", i))); err != nil {
				rt.Fatalf("register: %v", err)
			}
		}
		runner, err := NewRunner(store, []*Registry{reg})
		if err != nil {
			rt.Fatalf("new runner: %v", err)
		}

		completed := map[string]int{}
		restarts := rapid.IntRange(1, 6).Draw(rt, "restarts")
		for i := 0; i < restarts; i++ {
			rec.failing = map[string]bool{}
			if n > 1 && rapid.Bool().Draw(rt, "inject") {
				idx := rapid.IntRange(1, n-1).Draw(rt, "failAt")
				rec.failing[fmt.Sprintf("m%03d_step", idx)] = true
			}

			before, err := ReadVersion(ctx, store, "core")
			if err != nil {
				rt.Fatalf("read version: %v", err)
			}
			callsBefore := map[string]int{}
			for k, v := range rec.calls {
				callsBefore[k] = v
			}

			runErr := runner.Run(ctx)

			after, err := ReadVersion(ctx, store, "core")
			if err != nil {
				rt.Fatalf("read version: %v", err)
			}
			if after < before {
				rt.Fatalf("version went backwards: %d -> %d", before, after)
			}
			if after > reg.Latest() {
				rt.Fatalf("version %d exceeds latest %d", after, reg.Latest())
			}

			steps := reg.Steps()
			for pos := 1; pos < len(steps); pos++ {
				name := steps[pos].Name
				invoked := rec.calls[name] - callsBefore[name]
				switch {
				case pos < before && invoked != 0:
					rt.Fatalf("step %s re-run below version %d", name, before)
				case pos >= before && pos < after:
					if invoked != 1 {
						rt.Fatalf("step %s invoked %d times", name, invoked)
					}
					completed[name]++
				case pos > after && invoked != 0:
					rt.Fatalf("step %s ran after a failure", name)
				}
			}
			if runErr == nil && after != reg.Latest() {
				rt.Fatalf("successful run stopped at %d of %d", after, reg.Latest())
			}
		}

		for name, n := range completed {
			if n != 1 {
				rt.Fatalf("step %s completed %d times", name, n)
			}
		}
	})
}
