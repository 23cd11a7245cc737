// Package migrations applies forward-only schema and data migrations.
//
// Each logical database owns a Registry: an append-only list of steps named
// mNNN_description, where NNN is the step index. Indices must strictly
// increase in registration order. The applied position of every database is
// kept in the dbversions tracking table, and the creation of that table is
// step 0 of every registry.
//
// Once a step has shipped its body must never change; add a new step instead.
package migrations

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jmylchreest/ledger-api/internal/database"
)

// TrackingTable holds one row per logical database.
const TrackingTable = "dbversions"

// StepKind separates schema changes from data rewrites.
type StepKind int

const (
	// KindSchema steps add or rename tables, columns, indexes and views.
	KindSchema StepKind = iota
	// KindData steps rewrite existing rows and carry their own
	// idempotence check.
	KindData
)

func (k StepKind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Step is a single migration.
type Step struct {
	// Name is mNNN_description; NNN is the step index.
	Name        string
	Description string
	Kind        StepKind

	// Up statements run in order. They may use the database.Token* tokens.
	Up []string

	// Apply runs after Up, for steps that need to probe the schema or walk
	// rows.
	Apply func(ctx context.Context, tx *database.Tx) error

	index int
}

// Index returns the step index parsed from its name.
func (s Step) Index() int { return s.index }

func (s Step) run(ctx context.Context, tx *database.Tx) error {
	for _, stmt := range s.Up {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w\n%s", err, stmt)
		}
	}
	if s.Apply != nil {
		return s.Apply(ctx, tx)
	}
	return nil
}

var stepName = regexp.MustCompile(`^m(\d{3,})_[a-z0-9_]+$`)

// ParseIndex extracts the index embedded in a step name.
func ParseIndex(name string) (int, bool) {
	m := stepName.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Registry is the ordered step list of one logical database.
type Registry struct {
	db    string
	steps []Step
}

// NewRegistry creates the registry for db with the tracking table step
// already registered as step 0.
func NewRegistry(db string) *Registry {
	r := &Registry{db: db}
	r.MustRegister(createTrackingTable)
	return r
}

// DB returns the logical database name.
func (r *Registry) DB() string { return r.db }

// Register appends a step. It fails with *OrderingError when the step's index
// does not come strictly after the last registered one.
func (r *Registry) Register(s Step) error {
	last := -1
	if len(r.steps) > 0 {
		last = r.steps[len(r.steps)-1].index
	}

	idx, ok := ParseIndex(s.Name)
	if !ok {
		return &OrderingError{DB: r.db, Name: s.Name, Index: -1, LastIndex: last, Reason: "name must look like mNNN_description"}
	}
	if s.Up == nil && s.Apply == nil {
		return &OrderingError{DB: r.db, Name: s.Name, Index: idx, LastIndex: last, Reason: "step has no body"}
	}
	if idx == last {
		return &OrderingError{DB: r.db, Name: s.Name, Index: idx, LastIndex: last, Reason: "duplicate index"}
	}
	if idx < last {
		return &OrderingError{DB: r.db, Name: s.Name, Index: idx, LastIndex: last, Reason: "index must increase"}
	}

	s.index = idx
	r.steps = append(r.steps, s)
	return nil
}

// MustRegister is Register for package-level step lists; a bad registration
// panics at init time.
func (r *Registry) MustRegister(s Step) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Steps returns a copy of the registered steps in application order.
func (r *Registry) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Latest is the version a fully migrated database reports.
func (r *Registry) Latest() int { return len(r.steps) }

var createTrackingTable = Step{
	Name:        "m000_create_migrations_table",
	Description: "Create the dbversions tracking table",
	Kind:        KindSchema,
	Up: []string{`
		CREATE TABLE IF NOT EXISTS dbversions (
			db TEXT PRIMARY KEY,
			version INTEGER NOT NULL
		)
	`},
}
