package migrations

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyApplied may be returned by a step body that detected its
	// change is already present. The runner records the step as applied.
	ErrAlreadyApplied = errors.New("migration already applied")

	// ErrVersionAhead is returned when the stored version is higher than the
	// number of steps this binary knows about.
	ErrVersionAhead = errors.New("database version is ahead of the registered migrations")

	// ErrDuplicateDatabase is returned when two registries claim the same
	// logical database.
	ErrDuplicateDatabase = errors.New("logical database registered twice")
)

// OrderingError reports a step that cannot be appended to a registry: its
// index is not greater than the last registered one, or its name carries no
// index at all. Raised at registration time, before any store I/O.
type OrderingError struct {
	DB        string
	Name      string
	Index     int
	LastIndex int
	Reason    string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("migrations %s: cannot register %q (index %d, last %d): %s",
		e.DB, e.Name, e.Index, e.LastIndex, e.Reason)
}

// StepError wraps the store failure that aborted a run.
type StepError struct {
	DB    string
	Index int
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s/%s (index %d) failed: %v", e.DB, e.Name, e.Index, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
