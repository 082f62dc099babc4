package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Record is the persisted view of one instance: the last observed
// supervision state plus the exit and retry bookkeeping the process table
// carries. Consecutive writes for the same instance name overwrite; exit
// fields are null while no exit has been observed. Timestamps are UTC.
type Record struct {
	Name          string
	PID           int
	State         string
	StartAttempts int
	ExitCode      sql.NullInt64
	ExitedAt      sql.NullTime
	UpdatedAt     time.Time
}

// Validate normalizes a record before it is written.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("empty instance name")
	}
	if r.State == "" {
		return errors.New("empty state")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Store persists last-known instance state.
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, rec Record) error
	GetByName(ctx context.Context, name string) (Record, error)
	// List returns all known instances ordered by name, so a restarted
	// daemon (or an operator poking at the database) sees the whole table.
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, name string) error
	Close() error
}
