package history

import (
	"context"
	"database/sql"

	"github.com/loykin/taskmaster/internal/store"
)

// StoreSink mirrors each event into the last-known-state store, carrying the
// exit and retry bookkeeping along.
type StoreSink struct {
	st store.Store
}

func NewStoreSink(st store.Store) *StoreSink { return &StoreSink{st: st} }

func (s *StoreSink) Send(ctx context.Context, e Event) error {
	rec := store.Record{
		Name:          e.Name,
		PID:           e.PID,
		State:         e.State,
		StartAttempts: e.StartAttempts,
		UpdatedAt:     e.OccurredAt,
	}
	if e.ExitCode != nil {
		rec.ExitCode = sql.NullInt64{Int64: int64(*e.ExitCode), Valid: true}
	}
	if !e.ExitedAt.IsZero() {
		rec.ExitedAt = sql.NullTime{Time: e.ExitedAt, Valid: true}
	}
	return s.st.Upsert(ctx, rec)
}
