package history

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/taskmaster/internal/store/sqlite"
)

func TestStoreSink_MirrorsLastState(t *testing.T) {
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	sink := NewStoreSink(db)
	code := 7
	now := time.Now().UTC()
	events := []Event{
		{Name: "cat", State: "starting", PID: 9, StartAttempts: 1, OccurredAt: now},
		{Name: "cat", State: "running", PID: 9, OccurredAt: now.Add(time.Second)},
		{Name: "cat", State: "exited", PID: 9, ExitCode: &code, ExitedAt: now.Add(2 * time.Second), OccurredAt: now.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.State, err)
		}
	}

	rec, err := db.GetByName(ctx, "cat")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != "exited" || rec.PID != 9 {
		t.Fatalf("record %+v", rec)
	}
	if !rec.ExitCode.Valid || rec.ExitCode.Int64 != 7 || !rec.ExitedAt.Valid {
		t.Fatalf("exit bookkeeping lost: %+v", rec)
	}
}
