package history

import (
	"context"
	"time"
)

// Event is one observed lifecycle change of an instance, exported to
// analytics/statistics systems. ExitCode and ExitedAt are set once an exit
// has been observed for the current run; StartAttempts is the spawn counter
// at the time of the transition.
type Event struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	PID           int       `json:"pid"`
	StartAttempts int       `json:"start_attempts"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	ExitedAt      time.Time `json:"exited_at,omitzero"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
