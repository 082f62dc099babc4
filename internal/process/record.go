package process

import (
	"time"

	"github.com/loykin/taskmaster/internal/config"
)

// Record is the mutable per-instance entry of the process table. It is owned
// by the supervisor goroutine; nothing else reads or writes it, so no lock.
//
// Invariants between supervision ticks:
//   - Handle != nil iff State.Live()
//   - StartedAt is set whenever Handle is present
//   - StopRequestedAt is set iff State == StateStopping
//   - StartAttempts never exceeds StartRetries+1; crossing that bound lands
//     the record in StateFatal instead.
type Record struct {
	Name string
	Conf config.Program

	State           State
	Handle          *Handle
	StartedAt       time.Time
	StopRequestedAt time.Time
	ExitedAt        time.Time
	Exit            *ExitStatus
	StartAttempts   int

	// KillSent marks that the stop escalated to SIGKILL already.
	KillSent bool
	// PendingConf, when set, replaces Conf once the record reaches
	// StateStopped (reload of a changed program).
	PendingConf *config.Program
	// PendingStart re-starts the record once it reaches StateStopped
	// (restart command, reload of a changed program).
	PendingStart bool
	// Doomed removes the record from the table once it rests (reload drop).
	Doomed bool
}

// NewRecord builds a resting record for one instance of a program.
func NewRecord(name string, conf config.Program) *Record {
	return &Record{Name: name, Conf: conf, State: StateStopped}
}

// PID returns the live child's pid, or 0.
func (r *Record) PID() int {
	if r.Handle == nil {
		return 0
	}
	return r.Handle.PID()
}

// Uptime is the time the current child has been alive.
func (r *Record) Uptime(now time.Time) time.Duration {
	if r.Handle == nil || r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt)
}

// ClearChild drops the handle and the stop bookkeeping after a reap.
func (r *Record) ClearChild() {
	r.Handle = nil
	r.StopRequestedAt = time.Time{}
	r.KillSent = false
}
