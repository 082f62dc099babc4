package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/env"
	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/process"
)

// DefaultTickInterval keeps starttime/stoptime honored to sub-second
// precision.
const DefaultTickInterval = 100 * time.Millisecond

// Supervisor owns the process table. It is the single writer: every record
// mutation happens on the Run goroutine, which multiplexes control requests
// against supervision ticks. Control connections and history sinks are I/O
// helpers talking to it over channels.
type Supervisor struct {
	cfg        *config.Config
	configPath string
	table      map[string]*process.Record
	order      []string
	envM       *env.Env
	recorder   *history.Recorder

	requests chan request
	done     chan struct{}
	shutdown bool

	// TickInterval may be lowered by tests before Run is called.
	TickInterval time.Duration
}

type request struct {
	line  string
	reply chan string
}

// New builds a supervisor and its process table from the catalog.
// configPath is re-read by the reload command.
func New(cfg *config.Config, configPath string) *Supervisor {
	s := &Supervisor{
		cfg:          cfg,
		configPath:   configPath,
		table:        make(map[string]*process.Record),
		envM:         env.New(),
		requests:     make(chan request, 16),
		done:         make(chan struct{}),
		TickInterval: DefaultTickInterval,
	}
	for _, p := range cfg.Programs {
		for _, inst := range p.InstanceNames() {
			s.table[inst] = process.NewRecord(inst, p)
		}
	}
	s.reorder()
	return s
}

// SetRecorder wires lifecycle event sinks. Must be called before Run.
func (s *Supervisor) SetRecorder(r *history.Recorder) { s.recorder = r }

func (s *Supervisor) reorder() {
	s.order = s.order[:0]
	for name := range s.table {
		s.order = append(s.order, name)
	}
	sort.Strings(s.order)
}

// Dispatch submits one command line and returns the reply. Safe to call from
// any goroutine; the supervisor applies commands in arrival order.
func (s *Supervisor) Dispatch(line string) string {
	req := request{line: line, reply: make(chan string, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return "ERROR (shutting down)"
	}
	select {
	case reply := <-req.reply:
		return reply
	case <-s.done:
		// The shutdown command's own reply races with the loop exiting;
		// prefer a reply that was already written.
		select {
		case reply := <-req.reply:
			return reply
		default:
			return "ERROR (shutting down)"
		}
	}
}

// Run drives the main loop until shutdown is commanded or ctx is canceled.
// On ctx cancellation it performs the same graceful stop-all as the shutdown
// command before returning.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	// Boot pass: autostart.
	for _, name := range s.order {
		r := s.table[name]
		if r.Conf.AutoStart {
			r.StartAttempts = 0
			s.spawn(r)
		}
	}

	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			// Disarm the case so the loop keeps ticking while children drain.
			ctxDone = nil
			if !s.shutdown {
				slog.Info("context canceled, stopping all instances")
				s.beginShutdown()
			}
		case req := <-s.requests:
			req.reply <- s.handle(req.line)
		case now := <-ticker.C:
			s.tickAll(now)
		}
		if s.shutdown && s.allResting() {
			slog.Info("all instances stopped, supervisor exiting")
			return
		}
	}
}

func (s *Supervisor) allResting() bool {
	for _, r := range s.table {
		if r.State.Live() {
			return false
		}
	}
	return true
}

func (s *Supervisor) beginShutdown() {
	s.shutdown = true
	now := time.Now()
	for _, name := range s.order {
		r := s.table[name]
		if r.State == process.StateStarting || r.State == process.StateRunning {
			s.initiateStop(r, now)
		}
	}
}

// setState applies a state transition with its observability side effects.
func (s *Supervisor) setState(r *process.Record, next process.State) {
	prev := r.State
	if prev == next {
		return
	}
	r.State = next
	slog.Debug("state transition", "instance", r.Name, "from", prev.String(), "to", next.String())
	metrics.RecordStateTransition(r.Name, prev.String(), next.String())
	metrics.SetCurrentState(r.Name, prev.String(), false)
	metrics.SetCurrentState(r.Name, next.String(), true)
	metrics.SetRunningInstances(s.liveCount())
	if s.recorder != nil {
		ev := history.Event{
			Name:          r.Name,
			State:         next.String(),
			PID:           r.PID(),
			StartAttempts: r.StartAttempts,
			OccurredAt:    time.Now().UTC(),
		}
		if r.Exit != nil {
			code := r.Exit.Code
			ev.ExitCode = &code
			ev.ExitedAt = r.ExitedAt.UTC()
		}
		s.recorder.Publish(ev)
	}
}

func (s *Supervisor) liveCount() int {
	n := 0
	for _, r := range s.table {
		if r.State.Live() {
			n++
		}
	}
	return n
}
