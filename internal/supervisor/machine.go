package supervisor

import (
	"log/slog"
	"time"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/process"
)

// spawn launches one child for r and moves it to Starting, or parks it in
// Backoff on a spawn-level failure. Every spawn attempt, successful or not,
// consumes one of the record's start attempts.
func (s *Supervisor) spawn(r *process.Record) {
	r.StartAttempts++
	environ := s.envM.Merge(r.Conf.Env)
	h, err := process.Launch(r.Name, &r.Conf, environ)
	if err != nil {
		slog.Warn("spawn failed", "instance", r.Name, "attempt", r.StartAttempts, "error", err)
		metrics.IncSpawnFailure(r.Name)
		r.Handle = nil
		r.StartedAt = time.Now()
		s.setState(r, process.StateBackoff)
		return
	}
	r.Handle = h
	r.StartedAt = time.Now()
	r.Exit = nil
	r.ExitedAt = time.Time{}
	slog.Info("spawned", "instance", r.Name, "pid", h.PID(), "attempt", r.StartAttempts)
	metrics.IncStart(r.Name)
	s.setState(r, process.StateStarting)
}

// initiateStop sends the configured stop signal and arms the stoptime
// deadline.
func (s *Supervisor) initiateStop(r *process.Record, now time.Time) {
	if err := r.Handle.Signal(r.Conf.StopSig()); err != nil {
		slog.Warn("failed to signal", "instance", r.Name, "signal", r.Conf.StopSignal, "error", err)
	}
	r.StopRequestedAt = now
	r.KillSent = false
	slog.Info("stopping", "instance", r.Name, "pid", r.PID(), "signal", r.Conf.StopSignal)
	s.setState(r, process.StateStopping)
}

// tickAll runs one supervision pass over the table and reaps doomed records.
func (s *Supervisor) tickAll(now time.Time) {
	removed := false
	for _, name := range s.order {
		r, ok := s.table[name]
		if !ok {
			continue
		}
		s.tick(r, now)
		if r.Doomed && r.State.Resting() {
			delete(s.table, name)
			removed = true
		}
	}
	if removed {
		s.reorder()
	}
}

// tick advances one record's state machine: observe the child exit (if any)
// through a non-blocking reap, then apply elapsed-time transitions.
func (s *Supervisor) tick(r *process.Record, now time.Time) {
	switch r.State {
	case process.StateStarting:
		if res, ok := r.Handle.TryReap(); ok {
			aliveFor := res.At.Sub(r.StartedAt)
			r.Exit = &res.Status
			r.ExitedAt = res.At
			r.ClearChild()
			// Reaching starttime exactly counts as having started.
			if aliveFor >= r.Conf.StartDuration() {
				s.exitedWhileRunning(r)
				return
			}
			slog.Warn("exited before starttime", "instance", r.Name, "after", aliveFor, "status", res.Status.String())
			s.setState(r, process.StateBackoff)
			return
		}
		if now.Sub(r.StartedAt) >= r.Conf.StartDuration() {
			r.StartAttempts = 0
			slog.Info("running", "instance", r.Name, "pid", r.PID())
			s.setState(r, process.StateRunning)
		}

	case process.StateRunning:
		if res, ok := r.Handle.TryReap(); ok {
			r.Exit = &res.Status
			r.ExitedAt = res.At
			r.ClearChild()
			s.exitedWhileRunning(r)
		}

	case process.StateStopping:
		if res, ok := r.Handle.TryReap(); ok {
			r.Exit = &res.Status
			r.ExitedAt = res.At
			r.ClearChild()
			metrics.IncStop(r.Name)
			slog.Info("stopped", "instance", r.Name, "status", res.Status.String())
			s.setState(r, process.StateStopped)
			s.afterStopped(r)
			return
		}
		if !r.KillSent && now.Sub(r.StopRequestedAt) >= r.Conf.StopDuration() {
			slog.Warn("stop deadline elapsed, killing", "instance", r.Name, "pid", r.PID())
			if err := r.Handle.Kill(); err != nil {
				slog.Warn("kill failed", "instance", r.Name, "error", err)
			}
			r.KillSent = true
		}

	case process.StateBackoff:
		if s.shutdown || r.Doomed {
			s.setState(r, process.StateStopped)
			return
		}
		if r.StartAttempts > r.Conf.StartRetries {
			slog.Error("giving up", "instance", r.Name, "attempts", r.StartAttempts)
			s.setState(r, process.StateFatal)
			return
		}
		// Respawn is immediate; the tick cadence is the only delay.
		s.spawn(r)
	}
}

// exitedWhileRunning applies the autorestart policy after a child that had
// reached Running (or survived past starttime) exited.
func (s *Supervisor) exitedWhileRunning(r *process.Record) {
	metrics.IncStop(r.Name)
	slog.Info("exited", "instance", r.Name, "status", r.Exit.String())
	s.setState(r, process.StateExited)
	restart := false
	switch r.Conf.AutoRestart {
	case config.RestartAlways:
		restart = true
	case config.RestartNever:
		restart = false
	case config.RestartUnexpected:
		restart = r.Exit.Signaled || !r.Conf.ExpectedExit(r.Exit.Code)
	}
	if restart && !s.shutdown {
		r.StartAttempts = 0
		s.spawn(r)
	}
}

// afterStopped consumes the flags a stop completion may carry: conf swap and
// pending start from restart/reload.
func (s *Supervisor) afterStopped(r *process.Record) {
	if r.PendingConf != nil {
		r.Conf = *r.PendingConf
		r.PendingConf = nil
	}
	if r.PendingStart && !s.shutdown && !r.Doomed {
		r.PendingStart = false
		r.StartAttempts = 0
		s.spawn(r)
	}
	r.PendingStart = false
}
