package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/taskmaster/internal/process"
)

// handle dispatches one control request. Runs on the supervisor goroutine.
func (s *Supervisor) handle(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	verb, args := fields[0], fields[1:]
	switch verb {
	case "start":
		return s.forEach(args, s.cmdStart)
	case "stop":
		return s.forEach(args, s.cmdStop)
	case "restart":
		return s.forEach(args, s.cmdRestart)
	case "status":
		return s.forEach(args, s.cmdStatus)
	case "reload":
		return s.cmdReload()
	case "shutdown":
		s.beginShutdown()
		return "shutting down"
	default:
		return fmt.Sprintf("unknown command: %s", verb)
	}
}

// forEach applies fn to each named instance, or to every instance when no
// names are given. Unknown names produce their own error line.
func (s *Supervisor) forEach(names []string, fn func(*process.Record) string) string {
	var b strings.Builder
	targets := names
	if len(targets) == 0 {
		targets = s.order
	}
	for i, name := range targets {
		if i > 0 {
			b.WriteByte('\n')
		}
		r, ok := s.table[name]
		if !ok {
			fmt.Fprintf(&b, "%s: ERROR (no such process)", name)
			continue
		}
		b.WriteString(fn(r))
	}
	return b.String()
}

func (s *Supervisor) cmdStart(r *process.Record) string {
	if s.shutdown {
		return fmt.Sprintf("%s: ERROR (shutting down)", r.Name)
	}
	if r.State.Live() {
		return fmt.Sprintf("%s: ERROR (already started)", r.Name)
	}
	r.StartAttempts = 0
	r.PendingStart = false
	s.spawn(r)
	if r.State != process.StateStarting {
		return fmt.Sprintf("%s: ERROR (spawn error)", r.Name)
	}
	return fmt.Sprintf("%s: started", r.Name)
}

func (s *Supervisor) cmdStop(r *process.Record) string {
	switch r.State {
	case process.StateStarting, process.StateRunning:
		s.initiateStop(r, time.Now())
		return fmt.Sprintf("%s: stopping", r.Name)
	case process.StateStopping:
		return fmt.Sprintf("%s: stopping", r.Name)
	default:
		return fmt.Sprintf("%s: not running", r.Name)
	}
}

// cmdRestart stops a live instance and arms a pending start consumed once it
// reaches Stopped, so start attempts always count from zero under the
// post-stop spawn. Resting instances start right away.
func (s *Supervisor) cmdRestart(r *process.Record) string {
	switch r.State {
	case process.StateStarting, process.StateRunning:
		r.PendingStart = true
		s.initiateStop(r, time.Now())
		return fmt.Sprintf("%s: restarting", r.Name)
	case process.StateStopping:
		r.PendingStart = true
		return fmt.Sprintf("%s: restarting", r.Name)
	default:
		return s.cmdStart(r)
	}
}

func (s *Supervisor) cmdStatus(r *process.Record) string {
	return fmt.Sprintf("%s  %s  %s", r.Name, r.State.Upper(), s.statusDetail(r))
}

func (s *Supervisor) statusDetail(r *process.Record) string {
	now := time.Now()
	switch r.State {
	case process.StateStarting, process.StateRunning, process.StateStopping:
		return fmt.Sprintf("pid %d, uptime %s", r.PID(), formatUptime(r.Uptime(now)))
	case process.StateStopped:
		return "not started"
	case process.StateExited:
		return fmt.Sprintf("%s at %s", r.Exit.String(), r.ExitedAt.Format("2006-01-02 15:04:05"))
	case process.StateBackoff, process.StateFatal:
		return "exited too quickly"
	default:
		return ""
	}
}

func formatUptime(d time.Duration) string {
	sec := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec/60)%60, sec%60)
}
