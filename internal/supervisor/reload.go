package supervisor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/process"
)

// cmdReload re-reads the catalog from the boot-time path and applies the
// per-instance diff. A parse failure leaves the table untouched.
func (s *Supervisor) cmdReload() string {
	if s.shutdown {
		return "reload: ERROR (shutting down)"
	}
	next, err := config.Load(s.configPath)
	if err != nil {
		slog.Error("reload failed", "path", s.configPath, "error", err)
		return fmt.Sprintf("reload: ERROR (%v)", err)
	}

	desired := make(map[string]config.Program)
	for _, p := range next.Programs {
		for _, inst := range p.InstanceNames() {
			desired[inst] = p
		}
	}

	var changed, added, removed []string
	now := time.Now()

	for _, name := range s.order {
		r := s.table[name]
		want, ok := desired[name]
		if !ok {
			// Gone from the catalog: stop, then drop once resting.
			removed = append(removed, name)
			r.Doomed = true
			r.PendingStart = false
			if r.State == process.StateStarting || r.State == process.StateRunning {
				s.initiateStop(r, now)
			}
			continue
		}
		if r.Conf.Equal(&want) {
			continue
		}
		changed = append(changed, name)
		if r.State.Live() {
			// Stop under the old config; start under the new one.
			conf := want
			r.PendingConf = &conf
			r.PendingStart = true
			if r.State != process.StateStopping {
				s.initiateStop(r, now)
			}
		} else {
			r.Conf = want
			r.StartAttempts = 0
			if want.AutoStart {
				s.spawn(r)
			}
		}
	}

	for inst, p := range desired {
		if _, ok := s.table[inst]; ok {
			continue
		}
		added = append(added, inst)
		r := process.NewRecord(inst, p)
		s.table[inst] = r
		if p.AutoStart {
			s.spawn(r)
		}
	}
	s.reorder()
	s.cfg = next

	if len(changed) == 0 && len(added) == 0 && len(removed) == 0 {
		return "reload: no changes"
	}
	var b strings.Builder
	b.WriteString("reloaded")
	for _, n := range added {
		fmt.Fprintf(&b, "\n%s: added", n)
	}
	for _, n := range changed {
		fmt.Fprintf(&b, "\n%s: changed", n)
	}
	for _, n := range removed {
		fmt.Fprintf(&b, "\n%s: removed", n)
	}
	return b.String()
}
