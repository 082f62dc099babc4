package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/taskmaster/internal/config"
)

func writeConfig(t *testing.T, path, doc string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
}

func reloadFixture(t *testing.T, doc string) (*Supervisor, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskmaster.yaml")
	writeConfig(t, path, doc)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return startSup(t, cfg, path), path
}

const reloadBase = `
programs:
  keep:
    cmd: "/bin/sleep 60"
    starttime: 0
    stoptime: 1
    stdout: NONE
    stderr: NONE
  drop:
    cmd: "/bin/sleep 60"
    starttime: 0
    stoptime: 1
    stdout: NONE
    stderr: NONE
`

// Property 7: reloading an unchanged file touches nothing.
func TestReload_Idempotent(t *testing.T) {
	requireUnix(t)
	s, _ := reloadFixture(t, reloadBase)
	ok := waitUntil(3*time.Second, 20*time.Millisecond, func() bool {
		return strings.Count(s.Dispatch("status"), "RUNNING") == 2
	})
	if !ok {
		t.Fatalf("fixture never running: %q", s.Dispatch("status"))
	}
	keepPID := pidFromStatus(s.Dispatch("status keep"))

	if reply := s.Dispatch("reload"); reply != "reload: no changes" {
		t.Fatalf("reload reply = %q", reply)
	}
	time.Sleep(200 * time.Millisecond)
	if pid := pidFromStatus(s.Dispatch("status keep")); pid != keepPID {
		t.Fatalf("idempotent reload respawned: %d -> %d", keepPID, pid)
	}
}

func TestReload_AddChangeRemove(t *testing.T) {
	requireUnix(t)
	s, path := reloadFixture(t, reloadBase)
	ok := waitUntil(3*time.Second, 20*time.Millisecond, func() bool {
		return strings.Count(s.Dispatch("status"), "RUNNING") == 2
	})
	if !ok {
		t.Fatalf("fixture never running: %q", s.Dispatch("status"))
	}
	keepPID := pidFromStatus(s.Dispatch("status keep"))
	changePID := keepPID

	writeConfig(t, path, `
programs:
  keep:
    cmd: "/bin/sleep 61"
    starttime: 0
    stoptime: 1
    stdout: NONE
    stderr: NONE
  fresh:
    cmd: "/bin/sleep 60"
    starttime: 0
    stoptime: 1
    stdout: NONE
    stderr: NONE
`)
	reply := s.Dispatch("reload")
	for _, want := range []string{"fresh: added", "keep: changed", "drop: removed"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("reload reply %q missing %q", reply, want)
		}
	}

	// Added instance autostarts.
	if !waitUntil(3*time.Second, 20*time.Millisecond, statusHas(s, "fresh", "RUNNING")) {
		t.Fatalf("added instance not running: %q", s.Dispatch("status fresh"))
	}
	// Changed instance was stopped under the old config and restarted under
	// the new one.
	ok = waitUntil(5*time.Second, 20*time.Millisecond, func() bool {
		st := s.Dispatch("status keep")
		pid := pidFromStatus(st)
		return strings.Contains(st, "RUNNING") && pid != 0 && pid != changePID
	})
	if !ok {
		t.Fatalf("changed instance not replaced: %q", s.Dispatch("status keep"))
	}
	// Removed instance disappears from the table once its stop completes.
	ok = waitUntil(5*time.Second, 20*time.Millisecond, func() bool {
		return strings.Contains(s.Dispatch("status drop"), "no such process")
	})
	if !ok {
		t.Fatalf("removed instance still present: %q", s.Dispatch("status drop"))
	}
}

// A parse failure leaves the table untouched.
func TestReload_ParseErrorKeepsTable(t *testing.T) {
	requireUnix(t)
	s, path := reloadFixture(t, reloadBase)
	ok := waitUntil(3*time.Second, 20*time.Millisecond, func() bool {
		return strings.Count(s.Dispatch("status"), "RUNNING") == 2
	})
	if !ok {
		t.Fatalf("fixture never running")
	}
	keepPID := pidFromStatus(s.Dispatch("status keep"))

	writeConfig(t, path, "programs:\n  broken: {bogus_field: 1}\n")
	reply := s.Dispatch("reload")
	if !strings.Contains(reply, "ERROR") {
		t.Fatalf("reload reply = %q", reply)
	}
	time.Sleep(200 * time.Millisecond)
	st := s.Dispatch("status")
	if strings.Count(st, "RUNNING") != 2 {
		t.Fatalf("table disturbed by failed reload: %q", st)
	}
	if pid := pidFromStatus(s.Dispatch("status keep")); pid != keepPID {
		t.Fatalf("failed reload respawned keep")
	}
}

// Reload with numprocs growth adds derived instances.
func TestReload_NumProcsGrowth(t *testing.T) {
	requireUnix(t)
	s, path := reloadFixture(t, `
programs:
  web:
    cmd: "/bin/sleep 60"
    starttime: 0
    stoptime: 1
    stdout: NONE
    stderr: NONE
`)
	if !waitUntil(3*time.Second, 20*time.Millisecond, statusHas(s, "web", "RUNNING")) {
		t.Fatalf("web never running")
	}

	writeConfig(t, path, `
programs:
  web:
    cmd: "/bin/sleep 60"
    numprocs: 2
    starttime: 0
    stoptime: 1
    stdout: NONE
    stderr: NONE
`)
	s.Dispatch("reload")
	// The old bare instance goes away; web0 and web1 appear.
	ok := waitUntil(5*time.Second, 20*time.Millisecond, func() bool {
		st := s.Dispatch("status")
		return strings.Contains(st, "web0") && strings.Contains(st, "web1") &&
			strings.Contains(s.Dispatch("status web"), "no such process")
	})
	if !ok {
		t.Fatalf("numprocs growth not applied: %q", s.Dispatch("status"))
	}
}
