//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/loykin/taskmaster/internal/config"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func waitExit(t *testing.T, h *Handle, timeout time.Duration) ExitResult {
	t.Helper()
	select {
	case res := <-h.WaitCh:
		return res
	case <-time.After(timeout):
		t.Fatalf("child did not exit in %v", timeout)
		return ExitResult{}
	}
}

func noneProgram(cmd string) config.Program {
	return config.Program{
		Name:      "t",
		Cmd:       cmd,
		Umask:     0o022,
		ExitCodes: []int{0},
		Stdout:    config.LogNone,
		Stderr:    config.LogNone,
	}
}

func TestLaunch_CapturesStdout(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "echo.out")
	p := noneProgram("/bin/echo hello world")
	p.Stdout = config.LogTarget(out)

	h, err := Launch("echo", &p, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	res := waitExit(t, h, 2*time.Second)
	if res.Status.Code != 0 {
		t.Fatalf("exit = %v", res.Status)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	if strings.TrimSpace(string(b)) != "hello world" {
		t.Fatalf("sink content %q", b)
	}
}

func TestLaunch_NoShellInterpretation(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "argv.out")
	// Metacharacters are plain argv tokens, not shell syntax.
	p := noneProgram("/bin/echo a|b $HOME")
	p.Stdout = config.LogTarget(out)

	h, err := Launch("argv", &p, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitExit(t, h, 2*time.Second)
	b, _ := os.ReadFile(out)
	if strings.TrimSpace(string(b)) != "a|b $HOME" {
		t.Fatalf("shell interpretation leaked: %q", b)
	}
}

func TestLaunch_WorkingDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "pwd.out")
	p := noneProgram("/bin/sh -c pwd")
	// argv split keeps this a direct exec of sh with the single word "pwd".
	p.WorkingDir = dir
	p.Stdout = config.LogTarget(out)

	h, err := Launch("pwd", &p, []string{"PATH=/bin:/usr/bin"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitExit(t, h, 2*time.Second)
	b, _ := os.ReadFile(out)
	got := strings.TrimSpace(string(b))
	// Resolve symlinks (macOS /tmp) before comparing.
	want, _ := filepath.EvalSymlinks(dir)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Fatalf("pwd = %q, want %q", got, want)
	}
}

func TestLaunch_ExitCode(t *testing.T) {
	requireUnix(t)
	p := noneProgram("/bin/false")
	h, err := Launch("false", &p, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	res := waitExit(t, h, 2*time.Second)
	if res.Status.Code != 1 || res.Status.Signaled {
		t.Fatalf("exit = %v", res.Status)
	}
}

func TestLaunch_SpawnFailures(t *testing.T) {
	requireUnix(t)
	p := noneProgram("/no/such/binary")
	if _, err := Launch("missing", &p, nil); err == nil {
		t.Fatalf("expected executable-not-found error")
	}
	p = noneProgram("/bin/true")
	p.WorkingDir = "/no/such/dir"
	if _, err := Launch("badcwd", &p, nil); err == nil {
		t.Fatalf("expected working-directory error")
	}
	p = noneProgram("   ")
	if _, err := Launch("empty", &p, nil); err == nil {
		t.Fatalf("expected empty-command error")
	}
}

func TestLaunch_UmaskRestored(t *testing.T) {
	requireUnix(t)
	before := syscall.Umask(0o027)
	syscall.Umask(before)

	p := noneProgram("/bin/true")
	p.Umask = 0o077
	h, err := Launch("umask", &p, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	after := syscall.Umask(0)
	syscall.Umask(after)
	if after != before {
		t.Fatalf("umask not restored: %o != %o", after, before)
	}
	waitExit(t, h, 2*time.Second)
}

func TestHandle_SignalGroup(t *testing.T) {
	requireUnix(t)
	p := noneProgram("/bin/sleep 60")
	h, err := Launch("sleeper", &p, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("pid = %d", h.PID())
	}
	if _, ok := h.TryReap(); ok {
		t.Fatalf("reaped a live child")
	}
	if err := h.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	res := waitExit(t, h, 2*time.Second)
	if !res.Status.Signaled || res.Status.Signal != syscall.SIGTERM {
		t.Fatalf("exit = %v", res.Status)
	}
}
