//go:build !windows

package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/logger"
)

// ExitStatus describes how a child terminated.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

func (e ExitStatus) String() string {
	if e.Signaled {
		return "signal: " + e.Signal.String()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitResult is delivered by the wait goroutine exactly once per spawn.
type ExitResult struct {
	Status ExitStatus
	At     time.Time
}

// Handle is a live child: pid plus the channel the wait goroutine reports on.
// The supervisor polls WaitCh with a non-blocking receive; it never calls
// Wait itself.
type Handle struct {
	cmd    *exec.Cmd
	WaitCh chan ExitResult
}

func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Signal delivers sig to the child's process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	return syscall.Kill(-h.PID(), sig)
}

// Kill sends the uncatchable kill to the child's process group.
func (h *Handle) Kill() error { return h.Signal(syscall.SIGKILL) }

// TryReap performs a non-blocking check for the child's exit result.
func (h *Handle) TryReap() (ExitResult, bool) {
	select {
	case res := <-h.WaitCh:
		return res, true
	default:
		return ExitResult{}, false
	}
}

// Launch spawns one child for the given instance. The command line is split
// on whitespace with no shell interpretation; stream sinks are opened before
// the spawn; the configured umask is in effect only for the Start call. All
// callers run on the supervisor goroutine, so the save-set-restore window on
// the process-wide umask needs no lock.
//
// Every failure mode (executable not found, permission denied, bad working
// directory) surfaces as a single error; retry policy lives in the
// supervision engine.
func Launch(instance string, p *config.Program, environ []string) (*Handle, error) {
	argv := strings.Fields(p.Cmd)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	outW, errW := logger.StreamSinks(instance, p.Stdout, p.Stderr)
	stdin, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		closeSinks(outW, errW)
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}

	// #nosec G204 -- the catalog is operator-provided by design
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.Env = environ
	if p.WorkingDir != "" {
		cmd.Dir = p.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	old := syscall.Umask(int(p.Umask))
	err = cmd.Start()
	syscall.Umask(old)
	_ = stdin.Close()
	if err != nil {
		closeSinks(outW, errW)
		return nil, err
	}

	h := &Handle{cmd: cmd, WaitCh: make(chan ExitResult, 1)}
	go func() {
		_ = cmd.Wait()
		closeSinks(outW, errW)
		h.WaitCh <- ExitResult{Status: exitStatusOf(cmd), At: time.Now()}
	}()
	return h, nil
}

func closeSinks(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}

func exitStatusOf(cmd *exec.Cmd) ExitStatus {
	ps := cmd.ProcessState
	if ps == nil {
		// Wait failed before the child was reaped; treat as a generic failure.
		return ExitStatus{Code: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signaled: true, Signal: ws.Signal()}
	}
	return ExitStatus{Code: ps.ExitCode()}
}
