package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/taskmaster/internal/config"
)

// AutoLogDir is where AUTO stream sinks are created, one pair of files per
// instance. Created on demand.
const AutoLogDir = "/tmp/taskmasterd"

// Rotation limits for managed stream sinks, following lumberjack semantics.
const (
	sinkMaxSizeMB  = 10
	sinkMaxBackups = 3
	sinkMaxAgeDays = 7
)

// StreamSinks resolves the stdout and stderr targets of one instance to open
// writers. Targets are resolved before the child is spawned:
//   - NONE discards,
//   - a path gets a managed rotating writer at that path,
//   - AUTO gets AutoLogDir/<instance>.<stream>.log.
//
// A sink whose path cannot be prepared falls back to discard; the failure is
// logged and the spawn proceeds.
func StreamSinks(instance string, stdout, stderr config.LogTarget) (io.WriteCloser, io.WriteCloser) {
	return openSink(instance, "stdout", stdout), openSink(instance, "stderr", stderr)
}

func openSink(instance, stream string, target config.LogTarget) io.WriteCloser {
	if target.IsNone() {
		return Discard()
	}
	path := target.Path()
	if target.IsAuto() {
		path = filepath.Join(AutoLogDir, fmt.Sprintf("%s.%s.log", instance, stream))
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		slog.Warn("failed to prepare log directory, discarding stream",
			"instance", instance, "stream", stream, "dir", dir, "error", err)
		return Discard()
	}
	// Truncate an existing file so each daemon run starts a fresh capture.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		slog.Warn("failed to open log sink, discarding stream",
			"instance", instance, "stream", stream, "path", path, "error", err)
		return Discard()
	}
	_ = f.Close()
	return &lj.Logger{
		Filename:   path,
		MaxSize:    sinkMaxSizeMB,
		MaxBackups: sinkMaxBackups,
		MaxAge:     sinkMaxAgeDays,
	}
}
