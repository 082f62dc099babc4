//go:build !windows

package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/taskmaster/pkg/client"
)

func echoDispatcher(line string) string {
	if line == "" {
		return ""
	}
	return "echo: " + line
}

func startServer(t *testing.T, path string, d Dispatcher) *Server {
	t.Helper()
	srv := NewServer(path, d)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func TestServer_RequestResponse(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tm.sock")
	startServer(t, sock, echoDispatcher)

	reply, err := client.Send(sock, "status cat")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "echo: status cat" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestServer_OneRequestPerConnection(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tm.sock")
	startServer(t, sock, echoDispatcher)

	for i := 0; i < 5; i++ {
		reply, err := client.Send(sock, fmt.Sprintf("cmd %d", i))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if reply != fmt.Sprintf("echo: cmd %d", i) {
			t.Fatalf("reply %d = %q", i, reply)
		}
	}
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tm.sock")
	// Simulate a previous daemon's leftover socket file.
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	startServer(t, sock, echoDispatcher)

	reply, err := client.Send(sock, "ping")
	if err != nil {
		t.Fatalf("send after stale removal: %v", err)
	}
	if reply != "echo: ping" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestServer_BindFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	srv := NewServer(filepath.Join(dir, "missing", "tm.sock"), echoDispatcher)
	err := srv.Listen()
	if err == nil {
		srv.Close()
		t.Fatalf("expected bind failure")
	}
	if !strings.Contains(err.Error(), "bind control socket") {
		t.Fatalf("error = %v", err)
	}
}

func TestServer_WhitespaceOnlyRequest(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tm.sock")
	startServer(t, sock, echoDispatcher)

	reply, err := client.Send(sock, "   \n")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "" {
		t.Fatalf("reply = %q", reply)
	}
}
