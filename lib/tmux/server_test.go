// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package tmux_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/deckhand-project/deckhand/lib/tmux"
)

// newTestServer returns a Server on a fresh socket in a short /tmp
// path (Unix sockets have a 108-byte path limit) and registers
// cleanup. Skips the test when no tmux binary is installed.
func newTestServer(t *testing.T) *tmux.Server {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	directory, err := os.MkdirTemp("/tmp", "deckhand-tmux-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	server := tmux.NewServer(filepath.Join(directory, "sock"), "/dev/null")
	t.Cleanup(func() {
		_ = server.KillServer()
		_ = os.RemoveAll(directory)
	})
	return server
}

func TestNewSessionAndHasSession(t *testing.T) {
	server := newTestServer(t)

	if err := server.NewSession("worker-a", "sleep", "infinity"); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if !server.HasSession("worker-a") {
		t.Fatal("HasSession returned false for a session that was just created")
	}
	if server.HasSession("worker-b") {
		t.Fatal("HasSession returned true for a session that was never created")
	}
}

func TestHasSessionNoServer(t *testing.T) {
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	server := tmux.NewServer("/tmp/deckhand-definitely-no-such-socket", "/dev/null")
	if server.HasSession("anything") {
		t.Fatal("HasSession returned true with no server running")
	}
}

func TestKillSessionIdempotent(t *testing.T) {
	server := newTestServer(t)

	if err := server.NewSession("worker-a", "sleep", "infinity"); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := server.KillSession("worker-a"); err != nil {
		t.Fatalf("KillSession: %v", err)
	}
	// Second kill of the same session is a normal cleanup condition.
	if err := server.KillSession("worker-a"); err != nil {
		t.Fatalf("KillSession on a dead session: %v", err)
	}
}

func TestHasSessionContext(t *testing.T) {
	server := newTestServer(t)

	if err := server.NewSession("worker-a", "sleep", "infinity"); err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := server.HasSessionContext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("HasSessionContext: %v", err)
	}
	if !exists {
		t.Fatal("HasSessionContext reported an existing session as gone")
	}

	exists, err = server.HasSessionContext(ctx, "worker-b")
	if err != nil {
		t.Fatalf("HasSessionContext: %v", err)
	}
	if exists {
		t.Fatal("HasSessionContext reported a missing session as present")
	}
}
