// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package launcher_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deckhand-project/deckhand/launcher"
)

func fakeLauncher(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "launch")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing fake launcher: %v", err)
	}
	return path
}

func TestRestart(t *testing.T) {
	record := filepath.Join(t.TempDir(), "invocation")
	client := &launcher.Client{Command: fakeLauncher(t,
		`echo "$@" > `+record+"\necho starting up...\necho pid=4242\necho session=dh-w7")}

	result, err := client.Restart(context.Background(), launcher.Spawn{
		Worker:    "w7",
		Model:     "large",
		Workspace: "/srv/work/w7",
		Session:   "dh-w7",
	})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if result.PID != 4242 || result.Session != "dh-w7" {
		t.Fatalf("result = %+v", result)
	}

	invocation, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("reading invocation record: %v", err)
	}
	for _, want := range []string{"--worker w7", "--model large", "--workspace /srv/work/w7", "--session dh-w7"} {
		if !strings.Contains(string(invocation), want) {
			t.Errorf("invocation %q missing %q", string(invocation), want)
		}
	}
}

func TestRestartExitFailure(t *testing.T) {
	client := &launcher.Client{Command: fakeLauncher(t, `echo "sandbox setup failed" >&2; exit 3`)}
	_, err := client.Restart(context.Background(), launcher.Spawn{Worker: "w1"})
	if err == nil {
		t.Fatal("non-zero exit not reported")
	}
	if !strings.Contains(err.Error(), "sandbox setup failed") {
		t.Fatalf("stderr detail missing from error: %v", err)
	}
}

func TestRestartMissingPID(t *testing.T) {
	client := &launcher.Client{Command: fakeLauncher(t, "echo session=dh-w1")}
	_, err := client.Restart(context.Background(), launcher.Spawn{Worker: "w1"})
	if err == nil || !strings.Contains(err.Error(), "no pid") {
		t.Fatalf("err = %v, want missing-pid error", err)
	}
}

func TestRestartMissingSession(t *testing.T) {
	client := &launcher.Client{Command: fakeLauncher(t, "echo pid=99")}
	_, err := client.Restart(context.Background(), launcher.Spawn{Worker: "w1"})
	if err == nil || !strings.Contains(err.Error(), "no session") {
		t.Fatalf("err = %v, want missing-session error", err)
	}
}

func TestRestartTimeout(t *testing.T) {
	client := &launcher.Client{
		Command: fakeLauncher(t, "sleep 10"),
		Timeout: 100 * time.Millisecond,
	}
	_, err := client.Restart(context.Background(), launcher.Spawn{Worker: "w1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
