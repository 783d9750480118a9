// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package taskq_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deckhand-project/deckhand/taskq"
)

// fakeQueue writes an executable script standing in for the queue CLI
// and returns its path.
func fakeQueue(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing fake queue: %v", err)
	}
	return path
}

func TestClearAssignment(t *testing.T) {
	record := filepath.Join(t.TempDir(), "invocation")
	client := &taskq.Client{Command: fakeQueue(t, `echo "$@" > `+record)}

	if err := client.ClearAssignment(context.Background(), "T-42"); err != nil {
		t.Fatalf("ClearAssignment: %v", err)
	}
	invocation, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("reading invocation record: %v", err)
	}
	if got, want := string(invocation), "clear-assignment T-42\n"; got != want {
		t.Fatalf("queue invoked with %q, want %q", got, want)
	}
}

func TestClearAssignmentFailure(t *testing.T) {
	client := &taskq.Client{Command: fakeQueue(t, `echo "no such task" >&2; exit 1`)}
	err := client.ClearAssignment(context.Background(), "T-42")
	if err == nil {
		t.Fatal("non-zero exit not reported")
	}
}

func TestListAssignments(t *testing.T) {
	client := &taskq.Client{Command: fakeQueue(t, "echo T-1\necho\necho T-2")}
	tasks, err := client.ListAssignments(context.Background(), "w1")
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(tasks) != 2 || tasks[0] != "T-1" || tasks[1] != "T-2" {
		t.Fatalf("tasks = %v", tasks)
	}
}

func TestListAssignmentsEmpty(t *testing.T) {
	client := &taskq.Client{Command: fakeQueue(t, "exit 0")}
	tasks, err := client.ListAssignments(context.Background(), "w1")
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks = %v, want none", tasks)
	}
}

func TestTimeout(t *testing.T) {
	client := &taskq.Client{
		Command: fakeQueue(t, "sleep 10"),
		Timeout: 100 * time.Millisecond,
	}
	err := client.ClearAssignment(context.Background(), "T-42")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
