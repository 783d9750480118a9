// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package proc_test

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/deckhand-project/deckhand/lib/proc"
)

func TestAliveOwnProcess(t *testing.T) {
	if !proc.Alive(os.Getpid()) {
		t.Fatal("Alive reported the test process itself as dead")
	}
}

func TestAliveInvalidPIDs(t *testing.T) {
	if proc.Alive(0) {
		t.Fatal("Alive(0) = true")
	}
	if proc.Alive(-1) {
		t.Fatal("Alive(-1) = true")
	}
}

func TestAliveExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("running true: %v", err)
	}
	// The child has been reaped by Run, so its PID no longer exists
	// (modulo PID reuse, which is vanishingly unlikely within one
	// test run).
	if proc.Alive(cmd.Process.Pid) {
		t.Fatalf("Alive(%d) = true for an exited, reaped process", cmd.Process.Pid)
	}
}

func TestProberHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (proc.Prober{}).ProcessAlive(ctx, os.Getpid()); err == nil {
		t.Fatal("ProcessAlive ignored a cancelled context")
	}
}
