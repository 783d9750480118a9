// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package proc answers one question: is a process ID currently alive?
//
// The check uses kill(pid, 0), which delivers no signal but performs
// the full permission and existence checks. EPERM means the process
// exists but belongs to another user — alive for supervision
// purposes. ESRCH means no such process.
package proc

import (
	"context"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given PID exists. PIDs
// that are zero or negative never correspond to a supervised worker
// and report false.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}

// Prober adapts Alive to the health monitor's time-bounded probe
// interface. The syscall itself cannot block, so the context exists
// for interface symmetry with probes that shell out; it is checked
// once so a cancelled health cycle stops promptly.
type Prober struct{}

// ProcessAlive implements health.ProcessProber.
func (Prober) ProcessAlive(ctx context.Context, pid int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return Alive(pid), nil
}
