// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package health evaluates worker liveness on a fixed cadence.
//
// The monitor runs on its own ticker rather than reacting to status
// file writes, so health semantics stay decoupled from I/O timing: a
// worker that stops writing is exactly the case the monitor exists to
// catch. Each cycle produces exactly one verdict per known worker.
//
// Liveness is inferred from weak signals: does the recorded PID still
// exist, does the hosting tmux session still exist, how old is the
// last-activity timestamp, did the last status read parse. Only the
// first two qualify as crash signals; a slow-but-alive worker (Stale)
// or an unreadable status file (Corrupted) is surfaced as a warning,
// never auto-restarted.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/deckhand-project/deckhand/lib/clock"
	"github.com/deckhand-project/deckhand/worker"
)

// Kind is the verdict variant for one worker in one check cycle.
type Kind int

const (
	// Healthy: all rules passed.
	Healthy Kind = iota
	// Stale: no activity update for longer than the configured
	// threshold. A warning, not a crash.
	Stale
	// ProcessGone: no OS process exists with the recorded PID.
	ProcessGone
	// SessionGone: the hosting tmux session no longer exists.
	SessionGone
	// Corrupted: the last status read failed structured parsing.
	Corrupted
)

func (k Kind) String() string {
	switch k {
	case Healthy:
		return "healthy"
	case Stale:
		return "stale"
	case ProcessGone:
		return "process-gone"
	case SessionGone:
		return "session-gone"
	case Corrupted:
		return "corrupted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Crash reports whether this verdict qualifies for crash recovery.
func (k Kind) Crash() bool { return k == ProcessGone || k == SessionGone }

// Verdict is the health result for one worker in one cycle. Verdicts
// are not retained across cycles except inside crash history.
type Verdict struct {
	Worker worker.ID
	Kind   Kind

	// StaleFor is how long since the last activity update; only
	// meaningful for Stale.
	StaleFor time.Duration

	// Reason carries detail for Corrupted verdicts.
	Reason string

	// PID is the process id the verdict was computed against. The
	// dispatcher uses it to discard verdicts that a fresher snapshot
	// (new PID after a restart) has already superseded.
	PID int

	CheckedAt time.Time
}

// ProcessProber answers whether a process id is currently alive.
// Implemented by lib/proc for the local machine.
type ProcessProber interface {
	ProcessAlive(ctx context.Context, pid int) (bool, error)
}

// SessionProber answers whether a named session exists. Implemented
// by lib/tmux.
type SessionProber interface {
	SessionExists(ctx context.Context, name string) (bool, error)
}

// DefaultInterval is the default check cadence.
const DefaultInterval = 5 * time.Second

// DefaultStaleAfter is the default staleness threshold.
const DefaultStaleAfter = 2 * time.Minute

// DefaultProbeTimeout bounds each individual liveness probe so one
// unresponsive check cannot stall the cycle for other workers.
const DefaultProbeTimeout = 2 * time.Second

// Monitor evaluates every known worker on a fixed cadence.
type Monitor struct {
	// Snapshots returns a stable view of the latest worker
	// snapshots, provided by the dispatcher (a read-only copy; the
	// monitor never writes worker state).
	Snapshots func() []worker.Snapshot

	// Emit delivers one verdict. Implementations post an event to
	// the dispatcher; they must not block for long.
	Emit func(Verdict)

	Processes ProcessProber
	Sessions  SessionProber

	Clock        clock.Clock
	Interval     time.Duration
	StaleAfter   time.Duration
	ProbeTimeout time.Duration
}

// Run evaluates all workers every Interval until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.Clock == nil {
		m.Clock = clock.Real()
	}
	if m.Interval <= 0 {
		m.Interval = DefaultInterval
	}
	if m.StaleAfter <= 0 {
		m.StaleAfter = DefaultStaleAfter
	}
	if m.ProbeTimeout <= 0 {
		m.ProbeTimeout = DefaultProbeTimeout
	}

	ticker := m.Clock.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle produces one verdict per known worker.
func (m *Monitor) runCycle(ctx context.Context) {
	now := m.Clock.Now()
	for _, snapshot := range m.Snapshots() {
		verdict := m.Evaluate(ctx, snapshot, now)
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.Emit(verdict)
	}
}

// Evaluate applies the liveness rules in order; the first match wins:
//
//  1. recorded PID not alive            → ProcessGone
//  2. expected session missing          → SessionGone
//  3. last activity older than allowed  → Stale
//  4. last status read unparsable       → Corrupted
//  5. otherwise                         → Healthy
//
// Workers that reported Stopped are exempt: a deliberately stopped
// worker's missing process is not a crash.
//
// Probe failures (timeout, tmux wedged) fail open: the worker is
// presumed alive for this cycle. A transient lookup failure must not
// masquerade as a crash and trigger recovery against a live worker.
func (m *Monitor) Evaluate(ctx context.Context, snapshot worker.Snapshot, now time.Time) Verdict {
	verdict := Verdict{
		Worker:    snapshot.Worker,
		Kind:      Healthy,
		PID:       snapshot.PID,
		CheckedAt: now,
	}

	if snapshot.Status == worker.Stopped {
		return verdict
	}

	if snapshot.PID > 0 {
		if alive, err := m.probeProcess(ctx, snapshot.PID); err == nil && !alive {
			verdict.Kind = ProcessGone
			return verdict
		}
	}

	if snapshot.Session != "" {
		if exists, err := m.probeSession(ctx, snapshot.Session); err == nil && !exists {
			verdict.Kind = SessionGone
			return verdict
		}
	}

	if !snapshot.LastActivity.IsZero() {
		if elapsed := now.Sub(snapshot.LastActivity); elapsed > m.StaleAfter {
			verdict.Kind = Stale
			verdict.StaleFor = elapsed
			return verdict
		}
	}

	if snapshot.Corrupted {
		verdict.Kind = Corrupted
		verdict.Reason = snapshot.Reason
		return verdict
	}

	return verdict
}

func (m *Monitor) probeProcess(ctx context.Context, pid int) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
	defer cancel()
	return m.Processes.ProcessAlive(probeCtx, pid)
}

func (m *Monitor) probeSession(ctx context.Context, name string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
	defer cancel()
	return m.Sessions.SessionExists(probeCtx, name)
}
