// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package recovery decides what happens after a worker crash.
//
// The manager keeps an append-only crash history per worker and
// rate-limits automatic restarts over a sliding window: a worker that
// crashes more than the configured maximum number of times within the
// window gets its restarts suppressed until enough records age out of
// the trailing window. The window reset is implicit — no manual
// intervention is needed for a stabilized worker to regain restart
// eligibility.
//
// The manager is pure decision-making: it never executes restarts or
// clears assignments itself. The dispatcher runs those side effects
// (launcher and task-queue commands, each under its own timeout) and
// reports the outcomes back, which the manager records against the
// crash history. A failed side effect is visible in the record, never
// fatal to the pipeline.
//
// Like the tracked-file registry, the manager is owned by the
// dispatcher's apply step and is not safe for concurrent use.
package recovery

import (
	"fmt"
	"time"

	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/lib/clock"
	"github.com/deckhand-project/deckhand/worker"
)

// Reason is the crash cause, drawn from the crash-qualifying health
// verdicts.
type Reason string

const (
	ReasonProcessGone Reason = "process-gone"
	ReasonSessionGone Reason = "session-gone"
)

// ReasonFromVerdict maps a crash-qualifying verdict kind to a Reason.
// Panics on non-crash kinds: callers gate on Kind.Crash() first.
func ReasonFromVerdict(kind health.Kind) Reason {
	switch kind {
	case health.ProcessGone:
		return ReasonProcessGone
	case health.SessionGone:
		return ReasonSessionGone
	}
	panic(fmt.Sprintf("recovery: %v is not a crash verdict", kind))
}

// Record is one crash occurrence. Append-only per worker; side-effect
// outcomes are filled in as they are reported.
type Record struct {
	Worker worker.ID `json:"worker"`
	Time   time.Time `json:"time"`
	Reason Reason    `json:"reason"`
	PID    int       `json:"pid"`

	AssignmentCleared bool   `json:"assignment_cleared"`
	ClearFailure      string `json:"clear_failure,omitempty"`
	RestartAttempted  bool   `json:"restart_attempted"`
	RestartFailure    string `json:"restart_failure,omitempty"`
}

// DecisionKind is the outcome of the rate-limiting evaluation.
type DecisionKind int

const (
	// Restart: attempt an automatic restart via the launcher.
	Restart DecisionKind = iota
	// NotifyOnly: surface the crash to the operator without
	// restarting — either auto-restart is disabled or the crash
	// window is exhausted.
	NotifyOnly
)

func (k DecisionKind) String() string {
	if k == Restart {
		return "restart"
	}
	return "notify-only"
}

// Decision is the instruction set emitted for one crash.
type Decision struct {
	Worker worker.ID
	Kind   DecisionKind
	Reason Reason

	// ClearAssignment instructs the dispatcher to release the
	// worker's task back to the queue. Set whenever the worker had a
	// task and clearing is enabled, independent of Kind — a
	// suppressed restart still frees the task for other workers.
	ClearAssignment bool
	Task            string

	// WindowCount is how many crashes (including this one) fall
	// within the trailing window; surfaced to the operator.
	WindowCount int
}

// Config carries the recovery policy knobs.
type Config struct {
	// Window is the trailing duration over which crashes are
	// counted.
	Window time.Duration
	// MaxCrashes is the largest in-window crash count that still
	// permits an automatic restart.
	MaxCrashes int
	// AutoRestart enables restart attempts; independent of the
	// window gate, either being false suppresses the restart.
	AutoRestart bool
	// ClearAssignments enables releasing a crashed worker's task.
	ClearAssignments bool
}

// DefaultConfig matches the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		Window:           10 * time.Minute,
		MaxCrashes:       3,
		AutoRestart:      true,
		ClearAssignments: true,
	}
}

// Manager implements the crash state machine per worker:
// NoCrash → CrashDetected → {RestartAttempted | RestartSuppressed} →
// back to NoCrash once a Healthy verdict is observed.
type Manager struct {
	config  Config
	clock   clock.Clock
	store   *Store
	history map[worker.ID][]Record

	// inCrash marks workers whose crash has been handled but not yet
	// resolved by a Healthy observation; repeat crash verdicts for
	// the same incident are ignored rather than re-counted every
	// health cycle.
	inCrash map[worker.ID]bool
}

// NewManager builds a manager. A non-nil store is loaded immediately
// so rate limiting survives dashboard restarts; a missing state file
// is a normal first run.
func NewManager(config Config, clk clock.Clock, store *Store) (*Manager, error) {
	if clk == nil {
		clk = clock.Real()
	}
	manager := &Manager{
		config:  config,
		clock:   clk,
		store:   store,
		history: make(map[worker.ID][]Record),
		inCrash: make(map[worker.ID]bool),
	}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading crash history: %w", err)
		}
		manager.history = loaded
	}
	return manager, nil
}

// HandleCrash records a crash and evaluates the restart policy.
// Returns ok=false when the worker is already in a handled crash
// state (the same incident reported by consecutive health cycles);
// no new record is appended in that case.
func (m *Manager) HandleCrash(snapshot worker.Snapshot, reason Reason) (decision Decision, ok bool) {
	id := snapshot.Worker
	if m.inCrash[id] {
		return Decision{}, false
	}
	m.inCrash[id] = true

	now := m.clock.Now()
	m.history[id] = append(m.pruned(id, now), Record{
		Worker: id,
		Time:   now,
		Reason: reason,
		PID:    snapshot.PID,
	})
	windowCount := len(m.history[id])

	decision = Decision{
		Worker:          id,
		Reason:          reason,
		Task:            snapshot.Task,
		WindowCount:     windowCount,
		ClearAssignment: m.config.ClearAssignments && snapshot.Task != "",
	}
	if m.config.AutoRestart && windowCount <= m.config.MaxCrashes {
		decision.Kind = Restart
	} else {
		decision.Kind = NotifyOnly
	}

	m.persist()
	return decision, true
}

// ObserveHealthy resolves a worker's crash incident: the next crash
// verdict starts a new incident.
func (m *Manager) ObserveHealthy(id worker.ID) {
	delete(m.inCrash, id)
}

// InCrash reports whether a worker has an unresolved crash incident.
func (m *Manager) InCrash(id worker.ID) bool { return m.inCrash[id] }

// WindowCount returns how many crash records fall within the trailing
// window ending now.
func (m *Manager) WindowCount(id worker.ID, now time.Time) int {
	count := 0
	for _, record := range m.history[id] {
		if now.Sub(record.Time) <= m.config.Window {
			count++
		}
	}
	return count
}

// History returns a copy of a worker's crash records, oldest first.
func (m *Manager) History(id worker.ID) []Record {
	records := m.history[id]
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// RecordClearOutcome notes the result of the clear-assignment side
// effect against the worker's latest crash record. A failure is
// recorded, not escalated.
func (m *Manager) RecordClearOutcome(id worker.ID, err error) {
	record := m.latest(id)
	if record == nil {
		return
	}
	if err != nil {
		record.ClearFailure = err.Error()
	} else {
		record.AssignmentCleared = true
	}
	m.persist()
}

// RecordRestartOutcome notes the result of the restart side effect
// against the worker's latest crash record.
func (m *Manager) RecordRestartOutcome(id worker.ID, err error) {
	record := m.latest(id)
	if record == nil {
		return
	}
	record.RestartAttempted = true
	if err != nil {
		record.RestartFailure = err.Error()
	}
	m.persist()
}

// SetAutoRestart toggles the restart gate at runtime (operator
// keybinding).
func (m *Manager) SetAutoRestart(enabled bool) { m.config.AutoRestart = enabled }

// AutoRestart reports the current restart gate.
func (m *Manager) AutoRestart() bool { return m.config.AutoRestart }

// pruned returns the worker's history with records older than the
// window dropped. Aging records out here is what makes the window
// reset implicit.
func (m *Manager) pruned(id worker.ID, now time.Time) []Record {
	var kept []Record
	for _, record := range m.history[id] {
		if now.Sub(record.Time) <= m.config.Window {
			kept = append(kept, record)
		}
	}
	return kept
}

func (m *Manager) latest(id worker.ID) *Record {
	records := m.history[id]
	if len(records) == 0 {
		return nil
	}
	return &records[len(records)-1]
}

// persist saves the history when a store is configured. Persistence
// failure degrades to in-memory rate limiting; it must not block the
// decision pipeline.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	_ = m.store.Save(m.history)
}
