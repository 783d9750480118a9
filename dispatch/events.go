// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/deckhand-project/deckhand/chat"
	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/track"
	"github.com/deckhand-project/deckhand/worker"
)

// Event is the closed set of causes for a state change or redraw.
// Every asynchronous source — watcher, health monitor, side-effect
// goroutines, chat deliveries, operator input — is funneled into the
// loop as one of these variants; nothing touches application state
// directly.
type Event interface{ isEvent() }

// FileChanged reports that a watched path may have changed. The apply
// step classifies it against the tracked-file registry to find out
// what actually happened.
type FileChanged struct {
	Path string
	Kind track.Kind
}

// WatcherDegraded reports that the OS watch mechanism failed to
// initialize and the watcher fell back to interval scanning.
type WatcherDegraded struct {
	Err error
}

// SnapshotUpdated carries a freshly parsed worker snapshot. Posted by
// the apply step itself after classifying a status-file change.
type SnapshotUpdated struct {
	Snapshot worker.Snapshot
}

// LogParsed carries the entries parsed from newly appended log bytes,
// in byte order, along with the lines that matched no known format.
type LogParsed struct {
	Path      string
	Worker    worker.ID
	Entries   []worker.LogEntry
	Malformed []worker.LineError
}

// WorkerDelisted reports that a worker's status file was removed.
type WorkerDelisted struct {
	Worker worker.ID
}

// VerdictReceived carries one health verdict from the monitor.
type VerdictReceived struct {
	Verdict health.Verdict
}

// Action names a recovery side effect executed outside the loop.
type Action int

const (
	// ActionClearAssignment released the crashed worker's task back
	// to the queue.
	ActionClearAssignment Action = iota
	// ActionRestart re-invoked the launcher.
	ActionRestart
)

func (a Action) String() string {
	if a == ActionClearAssignment {
		return "clear-assignment"
	}
	return "restart"
}

// SideEffectResult reports the outcome of one recovery side effect.
// NewPID and NewSession are only set for a successful restart.
type SideEffectResult struct {
	Worker     worker.ID
	Action     Action
	Err        error
	NewPID     int
	NewSession string
}

// FalseAlarm reports that the pre-side-effect liveness re-check found
// the supposedly crashed process still alive. The crash incident is
// resolved without touching the worker.
type FalseAlarm struct {
	Worker worker.ID
}

// ChatDelivered carries the outcome of an agent prompt.
type ChatDelivered struct {
	Answer chat.Answer
}

// AskAgent is operator input requesting a prompt be sent to a
// worker's agent.
type AskAgent struct {
	Worker worker.ID
	Prompt string
}

// ToggleAutoRestart is operator input flipping the auto-restart gate.
type ToggleAutoRestart struct{}

// ManualRestart is operator input forcing a restart regardless of the
// rate-limit window.
type ManualRestart struct {
	Worker worker.ID
}

// Quit ends the loop. Force skips graceful shutdown of the UI layer;
// the loop itself stops consuming either way.
type Quit struct {
	Force bool
}

func (FileChanged) isEvent()       {}
func (WatcherDegraded) isEvent()   {}
func (SnapshotUpdated) isEvent()   {}
func (LogParsed) isEvent()         {}
func (WorkerDelisted) isEvent()    {}
func (VerdictReceived) isEvent()   {}
func (SideEffectResult) isEvent()  {}
func (FalseAlarm) isEvent()        {}
func (ChatDelivered) isEvent()     {}
func (AskAgent) isEvent()          {}
func (ToggleAutoRestart) isEvent() {}
func (ManualRestart) isEvent()     {}
func (Quit) isEvent()              {}
