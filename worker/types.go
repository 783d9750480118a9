// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker defines the core records Deckhand keeps about
// supervised workers, and the interpreters that produce them from the
// status and log files workers write.
//
// Workers are opaque: Deckhand never inspects what a worker is doing,
// only the files it writes and whether its process and tmux session
// still exist.
package worker

import "time"

// ID identifies a worker. Opaque, globally unique among active
// workers, and the key for every other record in the system. For
// file-reported workers the ID is the status file's base name.
type ID string

// Lifecycle is the status a worker reports about itself in its status
// file.
type Lifecycle string

const (
	Spawning Lifecycle = "spawning"
	Active   Lifecycle = "active"
	Idle     Lifecycle = "idle"
	Failed   Lifecycle = "failed"
	Stopped  Lifecycle = "stopped"
)

// known reports whether l is one of the defined lifecycle values.
func (l Lifecycle) known() bool {
	switch l {
	case Spawning, Active, Idle, Failed, Stopped:
		return true
	}
	return false
}

// Snapshot is the last-parsed contents of a worker's status file.
// Snapshots are immutable: each status file change produces a fresh
// value, replacing the previous one wholesale.
//
// A snapshot with Corrupted set records that the status file existed
// but could not be parsed; the UI shows that state rather than
// silently dropping the worker. Identity fields carried over from the
// last good parse (PID, session) may still be populated by the
// dispatcher's merge step so liveness checks keep working.
type Snapshot struct {
	Worker       ID
	Status       Lifecycle
	PID          int
	Session      string
	LastActivity time.Time
	Task         string

	// Metadata holds every status-file field Deckhand does not
	// recognize, passed through untouched for display. Keeps the
	// interpreter forward-compatible with worker types it has never
	// seen.
	Metadata map[string]any

	// Corrupted marks a snapshot whose status file failed structured
	// parsing; Reason says why.
	Corrupted bool
	Reason    string

	// ReadAt is when Deckhand read the status file, used to order
	// independent updates for the same worker.
	ReadAt time.Time
}

// LogEntry is one parsed line from a worker's log file.
type LogEntry struct {
	Time    time.Time
	Level   string
	Worker  ID
	Message string
	Event   string
	Task    string

	// Fields holds unrecognized keys from structured lines.
	Fields map[string]string

	// Raw is the original line, kept for display.
	Raw string
}
