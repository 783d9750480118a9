// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"sort"
	"time"

	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/worker"
)

// logRingSize bounds the retained log entries across all workers.
const logRingSize = 500

// alertRingSize bounds the retained alerts.
const alertRingSize = 100

// AlertLevel grades an alert for display.
type AlertLevel int

const (
	AlertInfo AlertLevel = iota
	AlertWarning
	AlertError
)

func (l AlertLevel) String() string {
	switch l {
	case AlertInfo:
		return "info"
	case AlertWarning:
		return "warning"
	}
	return "error"
}

// Alert is one operator-visible notification: crashes, suppressed
// restarts, degraded watching, failed side effects, chat outcomes.
type Alert struct {
	Level   AlertLevel
	Worker  worker.ID
	Message string
	At      time.Time
}

// WorkerState is everything the UI shows about one worker: the latest
// snapshot, the latest health verdict, and the recovery posture.
type WorkerState struct {
	Snapshot worker.Snapshot

	Health       health.Kind
	StaleFor     time.Duration
	HealthReason string

	// CrashCount is the in-window crash count from the last recovery
	// evaluation; RestartSuppressed marks a worker whose window is
	// exhausted.
	CrashCount        int
	RestartSuppressed bool
}

// View is an immutable copy of the application state, published after
// every applied event. Background readers (the health monitor, the UI)
// take the current view; they never see state mid-mutation.
type View struct {
	// Workers is sorted by worker ID for stable display.
	Workers []WorkerState

	// Logs are the most recent parsed entries, oldest first.
	Logs []worker.LogEntry

	// Alerts are the most recent notifications, oldest first.
	Alerts []Alert

	// ParseErrors is the total count of malformed log lines seen.
	ParseErrors int

	// WatcherDegraded is set when file watching fell back to interval
	// scanning.
	WatcherDegraded bool

	// AutoRestart is the current state of the restart gate.
	AutoRestart bool

	GeneratedAt time.Time
}

// state is the loop's mutable application state. Only the apply step
// touches it.
type state struct {
	workers     map[worker.ID]*WorkerState
	logs        []worker.LogEntry
	alerts      []Alert
	parseErrors int
	degraded    bool
}

func newState() *state {
	return &state{workers: make(map[worker.ID]*WorkerState)}
}

func (s *state) worker(id worker.ID) *WorkerState {
	if ws, ok := s.workers[id]; ok {
		return ws
	}
	ws := &WorkerState{Health: health.Healthy}
	s.workers[id] = ws
	return ws
}

func (s *state) appendLogs(entries []worker.LogEntry) {
	s.logs = append(s.logs, entries...)
	if len(s.logs) > logRingSize {
		s.logs = s.logs[len(s.logs)-logRingSize:]
	}
}

func (s *state) alert(level AlertLevel, id worker.ID, message string, at time.Time) {
	s.alerts = append(s.alerts, Alert{Level: level, Worker: id, Message: message, At: at})
	if len(s.alerts) > alertRingSize {
		s.alerts = s.alerts[len(s.alerts)-alertRingSize:]
	}
}

// snapshot builds an immutable View from the current state.
func (s *state) snapshot(autoRestart bool, now time.Time) *View {
	view := &View{
		Workers:         make([]WorkerState, 0, len(s.workers)),
		Logs:            append([]worker.LogEntry(nil), s.logs...),
		Alerts:          append([]Alert(nil), s.alerts...),
		ParseErrors:     s.parseErrors,
		WatcherDegraded: s.degraded,
		AutoRestart:     autoRestart,
		GeneratedAt:     now,
	}
	for _, ws := range s.workers {
		view.Workers = append(view.Workers, *ws)
	}
	sort.Slice(view.Workers, func(i, j int) bool {
		return view.Workers[i].Snapshot.Worker < view.Workers[j].Snapshot.Worker
	})
	return view
}
