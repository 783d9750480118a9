// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch is the concurrency core: a single-threaded event
// loop that merges every asynchronous source — filesystem
// notifications, health verdicts, recovery side-effect outcomes, chat
// deliveries, operator input — into one ordered stream and applies
// exactly one event to application state per iteration.
//
// The single-writer rule: the tracked-file registry, the recovery
// manager, and the worker table are owned exclusively by the apply
// step. Background goroutines request changes by posting events and
// read state only through the immutable View published after each
// applied event. No locks guard worker or crash state; there is
// nothing to lock.
//
// Errors below fatal never unwind the loop. A transient read failure,
// a malformed line, a dead worker, a timed-out launcher — each is
// absorbed into an observable state change (a warning, a counter, a
// crash record field) and the loop keeps running.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/deckhand-project/deckhand/chat"
	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/launcher"
	"github.com/deckhand-project/deckhand/lib/clock"
	"github.com/deckhand-project/deckhand/recovery"
	"github.com/deckhand-project/deckhand/track"
	"github.com/deckhand-project/deckhand/worker"
)

// DefaultRenderBudget is the minimum interval between redraws. State
// can change far faster than the screen needs to repaint.
const DefaultRenderBudget = 100 * time.Millisecond

// DefaultPollTimeout bounds how long one iteration blocks waiting for
// an event, so the render budget is honored even when sources are
// quiet.
const DefaultPollTimeout = 50 * time.Millisecond

// AssignmentClearer releases a task back to the external queue.
// Implemented by taskq.Client.
type AssignmentClearer interface {
	ClearAssignment(ctx context.Context, task string) error
}

// Restarter spawns a replacement worker. Implemented by
// launcher.Client.
type Restarter interface {
	Restart(ctx context.Context, spawn launcher.Spawn) (launcher.Result, error)
}

// Asker sends a prompt to a worker's agent. Implemented by
// chat.Client.
type Asker interface {
	Ask(session, prompt string, deliver func(chat.Answer)) error
}

// Config wires the loop's collaborators. Registry and Recovery
// default to fresh instances; nil side-effect clients disable the
// corresponding side effect (the decision is still recorded).
type Config struct {
	Registry *track.Registry
	Recovery *recovery.Manager

	Queue    AssignmentClearer
	Launcher Restarter
	Chat     Asker

	// Processes, when set, is used for the one-shot liveness re-check
	// before a crash's side effects run. A transient probe failure
	// must not cost a live worker its task assignment.
	Processes health.ProcessProber

	Clock  clock.Clock
	Logger *slog.Logger

	// Render, when set, is called with the current view at most once
	// per RenderBudget while state is dirty.
	Render       func(View)
	RenderBudget time.Duration
	PollTimeout  time.Duration
}

// Loop is the event dispatcher.
type Loop struct {
	config Config

	events  chan Event
	input   chan Event
	queued  []Event
	stopped chan struct{}

	state      *state
	view       atomic.Pointer[View]
	dirty      bool
	lastRender time.Time
	quit       bool
	forced     bool
}

// ErrForcedQuit is returned by Run when the operator force-quit:
// the caller should skip graceful shutdown of everything else too.
var ErrForcedQuit = errors.New("forced quit")

// New builds a loop. Call Run to start it; Post and PostInput are
// safe from any goroutine from the moment New returns.
func New(config Config) *Loop {
	if config.Registry == nil {
		config.Registry = track.NewRegistry()
	}
	if config.Recovery == nil {
		config.Recovery, _ = recovery.NewManager(recovery.DefaultConfig(), config.Clock, nil)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RenderBudget <= 0 {
		config.RenderBudget = DefaultRenderBudget
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}

	loop := &Loop{
		config:  config,
		events:  make(chan Event, 256),
		input:   make(chan Event, 16),
		stopped: make(chan struct{}),
		state:   newState(),
	}
	loop.publish()
	return loop
}

// Post delivers an event from a background source. Blocks if the loop
// is saturated; returns immediately once the loop has stopped, so
// straggler goroutines never leak.
func (l *Loop) Post(event Event) {
	select {
	case l.events <- event:
	case <-l.stopped:
	}
}

// PostInput delivers operator input. Input is consumed ahead of
// source events each iteration so the interface stays responsive
// under heavy background volume.
func (l *Loop) PostInput(event Event) {
	select {
	case l.input <- event:
	case <-l.stopped:
	}
}

// View returns the most recently published view.
func (l *Loop) View() View { return *l.view.Load() }

// Snapshots returns the latest worker snapshots. This is the health
// monitor's read path; it sees the published view, never state
// mid-mutation.
func (l *Loop) Snapshots() []worker.Snapshot {
	view := l.view.Load()
	snapshots := make([]worker.Snapshot, 0, len(view.Workers))
	for _, ws := range view.Workers {
		snapshots = append(snapshots, ws.Snapshot)
	}
	return snapshots
}

// Run dispatches until a Quit event or context cancellation. Exactly
// one event is applied per iteration; a redraw happens only when
// state is dirty and the render budget has elapsed.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	for {
		event, ok := l.next(ctx)
		if !ok {
			return ctx.Err()
		}
		if event != nil {
			l.apply(ctx, event)
			l.dirty = true
			l.publish()
		}
		if l.quit {
			if l.forced {
				return ErrForcedQuit
			}
			return nil
		}
		l.maybeRender()
	}
}

// next returns the next event to apply, or nil on poll timeout (the
// iteration still gets a render check). Priority order: operator
// input, then self-posted internal events, then source events.
func (l *Loop) next(ctx context.Context) (Event, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case event := <-l.input:
		return event, true
	default:
	}

	if len(l.queued) > 0 {
		event := l.queued[0]
		l.queued = l.queued[1:]
		return event, true
	}

	select {
	case <-ctx.Done():
		return nil, false
	case event := <-l.input:
		return event, true
	case event := <-l.events:
		return event, true
	case <-l.config.Clock.After(l.config.PollTimeout):
		return nil, true
	}
}

// enqueue self-posts an event produced by the apply step itself.
// Internal events keep their production order and are applied before
// any new source event.
func (l *Loop) enqueue(event Event) {
	l.queued = append(l.queued, event)
}

func (l *Loop) publish() {
	now := l.config.Clock.Now()
	l.view.Store(l.state.snapshot(l.config.Recovery.AutoRestart(), now))
}

func (l *Loop) maybeRender() {
	if !l.dirty || l.config.Render == nil {
		return
	}
	now := l.config.Clock.Now()
	if now.Sub(l.lastRender) < l.config.RenderBudget {
		return
	}
	l.config.Render(*l.view.Load())
	l.lastRender = now
	l.dirty = false
}

// apply mutates state for exactly one event. This is the only place
// in the program where worker state, the registry, or crash history
// change.
func (l *Loop) apply(ctx context.Context, event Event) {
	now := l.config.Clock.Now()

	switch e := event.(type) {
	case FileChanged:
		l.applyFileChanged(e, now)

	case WatcherDegraded:
		l.state.degraded = true
		l.state.alert(AlertWarning, "", fmt.Sprintf("file watching degraded to interval scanning: %v", e.Err), now)
		l.config.Logger.Warn("watcher degraded", "error", e.Err)

	case SnapshotUpdated:
		l.applySnapshot(e.Snapshot, now)

	case LogParsed:
		l.state.appendLogs(e.Entries)
		l.state.parseErrors += len(e.Malformed)

	case WorkerDelisted:
		delete(l.state.workers, e.Worker)
		l.state.alert(AlertInfo, e.Worker, "status file removed; worker delisted", now)

	case VerdictReceived:
		l.applyVerdict(ctx, e.Verdict, now)

	case SideEffectResult:
		l.applySideEffect(e, now)

	case FalseAlarm:
		l.config.Recovery.ObserveHealthy(e.Worker)
		l.state.alert(AlertWarning, e.Worker, "crash not confirmed on re-check; worker left running", now)

	case ChatDelivered:
		if e.Answer.Err != nil {
			l.state.alert(AlertError, "", fmt.Sprintf("agent request failed: %v", e.Answer.Err), now)
		} else {
			l.state.alert(AlertInfo, "", fmt.Sprintf("agent reply (%s): %s", e.Answer.Session, e.Answer.Text), now)
		}

	case AskAgent:
		l.applyAsk(e, now)

	case ToggleAutoRestart:
		enabled := !l.config.Recovery.AutoRestart()
		l.config.Recovery.SetAutoRestart(enabled)
		l.state.alert(AlertInfo, "", fmt.Sprintf("auto-restart %s", onOff(enabled)), now)

	case ManualRestart:
		l.applyManualRestart(ctx, e, now)

	case Quit:
		l.quit = true
		l.forced = e.Force
	}
}

// applyFileChanged classifies the path and self-posts the resulting
// logical events. All file I/O for tracked files happens here, inside
// the apply step that owns the registry.
func (l *Loop) applyFileChanged(e FileChanged, now time.Time) {
	fileEvents, err := l.config.Registry.Classify(e.Path, e.Kind, now)
	if err != nil {
		// Transient; the next notification retries.
		l.config.Logger.Warn("classify failed", "path", e.Path, "error", err)
		return
	}

	id := workerIDForPath(e.Path)
	for _, fileEvent := range fileEvents {
		switch {
		case fileEvent.Kind == track.KindStatus && fileEvent.Op == track.OpRemoved:
			l.enqueue(WorkerDelisted{Worker: id})

		case fileEvent.Kind == track.KindStatus:
			l.enqueue(SnapshotUpdated{Snapshot: worker.ParseSnapshot(id, fileEvent.Data, now)})

		case fileEvent.Kind == track.KindLog && fileEvent.Op != track.OpRemoved:
			entries, malformed := worker.ParseLogChunk(fileEvent.Data)
			if file := l.config.Registry.File(e.Path); file != nil {
				for _, lineError := range malformed {
					file.RecordParseError(lineError.Line, lineError.Err.Error(), now)
				}
			}
			for i := range entries {
				if entries[i].Worker == "" {
					entries[i].Worker = id
				}
			}
			l.enqueue(LogParsed{Path: e.Path, Worker: id, Entries: entries, Malformed: malformed})
		}
	}
}

// applySnapshot merges a parsed snapshot into the worker table. A
// corrupted parse keeps the previous identity fields so liveness
// checks keep working.
func (l *Loop) applySnapshot(snapshot worker.Snapshot, now time.Time) {
	ws := l.state.worker(snapshot.Worker)
	previous := ws.Snapshot
	ws.Snapshot = worker.Merge(previous, snapshot)

	if ws.Snapshot.Corrupted && !previous.Corrupted {
		l.state.alert(AlertWarning, snapshot.Worker,
			fmt.Sprintf("status file unreadable: %s", ws.Snapshot.Reason), now)
	}
}

// applyVerdict folds one health verdict into worker state and routes
// crash-qualifying verdicts into recovery.
func (l *Loop) applyVerdict(ctx context.Context, verdict health.Verdict, now time.Time) {
	// Removal bookkeeping piggybacks on the health cadence.
	l.config.Registry.PurgeRemoved(now)

	ws, known := l.state.workers[verdict.Worker]
	if !known {
		return
	}
	// A verdict computed against a superseded PID is stale: a fresher
	// snapshot (a restart) has already replaced the process the
	// verdict examined. Discarding it is what makes verdict and
	// snapshot application order-independent.
	if verdict.PID != ws.Snapshot.PID {
		return
	}

	ws.Health = verdict.Kind
	ws.StaleFor = verdict.StaleFor
	ws.HealthReason = verdict.Reason
	ws.CrashCount = l.config.Recovery.WindowCount(verdict.Worker, now)

	switch {
	case verdict.Kind == health.Healthy:
		l.config.Recovery.ObserveHealthy(verdict.Worker)
		ws.RestartSuppressed = false

	case verdict.Kind.Crash():
		l.handleCrash(ctx, ws, verdict, now)
	}
}

// handleCrash runs the recovery decision and hands its side effects
// to a background goroutine. The goroutine reports back through
// events; the loop never blocks on external commands.
func (l *Loop) handleCrash(ctx context.Context, ws *WorkerState, verdict health.Verdict, now time.Time) {
	reason := recovery.ReasonFromVerdict(verdict.Kind)
	decision, fresh := l.config.Recovery.HandleCrash(ws.Snapshot, reason)
	if !fresh {
		return
	}

	ws.CrashCount = decision.WindowCount
	ws.RestartSuppressed = decision.Kind == recovery.NotifyOnly

	level := AlertError
	message := fmt.Sprintf("crashed (%s); restarting (crash %d in window)", reason, decision.WindowCount)
	if decision.Kind == recovery.NotifyOnly {
		message = fmt.Sprintf("crashed (%s); restart suppressed (crash %d in window)", reason, decision.WindowCount)
	}
	l.state.alert(level, verdict.Worker, message, now)
	l.config.Logger.Error("worker crashed",
		"worker", verdict.Worker, "reason", string(reason),
		"decision", decision.Kind.String(), "window_count", decision.WindowCount)

	go l.runSideEffects(ctx, decision, ws.Snapshot)
}

// runSideEffects executes a crash decision's external commands off
// the loop. Before touching anything it re-checks liveness once: a
// transient probe failure must not clear a live worker's assignment.
func (l *Loop) runSideEffects(ctx context.Context, decision recovery.Decision, snapshot worker.Snapshot) {
	if l.config.Processes != nil && snapshot.PID > 0 && decision.Reason == recovery.ReasonProcessGone {
		if alive, err := l.config.Processes.ProcessAlive(ctx, snapshot.PID); err == nil && alive {
			l.Post(FalseAlarm{Worker: decision.Worker})
			return
		}
	}

	if decision.ClearAssignment && l.config.Queue != nil {
		err := l.config.Queue.ClearAssignment(ctx, decision.Task)
		l.Post(SideEffectResult{Worker: decision.Worker, Action: ActionClearAssignment, Err: err})
	}

	if decision.Kind == recovery.Restart && l.config.Launcher != nil {
		result, err := l.config.Launcher.Restart(ctx, spawnFor(snapshot))
		l.Post(SideEffectResult{
			Worker:     decision.Worker,
			Action:     ActionRestart,
			Err:        err,
			NewPID:     result.PID,
			NewSession: result.Session,
		})
	}
}

// applySideEffect records a side-effect outcome against the crash
// history and, for a successful restart, adopts the new identity
// until the replacement's first status write lands.
func (l *Loop) applySideEffect(result SideEffectResult, now time.Time) {
	switch result.Action {
	case ActionClearAssignment:
		l.config.Recovery.RecordClearOutcome(result.Worker, result.Err)
		if result.Err != nil {
			l.state.alert(AlertWarning, result.Worker,
				fmt.Sprintf("failed to clear assignment: %v", result.Err), now)
		}

	case ActionRestart:
		l.config.Recovery.RecordRestartOutcome(result.Worker, result.Err)
		if result.Err != nil {
			l.state.alert(AlertError, result.Worker,
				fmt.Sprintf("restart failed: %v", result.Err), now)
			return
		}
		if ws, known := l.state.workers[result.Worker]; known {
			ws.Snapshot.PID = result.NewPID
			ws.Snapshot.Session = result.NewSession
			ws.Snapshot.Status = worker.Spawning
			ws.Snapshot.LastActivity = now
			ws.Snapshot.ReadAt = now
		}
		l.state.alert(AlertInfo, result.Worker,
			fmt.Sprintf("restarted (pid %d, session %s)", result.NewPID, result.NewSession), now)
	}
}

func (l *Loop) applyAsk(e AskAgent, now time.Time) {
	ws, known := l.state.workers[e.Worker]
	if !known || ws.Snapshot.Session == "" {
		l.state.alert(AlertWarning, e.Worker, "no session to talk to", now)
		return
	}
	if l.config.Chat == nil {
		l.state.alert(AlertWarning, e.Worker, "chat backend not configured", now)
		return
	}
	err := l.config.Chat.Ask(ws.Snapshot.Session, e.Prompt, func(answer chat.Answer) {
		l.Post(ChatDelivered{Answer: answer})
	})
	if err != nil {
		l.state.alert(AlertWarning, e.Worker, fmt.Sprintf("agent request rejected: %v", err), now)
	}
}

func (l *Loop) applyManualRestart(ctx context.Context, e ManualRestart, now time.Time) {
	ws, known := l.state.workers[e.Worker]
	if !known || l.config.Launcher == nil {
		l.state.alert(AlertWarning, e.Worker, "cannot restart: unknown worker or no launcher", now)
		return
	}
	l.state.alert(AlertInfo, e.Worker, "manual restart requested", now)
	snapshot := ws.Snapshot
	go func() {
		result, err := l.config.Launcher.Restart(ctx, spawnFor(snapshot))
		l.Post(SideEffectResult{
			Worker:     e.Worker,
			Action:     ActionRestart,
			Err:        err,
			NewPID:     result.PID,
			NewSession: result.Session,
		})
	}()
}

// spawnFor assembles launcher arguments from a snapshot's identity
// and metadata.
func spawnFor(snapshot worker.Snapshot) launcher.Spawn {
	return launcher.Spawn{
		Worker:    string(snapshot.Worker),
		Model:     metadataString(snapshot, "model"),
		Workspace: metadataString(snapshot, "workspace"),
		Session:   snapshot.Session,
	}
}

func metadataString(snapshot worker.Snapshot, key string) string {
	value, _ := snapshot.Metadata[key].(string)
	return value
}

// workerIDForPath derives the worker ID from a tracked file's base
// name: status/w1.json and logs/w1.log both belong to worker w1.
func workerIDForPath(path string) worker.ID {
	base := filepath.Base(path)
	return worker.ID(strings.TrimSuffix(base, filepath.Ext(base)))
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
