// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/deckhand-project/deckhand/lib/clock"
)

// Notification reports that a watched path may have changed. The
// watcher does no file I/O itself; the dispatcher's apply step runs
// Registry.Classify to find out what actually happened, preserving
// the single-writer ownership of the registry.
type Notification struct {
	Path string
	Kind Kind
}

// DefaultCoalesceWindow is how long the watcher holds a path's
// notification open so a burst of writes yields one logical event.
const DefaultCoalesceWindow = 100 * time.Millisecond

// DefaultScanInterval is the fallback re-scan cadence when the OS
// watch mechanism is unavailable. Materially slower than inotify;
// the degradation is reported through the fallback callback, never
// silent.
const DefaultScanInterval = 3 * time.Second

// Watcher watches the status and log directories and delivers
// coalesced change notifications.
type Watcher struct {
	StatusDir string
	LogDir    string

	// Notify receives coalesced notifications. Called from watcher
	// goroutines; implementations must only hand the notification
	// off (e.g. post an event), not do work inline.
	Notify func(Notification)

	// Fallback, if non-nil, is called once when the OS watch
	// mechanism could not be initialized and the watcher degraded to
	// interval scanning.
	Fallback func(err error)

	// Clock defaults to clock.Real(). CoalesceWindow and
	// ScanInterval default to the package constants.
	Clock          clock.Clock
	CoalesceWindow time.Duration
	ScanInterval   time.Duration

	mu      sync.Mutex
	pending map[string]*clock.Timer
	done    chan struct{}
}

// Run watches until the context is cancelled. It returns only after
// all watcher goroutines have stopped. Initialization failure of the
// OS watch mechanism is not fatal: the watcher reports the
// degradation via Fallback and switches to interval scanning.
func (w *Watcher) Run(ctx context.Context) {
	if w.Clock == nil {
		w.Clock = clock.Real()
	}
	if w.CoalesceWindow <= 0 {
		w.CoalesceWindow = DefaultCoalesceWindow
	}
	if w.ScanInterval <= 0 {
		w.ScanInterval = DefaultScanInterval
	}
	w.pending = make(map[string]*clock.Timer)
	w.done = make(chan struct{})
	defer close(w.done)
	defer w.stopPending()

	notifier, err := w.initNotifier()
	if err != nil {
		if w.Fallback != nil {
			w.Fallback(err)
		}
		w.scanLoop(ctx)
		return
	}
	defer notifier.Close()

	// Pick up files that existed before the watch was installed.
	// Ordering matters: scanning after the watch is in place means a
	// file that appears in between is seen either by the scan or by
	// an event, never missed.
	w.scanOnce(nil)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-notifier.Events:
			if !ok {
				return
			}
			w.handleFsnotify(event)
		case _, ok := <-notifier.Errors:
			if !ok {
				return
			}
			// Watch errors are transient; the next event or the
			// removal classification will catch up.
		}
	}
}

// initNotifier sets up fsnotify on both directories.
func (w *Watcher) initNotifier() (*fsnotify.Watcher, error) {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, directory := range []string{w.StatusDir, w.LogDir} {
		if err := notifier.Add(directory); err != nil {
			notifier.Close()
			return nil, err
		}
	}
	return notifier, nil
}

// handleFsnotify coalesces one raw OS event.
func (w *Watcher) handleFsnotify(event fsnotify.Event) {
	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&relevant == 0 {
		return
	}
	kind, watched := w.kindOf(event.Name)
	if !watched {
		return
	}
	w.schedule(Notification{Path: event.Name, Kind: kind})
}

// kindOf maps a path to its directory's kind. Paths outside both
// watched directories (including subdirectories) are ignored.
func (w *Watcher) kindOf(path string) (Kind, bool) {
	switch filepath.Dir(path) {
	case w.StatusDir:
		return KindStatus, true
	case w.LogDir:
		return KindLog, true
	}
	return 0, false
}

// schedule arms (or re-arms) the coalescing timer for a path. Bursts
// of raw events within the window collapse into one notification,
// delivered when the burst goes quiet.
func (w *Watcher) schedule(notification Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[notification.Path]; exists {
		timer.Reset(w.CoalesceWindow)
		return
	}
	w.pending[notification.Path] = w.Clock.AfterFunc(w.CoalesceWindow, func() {
		w.mu.Lock()
		delete(w.pending, notification.Path)
		w.mu.Unlock()
		w.Notify(notification)
	})
}

// stopPending cancels all armed coalescing timers on shutdown.
func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// scanLoop is the degraded mode: re-scan both directories on a fixed
// interval and notify for anything that changed since the previous
// scan.
func (w *Watcher) scanLoop(ctx context.Context) {
	previous := make(map[string]scanSignature)
	w.scanOnce(previous)

	ticker := w.Clock.NewTicker(w.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOnce(previous)
		}
	}
}

// scanSignature is the cheap change detector used by the fallback
// scanner.
type scanSignature struct {
	size    int64
	modTime time.Time
}

// scanOnce walks both directories. With a previous-scan map it
// notifies only for new, changed, or vanished paths; with a nil map
// it notifies for everything present (initial pickup).
func (w *Watcher) scanOnce(previous map[string]scanSignature) {
	seen := make(map[string]bool)
	for _, directory := range []string{w.StatusDir, w.LogDir} {
		kind := KindStatus
		if directory == w.LogDir {
			kind = KindLog
		}
		entries, err := os.ReadDir(directory)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(directory, entry.Name())
			seen[path] = true

			info, err := entry.Info()
			if err != nil {
				continue
			}
			signature := scanSignature{size: info.Size(), modTime: info.ModTime()}
			if previous == nil {
				w.Notify(Notification{Path: path, Kind: kind})
				continue
			}
			if prior, known := previous[path]; !known || prior != signature {
				previous[path] = signature
				w.Notify(Notification{Path: path, Kind: kind})
			}
		}
	}

	if previous == nil {
		return
	}
	for path := range previous {
		if !seen[path] {
			delete(previous, path)
			kind, watched := w.kindOf(path)
			if watched {
				w.Notify(Notification{Path: path, Kind: kind})
			}
		}
	}
}
