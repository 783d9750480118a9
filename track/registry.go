// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package track turns raw filesystem change notifications into logical
// per-file events.
//
// The Registry keeps one TrackedFile per watched path: the byte offset
// already consumed, a change signature (inode + size) that detects
// rotation even when offsets look plausible, and a bounded ring of
// recent parse errors. The Watcher (watcher.go) reports that a path
// changed; Classify stats and reads the file and decides what actually
// happened: Created, Appended, Rotated, or Removed.
//
// The Registry is not safe for concurrent use. It is owned by the
// event dispatcher and only ever touched from the single-threaded
// apply step; background goroutines request changes by sending events.
package track

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Kind says how a tracked file's bytes are interpreted.
type Kind int

const (
	// KindStatus files are small and rewritten wholesale; every
	// change re-reads the entire file.
	KindStatus Kind = iota
	// KindLog files are append-only; changes are consumed
	// incrementally, whole lines at a time.
	KindLog
)

// Op classifies a logical file event.
type Op int

const (
	// OpCreated: first sighting of a path (or reappearance after
	// removal). Data carries the initial content.
	OpCreated Op = iota
	// OpAppended: new bytes past the recorded offset. Data carries
	// the new complete lines (log) or the whole file (status).
	OpAppended
	// OpRotated: the file was truncated or replaced — size shrank
	// below the recorded offset or the inode changed. The offset has
	// been reset; Data carries the content parsed from the start.
	OpRotated
	// OpRemoved: the file disappeared. Reported once; a reappearance
	// within the grace period is a fresh OpCreated.
	OpRemoved
)

func (op Op) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpAppended:
		return "appended"
	case OpRotated:
		return "rotated"
	case OpRemoved:
		return "removed"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Event is one logical change to one tracked file.
type Event struct {
	Op   Op
	Path string
	Kind Kind
	Data []byte
}

// ParseError is one rejected line, kept in the tracked file's bounded
// ring so a stream of garbage cannot grow memory without bound.
type ParseError struct {
	Line   string
	Reason string
	At     time.Time
}

// errorRingSize bounds the per-file ring of recent parse errors;
// older entries are evicted first.
const errorRingSize = 16

// DefaultRemovalGrace is how long a removed path's bookkeeping is
// retained in case the file reappears.
const DefaultRemovalGrace = 30 * time.Second

// TrackedFile is the registry's bookkeeping for one path.
type TrackedFile struct {
	Path   string
	Kind   Kind
	Offset int64

	// Inode and Size are the change signature from the last read.
	// A changed inode always means rotation, regardless of offset
	// arithmetic — a replacement file can coincidentally match the
	// old size.
	Inode uint64
	Size  int64

	// ErrorCount is the total number of parse errors ever recorded
	// against this file; recent holds the bounded ring of details.
	ErrorCount int
	recent     []ParseError

	// removedAt is non-zero while the path is gone but within the
	// removal grace period.
	removedAt time.Time
}

// RecentErrors returns a copy of the ring of recent parse errors,
// oldest first.
func (f *TrackedFile) RecentErrors() []ParseError {
	out := make([]ParseError, len(f.recent))
	copy(out, f.recent)
	return out
}

// RecordParseError appends to the file's error ring, evicting the
// oldest entry once the ring is full.
func (f *TrackedFile) RecordParseError(line, reason string, at time.Time) {
	f.ErrorCount++
	f.recent = append(f.recent, ParseError{Line: line, Reason: reason, At: at})
	if len(f.recent) > errorRingSize {
		f.recent = f.recent[len(f.recent)-errorRingSize:]
	}
}

// Registry tracks read positions and change signatures for every
// watched file.
type Registry struct {
	files map[string]*TrackedFile
	grace time.Duration
}

// NewRegistry returns an empty registry with the default removal
// grace period.
func NewRegistry() *Registry {
	return &Registry{
		files: make(map[string]*TrackedFile),
		grace: DefaultRemovalGrace,
	}
}

// File returns the bookkeeping for a path, or nil when untracked.
func (r *Registry) File(path string) *TrackedFile {
	return r.files[path]
}

// Files returns the tracked files in no particular order. The
// returned pointers are the live records; callers outside the apply
// step must not retain or mutate them.
func (r *Registry) Files() []*TrackedFile {
	out := make([]*TrackedFile, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	return out
}

// Classify stats and reads a path that the watcher reported as
// changed, updates the bookkeeping, and returns the logical events
// that occurred. A path with nothing new (spurious notification, or a
// log file with no complete line yet) returns no events.
//
// Transient read errors leave the bookkeeping untouched and are
// returned to the caller, which surfaces a warning and retries on the
// next notification — never escalates.
func (r *Registry) Classify(path string, kind Kind, now time.Time) ([]Event, error) {
	var stat unix.Stat_t
	err := unix.Stat(path, &stat)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return r.classifyMissing(path, now), nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	file, tracked := r.files[path]
	if tracked && !file.removedAt.IsZero() {
		// Reappeared. Whether inside or outside the grace period,
		// the path starts over as a fresh file.
		delete(r.files, path)
		tracked = false
	}

	if !tracked {
		file = &TrackedFile{Path: path, Kind: kind, Inode: stat.Ino}
		data, newOffset, err := r.consume(file, 0, stat.Size)
		if err != nil {
			return nil, err
		}
		file.Offset = newOffset
		file.Size = stat.Size
		r.files[path] = file
		return []Event{{Op: OpCreated, Path: path, Kind: kind, Data: data}}, nil
	}

	rotated := stat.Ino != file.Inode || stat.Size < file.Offset
	if rotated {
		data, newOffset, err := r.consume(file, 0, stat.Size)
		if err != nil {
			return nil, err
		}
		file.Inode = stat.Ino
		file.Offset = newOffset
		file.Size = stat.Size
		return []Event{{Op: OpRotated, Path: path, Kind: kind, Data: data}}, nil
	}

	if stat.Size == file.Offset && kind == KindLog {
		// Nothing new past the consumed offset.
		file.Size = stat.Size
		return nil, nil
	}

	start := file.Offset
	if kind == KindStatus {
		// Status files are rewritten wholesale; re-read everything.
		start = 0
	}
	data, newOffset, err := r.consume(file, start, stat.Size)
	if err != nil {
		return nil, err
	}
	if kind == KindLog && newOffset == file.Offset {
		// New bytes but no complete line yet; wait for more.
		file.Size = stat.Size
		return nil, nil
	}
	file.Offset = newOffset
	file.Size = stat.Size
	return []Event{{Op: OpAppended, Path: path, Kind: kind, Data: data}}, nil
}

// classifyMissing handles a notification for a path that no longer
// exists.
func (r *Registry) classifyMissing(path string, now time.Time) []Event {
	file, tracked := r.files[path]
	if !tracked {
		return nil
	}
	if !file.removedAt.IsZero() {
		if now.Sub(file.removedAt) > r.grace {
			delete(r.files, path)
		}
		return nil
	}
	file.removedAt = now
	return []Event{{Op: OpRemoved, Path: path, Kind: file.Kind}}
}

// PurgeRemoved drops bookkeeping for paths whose removal grace period
// has expired. Called periodically from the apply step (piggybacking
// on health cycles).
func (r *Registry) PurgeRemoved(now time.Time) {
	for path, file := range r.files {
		if !file.removedAt.IsZero() && now.Sub(file.removedAt) > r.grace {
			delete(r.files, path)
		}
	}
}

// consume reads [start, size) from the file. For log files only whole
// lines are consumed: the returned offset stops after the last
// newline, leaving a partial trailing line for the next read. For
// status files the full range is consumed.
func (r *Registry) consume(file *TrackedFile, start, size int64) (data []byte, newOffset int64, err error) {
	if size <= start {
		return nil, start, nil
	}

	handle, err := os.Open(file.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", file.Path, err)
	}
	defer handle.Close()

	buffer := make([]byte, size-start)
	n, err := handle.ReadAt(buffer, start)
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("read %s at %d: %w", file.Path, start, err)
	}
	buffer = buffer[:n]

	if file.Kind == KindLog {
		cut := lastNewline(buffer)
		if cut < 0 {
			return nil, start, nil
		}
		return buffer[:cut+1], start + int64(cut) + 1, nil
	}
	return buffer, start + int64(n), nil
}

// lastNewline returns the index of the final '\n' in b, or -1.
func lastNewline(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == '\n' {
			return i
		}
	}
	return -1
}
