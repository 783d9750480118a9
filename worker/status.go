// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status file fields the interpreter recognizes. Everything else is
// preserved opaquely in Snapshot.Metadata.
const (
	statusFieldWorker       = "worker_id"
	statusFieldStatus       = "status"
	statusFieldPID          = "pid"
	statusFieldSession      = "session"
	statusFieldLastActivity = "last_activity"
	statusFieldTask         = "task_id"
)

// ParseSnapshot interprets the full contents of a worker's status
// file. Status files are small and rewritten wholesale by workers, so
// the whole file is parsed on every change.
//
// ParseSnapshot never fails: a missing required field or unparsable
// content yields a corrupted snapshot (Corrupted set, Reason filled
// in) so the failure is visible to the operator instead of the event
// being dropped. id comes from the file path and is authoritative; a
// worker_id field that contradicts it is itself corruption.
func ParseSnapshot(id ID, data []byte, readAt time.Time) Snapshot {
	corrupted := func(format string, args ...any) Snapshot {
		return Snapshot{
			Worker:    id,
			Corrupted: true,
			Reason:    fmt.Sprintf(format, args...),
			ReadAt:    readAt,
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return corrupted("status file is not a JSON object: %v", err)
	}

	snapshot := Snapshot{Worker: id, ReadAt: readAt}

	// worker_id: required, and must agree with the file name.
	var reportedID string
	if err := unmarshalField(fields, statusFieldWorker, &reportedID); err != nil {
		return corrupted("%v", err)
	}
	if ID(reportedID) != id {
		return corrupted("worker_id %q does not match file name %q", reportedID, id)
	}

	// status: required, one of the known lifecycle values
	// (case-insensitive so worker implementations in other languages
	// can report "Active").
	var lifecycle string
	if err := unmarshalField(fields, statusFieldStatus, &lifecycle); err != nil {
		return corrupted("%v", err)
	}
	snapshot.Status = Lifecycle(strings.ToLower(lifecycle))
	if !snapshot.Status.known() {
		return corrupted("unknown lifecycle status %q", lifecycle)
	}

	// pid: required positive integer.
	if err := unmarshalField(fields, statusFieldPID, &snapshot.PID); err != nil {
		return corrupted("%v", err)
	}
	if snapshot.PID <= 0 {
		return corrupted("pid %d is not a valid process id", snapshot.PID)
	}

	// last_activity: required ISO-8601 timestamp.
	var lastActivity string
	if err := unmarshalField(fields, statusFieldLastActivity, &lastActivity); err != nil {
		return corrupted("%v", err)
	}
	parsed, err := time.Parse(time.RFC3339, lastActivity)
	if err != nil {
		return corrupted("parsing last_activity %q: %v", lastActivity, err)
	}
	snapshot.LastActivity = parsed

	// session and task_id are optional.
	if raw, ok := fields[statusFieldSession]; ok {
		if err := json.Unmarshal(raw, &snapshot.Session); err != nil {
			return corrupted("parsing session: %v", err)
		}
	}
	if raw, ok := fields[statusFieldTask]; ok {
		if err := json.Unmarshal(raw, &snapshot.Task); err != nil {
			return corrupted("parsing task_id: %v", err)
		}
	}

	// Everything else passes through opaquely.
	for key, raw := range fields {
		switch key {
		case statusFieldWorker, statusFieldStatus, statusFieldPID,
			statusFieldSession, statusFieldLastActivity, statusFieldTask:
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			// Unreachable for valid JSON objects, but a metadata
			// field must never corrupt an otherwise good snapshot.
			value = string(raw)
		}
		if snapshot.Metadata == nil {
			snapshot.Metadata = make(map[string]any)
		}
		snapshot.Metadata[key] = value
	}

	return snapshot
}

// unmarshalField decodes a required field into out, with errors that
// name the field.
func unmarshalField(fields map[string]json.RawMessage, name string, out any) error {
	raw, ok := fields[name]
	if !ok {
		return fmt.Errorf("required field %q missing", name)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing field %q: %v", name, err)
	}
	return nil
}

// Merge folds an incoming snapshot into the previous one for the same
// worker. Good snapshots replace the previous value wholesale. A
// corrupted snapshot keeps the previous identity fields (PID,
// session, last activity, task) so liveness checking continues while
// the corruption is surfaced — only the Corrupted flag, Reason, and
// ReadAt come from the incoming value.
//
// Merge is how independent-source updates converge: applying a
// corrupted read before or after a good one ends in the same state.
func Merge(previous, incoming Snapshot) Snapshot {
	if !incoming.Corrupted {
		return incoming
	}
	if previous.Worker == "" {
		// Never seen a good parse; nothing to carry over.
		return incoming
	}
	merged := previous
	merged.Corrupted = true
	merged.Reason = incoming.Reason
	merged.ReadAt = incoming.ReadAt
	return merged
}
