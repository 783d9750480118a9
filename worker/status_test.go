// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package worker_test

import (
	"testing"
	"time"

	"github.com/deckhand-project/deckhand/worker"
)

var readAt = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func TestParseSnapshotComplete(t *testing.T) {
	data := []byte(`{
		"worker_id": "w1",
		"status": "active",
		"pid": 4242,
		"session": "dh-w1",
		"last_activity": "2026-08-23T11:59:30Z",
		"task_id": "T-17",
		"model": "frontier-large",
		"attempt": 3
	}`)

	snapshot := worker.ParseSnapshot("w1", data, readAt)

	if snapshot.Corrupted {
		t.Fatalf("snapshot unexpectedly corrupted: %s", snapshot.Reason)
	}
	if snapshot.Worker != "w1" || snapshot.Status != worker.Active || snapshot.PID != 4242 {
		t.Fatalf("core fields wrong: %+v", snapshot)
	}
	if snapshot.Session != "dh-w1" || snapshot.Task != "T-17" {
		t.Fatalf("optional fields wrong: %+v", snapshot)
	}
	want := time.Date(2026, 8, 23, 11, 59, 30, 0, time.UTC)
	if !snapshot.LastActivity.Equal(want) {
		t.Fatalf("LastActivity = %v, want %v", snapshot.LastActivity, want)
	}
	if !snapshot.ReadAt.Equal(readAt) {
		t.Fatalf("ReadAt = %v, want %v", snapshot.ReadAt, readAt)
	}
}

func TestParseSnapshotPreservesUnknownFields(t *testing.T) {
	data := []byte(`{
		"worker_id": "w1",
		"status": "idle",
		"pid": 1,
		"last_activity": "2026-08-23T11:00:00Z",
		"model": "frontier-large",
		"attempt": 3,
		"nested": {"a": true}
	}`)

	snapshot := worker.ParseSnapshot("w1", data, readAt)
	if snapshot.Corrupted {
		t.Fatalf("snapshot unexpectedly corrupted: %s", snapshot.Reason)
	}
	if snapshot.Metadata["model"] != "frontier-large" {
		t.Fatalf("metadata model = %v", snapshot.Metadata["model"])
	}
	if snapshot.Metadata["attempt"] != float64(3) {
		t.Fatalf("metadata attempt = %v", snapshot.Metadata["attempt"])
	}
	if _, ok := snapshot.Metadata["nested"]; !ok {
		t.Fatal("nested metadata dropped")
	}
	// Recognized fields must not leak into metadata.
	if _, ok := snapshot.Metadata["pid"]; ok {
		t.Fatal("pid duplicated into metadata")
	}
}

func TestParseSnapshotCaseInsensitiveLifecycle(t *testing.T) {
	data := []byte(`{"worker_id":"w1","status":"Active","pid":7,"last_activity":"2026-08-23T11:00:00Z"}`)
	snapshot := worker.ParseSnapshot("w1", data, readAt)
	if snapshot.Corrupted || snapshot.Status != worker.Active {
		t.Fatalf("mixed-case lifecycle not accepted: %+v", snapshot)
	}
}

func TestParseSnapshotCorruption(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not JSON", `not json at all`},
		{"JSON array", `[1,2,3]`},
		{"missing worker_id", `{"status":"active","pid":7,"last_activity":"2026-08-23T11:00:00Z"}`},
		{"missing status", `{"worker_id":"w1","pid":7,"last_activity":"2026-08-23T11:00:00Z"}`},
		{"missing pid", `{"worker_id":"w1","status":"active","last_activity":"2026-08-23T11:00:00Z"}`},
		{"missing last_activity", `{"worker_id":"w1","status":"active","pid":7}`},
		{"unknown lifecycle", `{"worker_id":"w1","status":"meditating","pid":7,"last_activity":"2026-08-23T11:00:00Z"}`},
		{"zero pid", `{"worker_id":"w1","status":"active","pid":0,"last_activity":"2026-08-23T11:00:00Z"}`},
		{"bad timestamp", `{"worker_id":"w1","status":"active","pid":7,"last_activity":"yesterday"}`},
		{"id mismatch", `{"worker_id":"w2","status":"active","pid":7,"last_activity":"2026-08-23T11:00:00Z"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapshot := worker.ParseSnapshot("w1", []byte(tc.data), readAt)
			if !snapshot.Corrupted {
				t.Fatalf("snapshot not corrupted: %+v", snapshot)
			}
			if snapshot.Reason == "" {
				t.Fatal("corrupted snapshot carries no reason")
			}
			if snapshot.Worker != "w1" {
				t.Fatalf("corrupted snapshot lost its worker id: %q", snapshot.Worker)
			}
		})
	}
}

func TestMergeGoodReplacesWholesale(t *testing.T) {
	previous := worker.ParseSnapshot("w1",
		[]byte(`{"worker_id":"w1","status":"active","pid":7,"last_activity":"2026-08-23T10:00:00Z","task_id":"T-1"}`),
		readAt)
	incoming := worker.ParseSnapshot("w1",
		[]byte(`{"worker_id":"w1","status":"idle","pid":8,"last_activity":"2026-08-23T11:00:00Z"}`),
		readAt.Add(time.Minute))

	merged := worker.Merge(previous, incoming)
	if merged.PID != 8 || merged.Status != worker.Idle {
		t.Fatalf("good snapshot did not replace wholesale: %+v", merged)
	}
	if merged.Task != "" {
		t.Fatal("stale task survived a wholesale replacement")
	}
}

func TestMergeCorruptedKeepsIdentity(t *testing.T) {
	previous := worker.ParseSnapshot("w1",
		[]byte(`{"worker_id":"w1","status":"active","pid":7,"session":"dh-w1","last_activity":"2026-08-23T10:00:00Z"}`),
		readAt)
	incoming := worker.ParseSnapshot("w1", []byte(`garbage`), readAt.Add(time.Minute))

	merged := worker.Merge(previous, incoming)
	if !merged.Corrupted {
		t.Fatal("merge dropped the corruption flag")
	}
	if merged.PID != 7 || merged.Session != "dh-w1" {
		t.Fatalf("merge lost identity fields: %+v", merged)
	}
	if !merged.ReadAt.Equal(readAt.Add(time.Minute)) {
		t.Fatalf("merge kept the stale ReadAt: %v", merged.ReadAt)
	}
}

func TestMergeCorruptedWithNoHistory(t *testing.T) {
	incoming := worker.ParseSnapshot("w1", []byte(`garbage`), readAt)
	merged := worker.Merge(worker.Snapshot{}, incoming)
	if !merged.Corrupted || merged.Worker != "w1" {
		t.Fatalf("first-sight corruption mishandled: %+v", merged)
	}
}
