// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package worker_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/deckhand-project/deckhand/worker"
)

func TestParseLogLineJSON(t *testing.T) {
	line := `{"ts":"2026-08-23T11:00:00Z","level":"INFO","worker_id":"w1","msg":"task started","event":"task_start","task_id":"T-9","tokens":1200}`
	entry, err := worker.ParseLogLine(line)
	if err != nil {
		t.Fatalf("ParseLogLine: %v", err)
	}
	if entry.Level != "info" || entry.Worker != "w1" || entry.Message != "task started" {
		t.Fatalf("fields wrong: %+v", entry)
	}
	if entry.Event != "task_start" || entry.Task != "T-9" {
		t.Fatalf("event/task wrong: %+v", entry)
	}
	if entry.Fields["tokens"] != "1200" {
		t.Fatalf("unknown field tokens = %q", entry.Fields["tokens"])
	}
	want := time.Date(2026, 8, 23, 11, 0, 0, 0, time.UTC)
	if !entry.Time.Equal(want) {
		t.Fatalf("Time = %v, want %v", entry.Time, want)
	}
	if entry.Raw != line {
		t.Fatal("Raw does not preserve the original line")
	}
}

func TestParseLogLineKeyValue(t *testing.T) {
	entry, err := worker.ParseLogLine(`ts=2026-08-23T11:00:00Z level=warn worker=w2 msg="rate limited, backing off" attempt=2`)
	if err != nil {
		t.Fatalf("ParseLogLine: %v", err)
	}
	if entry.Level != "warn" || entry.Worker != "w2" {
		t.Fatalf("fields wrong: %+v", entry)
	}
	if entry.Message != "rate limited, backing off" {
		t.Fatalf("quoted message wrong: %q", entry.Message)
	}
	if entry.Fields["attempt"] != "2" {
		t.Fatalf("attempt = %q", entry.Fields["attempt"])
	}
}

func TestParseLogLineMalformed(t *testing.T) {
	for _, line := range []string{
		"completely free text with no structure",
		`{"truncated": `,
		`key="unterminated quote`,
		"=value",
	} {
		_, err := worker.ParseLogLine(line)
		if !errors.Is(err, worker.ErrMalformedLine) {
			t.Fatalf("line %q: err = %v, want ErrMalformedLine", line, err)
		}
	}
}

func TestParseLogLineBadTimestampDegrades(t *testing.T) {
	// A bogus timestamp must not reject an otherwise good line; it
	// lands in Fields instead.
	entry, err := worker.ParseLogLine(`ts=whenever level=info msg=hello`)
	if err != nil {
		t.Fatalf("ParseLogLine: %v", err)
	}
	if !entry.Time.IsZero() {
		t.Fatalf("Time = %v from an unparsable timestamp", entry.Time)
	}
	if entry.Fields["ts"] != "whenever" {
		t.Fatalf("bad timestamp not preserved: %v", entry.Fields)
	}
}

// TestParseLogChunkCounts is the interleaving property: N well-formed
// lines mixed with M malformed lines always yield exactly N entries
// and M recorded errors, wherever the bad lines sit.
func TestParseLogChunkCounts(t *testing.T) {
	good := func(i int) string {
		return fmt.Sprintf(`{"level":"info","worker_id":"w1","msg":"line %d"}`, i)
	}
	bad := "free text line"

	layouts := [][]string{
		{good(0), bad, good(1), bad, good(2)},
		{bad, bad, good(0), good(1), good(2)},
		{good(0), good(1), good(2), bad, bad},
	}

	for i, layout := range layouts {
		entries, malformed := worker.ParseLogChunk([]byte(strings.Join(layout, "\n") + "\n"))
		if len(entries) != 3 {
			t.Fatalf("layout %d: %d entries, want 3", i, len(entries))
		}
		if len(malformed) != 2 {
			t.Fatalf("layout %d: %d malformed, want 2", i, len(malformed))
		}
	}
}

func TestParseLogChunkSkipsBlankLines(t *testing.T) {
	entries, malformed := worker.ParseLogChunk([]byte("\n\nlevel=info msg=a\n\n\nlevel=info msg=b\n"))
	if len(entries) != 2 || len(malformed) != 0 {
		t.Fatalf("entries=%d malformed=%d, want 2/0", len(entries), len(malformed))
	}
}

func TestParseLogChunkPreservesByteOrder(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("level=info msg=m%d", i))
	}
	entries, _ := worker.ParseLogChunk([]byte(strings.Join(lines, "\n")))
	for i, entry := range entries {
		if entry.Message != fmt.Sprintf("m%d", i) {
			t.Fatalf("entry %d out of order: %q", i, entry.Message)
		}
	}
}
