// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedLine reports a log line that matched neither of the two
// accepted formats (JSON record, loose key=value text).
var ErrMalformedLine = errors.New("log line matches no known format")

// LineError pairs a malformed log line with the reason it was
// rejected. Kept in the tracked file's bounded error ring.
type LineError struct {
	Line string
	Err  error
}

// ParseLogChunk interprets a chunk of complete log lines (as handed
// out by the tracked-file registry) in byte order. Malformed lines
// are counted and returned, never fatal: the registry has already
// advanced past them, so a permanently bad line cannot block the
// stream. Blank lines are skipped without counting as errors.
func ParseLogChunk(data []byte) (entries []LogEntry, malformed []LineError) {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := ParseLogLine(line)
		if err != nil {
			malformed = append(malformed, LineError{Line: line, Err: err})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, malformed
}

// ParseLogLine parses a single log line. Two formats are accepted, in
// order:
//
//   - a JSON object with recommended fields ts, level, worker_id,
//     msg, event, task_id (unrecognized keys land in Fields)
//   - loose key=value text, space-separated, values optionally
//     double-quoted: ts=... level=info msg="did a thing"
//
// A line matching neither format returns ErrMalformedLine (wrapped
// with detail).
func ParseLogLine(line string) (LogEntry, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONLine(trimmed, line)
	}
	return parseKeyValueLine(trimmed, line)
}

// Log line fields recognized in both formats. Aliases cover the
// common spellings across worker implementations.
var logFieldAliases = map[string]string{
	"ts":        "ts",
	"time":      "ts",
	"timestamp": "ts",
	"level":     "level",
	"lvl":       "level",
	"worker_id": "worker",
	"worker":    "worker",
	"msg":       "msg",
	"message":   "msg",
	"event":     "event",
	"task_id":   "task",
	"task":      "task",
}

func parseJSONLine(trimmed, raw string) (LogEntry, error) {
	var object map[string]any
	if err := json.Unmarshal([]byte(trimmed), &object); err != nil {
		return LogEntry{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedLine, err)
	}
	entry := LogEntry{Raw: raw}
	for key, value := range object {
		assignLogField(&entry, key, stringify(value))
	}
	return entry, nil
}

func parseKeyValueLine(trimmed, raw string) (LogEntry, error) {
	pairs, err := splitKeyValuePairs(trimmed)
	if err != nil {
		return LogEntry{}, err
	}
	if len(pairs) == 0 {
		return LogEntry{}, fmt.Errorf("%w: no key=value pairs", ErrMalformedLine)
	}
	entry := LogEntry{Raw: raw}
	for _, pair := range pairs {
		assignLogField(&entry, pair.key, pair.value)
	}
	return entry, nil
}

// assignLogField routes a parsed key into the entry's typed fields,
// or into Fields when unrecognized.
func assignLogField(entry *LogEntry, key, value string) {
	switch logFieldAliases[strings.ToLower(key)] {
	case "ts":
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			entry.Time = parsed
			return
		}
		// An unparsable timestamp degrades to an opaque field rather
		// than rejecting the line.
	case "level":
		entry.Level = strings.ToLower(value)
		return
	case "worker":
		entry.Worker = ID(value)
		return
	case "msg":
		entry.Message = value
		return
	case "event":
		entry.Event = value
		return
	case "task":
		entry.Task = value
		return
	}
	if entry.Fields == nil {
		entry.Fields = make(map[string]string)
	}
	entry.Fields[key] = value
}

type keyValuePair struct {
	key   string
	value string
}

// splitKeyValuePairs tokenizes loose key=value text. Values may be
// double-quoted to contain spaces; quotes are stripped. Any bare word
// without '=' makes the whole line malformed — that is the signal
// that this is free text, not a structured record.
func splitKeyValuePairs(s string) ([]keyValuePair, error) {
	var pairs []keyValuePair
	rest := s
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		equals := strings.IndexByte(rest, '=')
		space := strings.IndexAny(rest, " \t")
		if equals < 0 || (space >= 0 && space < equals) || equals == 0 {
			return nil, fmt.Errorf("%w: %q is not key=value", ErrMalformedLine, firstToken(rest))
		}
		key := rest[:equals]
		rest = rest[equals+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			closing := strings.IndexByte(rest[1:], '"')
			if closing < 0 {
				return nil, fmt.Errorf("%w: unterminated quote in value of %q", ErrMalformedLine, key)
			}
			value = rest[1 : closing+1]
			rest = rest[closing+2:]
		} else {
			end := strings.IndexAny(rest, " \t")
			if end < 0 {
				end = len(rest)
			}
			value = rest[:end]
			rest = rest[end:]
		}
		pairs = append(pairs, keyValuePair{key: key, value: value})
	}
	return pairs, nil
}

func firstToken(s string) string {
	if end := strings.IndexAny(s, " \t"); end >= 0 {
		return s[:end]
	}
	return s
}

// stringify renders a JSON value as the string form shown to the
// operator. Numbers keep their JSON representation.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// Integral floats render without the trailing ".0" JSON
		// decoding would otherwise give them.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
