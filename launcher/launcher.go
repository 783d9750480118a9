// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher re-invokes the external launcher script that
// spawns worker processes and their tmux sessions. Deckhand only
// calls it on a Restart decision; the launcher owns everything about
// how a worker actually starts.
//
// The command contract: the configured binary is invoked as
//
//	<command> --worker <id> --model <model> --workspace <dir> --session <name>
//
// and must print the new process id and session identifier on stdout
// as key=value pairs, e.g.:
//
//	pid=12345
//	session=dh-w1
//
// Any other stdout lines are ignored.
package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a launcher invocation. Spawning can involve
// sandbox setup, so this is generous; a hung launcher still cannot
// stall recovery forever.
const DefaultTimeout = 30 * time.Second

// Spawn identifies what to relaunch. Model and Workspace come from
// the worker's status-file metadata; a launcher that does not need
// them tolerates empty values.
type Spawn struct {
	Worker    string
	Model     string
	Workspace string
	Session   string
}

// Result is the launcher's report of the replacement worker.
type Result struct {
	PID     int
	Session string
}

// Client shells out to the launcher command.
type Client struct {
	Command string
	Timeout time.Duration
}

// Restart spawns a replacement for a crashed worker and returns the
// new process id and session. A timeout or non-zero exit is a
// side-effect failure: the caller records it and moves on.
func (c *Client) Restart(ctx context.Context, spawn Spawn) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Command,
		"--worker", spawn.Worker,
		"--model", spawn.Model,
		"--workspace", spawn.Workspace,
		"--session", spawn.Session,
	)
	output, err := cmd.Output()
	if err != nil {
		if runCtx.Err() != nil {
			return Result{}, fmt.Errorf("launcher for %q: %w", spawn.Worker, runCtx.Err())
		}
		detail := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return Result{}, fmt.Errorf("launcher for %q: %w (%s)", spawn.Worker, err, detail)
	}

	return parseResult(spawn.Worker, string(output))
}

// parseResult extracts pid= and session= from launcher stdout.
func parseResult(workerID, output string) (Result, error) {
	var result Result
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "pid="):
			pid, err := strconv.Atoi(strings.TrimPrefix(line, "pid="))
			if err != nil {
				return Result{}, fmt.Errorf("launcher for %q: parsing %q: %w", workerID, line, err)
			}
			result.PID = pid
		case strings.HasPrefix(line, "session="):
			result.Session = strings.TrimPrefix(line, "session=")
		}
	}
	if result.PID <= 0 {
		return Result{}, fmt.Errorf("launcher for %q: output reported no pid", workerID)
	}
	if result.Session == "" {
		return Result{}, fmt.Errorf("launcher for %q: output reported no session", workerID)
	}
	return result, nil
}
