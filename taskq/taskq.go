// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskq invokes the external task-queue CLI that owns task
// assignments. Deckhand never mutates queue state itself; it shells
// out to the operator-configured command, always under a deadline.
//
// The command contract: the configured binary accepts
//
//	<command> clear-assignment <task-id>
//	<command> list-assignments <worker-id>
//
// clear-assignment must be idempotent on the queue side — Deckhand
// may invoke it for a task that was already released. A non-zero exit
// or a timeout is a recoverable side-effect failure, recorded against
// the crash record that triggered it, never fatal.
package taskq

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds each queue command invocation.
const DefaultTimeout = 10 * time.Second

// Client shells out to the task-queue command.
type Client struct {
	// Command is the queue binary (resolved via PATH or absolute).
	Command string
	// Timeout bounds each invocation; DefaultTimeout when zero.
	Timeout time.Duration
}

// ClearAssignment releases a task back to the queue so another worker
// can pick it up.
func (c *Client) ClearAssignment(ctx context.Context, task string) error {
	_, err := c.run(ctx, "clear-assignment", task)
	if err != nil {
		return fmt.Errorf("clearing assignment %q: %w", task, err)
	}
	return nil
}

// ListAssignments returns the task ids currently assigned to a
// worker, one per output line.
func (c *Client) ListAssignments(ctx context.Context, workerID string) ([]string, error) {
	output, err := c.run(ctx, "list-assignments", workerID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments for %q: %w", workerID, err)
	}
	var tasks []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			tasks = append(tasks, line)
		}
	}
	return tasks, nil
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("%s %s: %w", c.Command, strings.Join(args, " "), runCtx.Err())
		}
		return "", fmt.Errorf("%s %s: %w (%s)",
			c.Command, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
