// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package tmux provides a typed interface to the tmux server that
// hosts supervised workers. Deckhand targets a dedicated server
// socket: every command goes through Server, which injects the -S
// flag, so it is structurally impossible to hit the operator's
// personal tmux server by accident.
//
// Deckhand only observes and (on restart) recreates sessions; it
// never drives the programs running inside them.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Server is a tmux server identified by its Unix socket path. The
// zero value is not usable; construct with NewServer.
type Server struct {
	socketPath string
	configFile string // passed as "-f <path>" on new-session; empty = tmux default
}

// NewServer returns a Server targeting the given socket.
//
// configFile controls which configuration tmux loads when the server
// first starts. Pass "/dev/null" to prevent loading the operator's
// ~/.tmux.conf — production and tests both want this; an empty string
// falls back to tmux's own config resolution.
func NewServer(socketPath, configFile string) *Server {
	return &Server{socketPath: socketPath, configFile: configFile}
}

// SocketPath returns the Unix socket path identifying this server.
func (s *Server) SocketPath() string { return s.socketPath }

// NewSession creates a detached session. A non-empty command runs in
// place of the default shell. The -f flag is passed here because
// new-session may be the call that starts the server; later commands
// never re-read the config file.
func (s *Server) NewSession(sessionName string, command ...string) error {
	var args []string
	if s.configFile != "" {
		args = append(args, "-f", s.configFile)
	}
	args = append(args, "-S", s.socketPath, "new-session", "-d", "-s", sessionName)
	args = append(args, command...)
	cmd := exec.Command("tmux", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session %q: %w (%s)",
			sessionName, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// HasSession reports whether the named session exists. Returns false
// when the server is not running at all.
func (s *Server) HasSession(sessionName string) bool {
	cmd := exec.Command("tmux", "-S", s.socketPath, "has-session", "-t", sessionName)
	return cmd.Run() == nil
}

// HasSessionContext is HasSession under a context deadline. The
// health monitor uses this so a wedged tmux server cannot stall a
// check cycle: expiry kills the tmux process and returns the context
// error.
func (s *Server) HasSessionContext(ctx context.Context, sessionName string) (bool, error) {
	cmd := exec.CommandContext(ctx, "tmux", "-S", s.socketPath, "has-session", "-t", sessionName)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// has-session exits non-zero both for "no such session" and "no
	// server running"; either way the session is gone.
	return false, nil
}

// KillSession terminates a session. A session that is already gone,
// or a server that is not running, is a normal cleanup condition and
// returns nil.
func (s *Server) KillSession(sessionName string) error {
	cmd := exec.Command("tmux", "-S", s.socketPath, "kill-session", "-t", sessionName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if strings.Contains(trimmed, "can't find session") ||
			strings.Contains(trimmed, "no server running") {
			return nil
		}
		return fmt.Errorf("tmux kill-session %q: %w (%s)", sessionName, err, trimmed)
	}
	return nil
}

// KillServer stops the whole server and every session on it. Used by
// tests for cleanup; an already-stopped server returns nil.
func (s *Server) KillServer() error {
	cmd := exec.Command("tmux", "-S", s.socketPath, "kill-server")
	output, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if strings.Contains(trimmed, "no server running") ||
			strings.Contains(trimmed, "server exited unexpectedly") {
			return nil
		}
		return fmt.Errorf("tmux kill-server: %w (%s)", err, trimmed)
	}
	return nil
}

// Run executes an arbitrary tmux subcommand on this server and
// returns its combined output. Escape hatch for subcommands without a
// dedicated method (list-sessions, display-message, ...). The -S flag
// is prepended automatically.
func (s *Server) Run(args ...string) (string, error) {
	fullArgs := append([]string{"-S", s.socketPath}, args...)
	cmd := exec.Command("tmux", fullArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Prober adapts Server to the health monitor's session probe
// interface.
type Prober struct {
	Server *Server
}

// SessionExists implements health.SessionProber.
func (p Prober) SessionExists(ctx context.Context, sessionName string) (bool, error) {
	return p.Server.HasSessionContext(ctx, sessionName)
}
