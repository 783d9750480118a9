// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Deckhand.
//
// Configuration is loaded from a single YAML file specified by the
// DECKHAND_CONFIG environment variable or the --config flag. There is
// no automatic discovery and environment variables never override
// file values; a missing file just means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for the dashboard.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Health   HealthConfig   `yaml:"health"`
	Recovery RecoveryConfig `yaml:"recovery"`
	UI       UIConfig       `yaml:"ui"`
	Tmux     TmuxConfig     `yaml:"tmux"`
	Queue    CommandConfig  `yaml:"queue"`
	Launcher CommandConfig  `yaml:"launcher"`
	Chat     ChatConfig     `yaml:"chat"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Status is the directory workers write their status files into.
	Status string `yaml:"status"`

	// Logs is the directory workers append their log files into.
	Logs string `yaml:"logs"`

	// State is where Deckhand keeps its own runtime state (crash
	// history, log output).
	State string `yaml:"state"`
}

// WatcherConfig tunes filesystem watching.
type WatcherConfig struct {
	// CoalesceWindow is how long a burst of writes to one file is
	// held before emitting a single notification.
	CoalesceWindow Duration `yaml:"coalesce_window"`

	// ScanInterval is the fallback re-scan cadence when the OS watch
	// mechanism is unavailable.
	ScanInterval Duration `yaml:"scan_interval"`
}

// HealthConfig tunes the liveness monitor.
type HealthConfig struct {
	// Interval is the check cadence.
	Interval Duration `yaml:"interval"`

	// StaleAfter is the last-activity age beyond which a worker is
	// reported stale.
	StaleAfter Duration `yaml:"stale_after"`

	// ProbeTimeout bounds each individual process/session probe.
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// RecoveryConfig tunes crash recovery.
type RecoveryConfig struct {
	// Window is the trailing duration over which crashes count
	// toward the restart limit.
	Window Duration `yaml:"window"`

	// MaxCrashes is the largest in-window crash count that still
	// permits an automatic restart.
	MaxCrashes int `yaml:"max_crashes"`

	// AutoRestart enables automatic restarts.
	AutoRestart bool `yaml:"auto_restart"`

	// ClearAssignments enables releasing a crashed worker's task.
	ClearAssignments bool `yaml:"clear_assignments"`
}

// UIConfig tunes the dashboard.
type UIConfig struct {
	// RenderBudget is the minimum interval between redraws.
	RenderBudget Duration `yaml:"render_budget"`
}

// TmuxConfig locates the tmux server hosting worker sessions.
type TmuxConfig struct {
	// SocketPath is the tmux server socket; empty uses the default
	// server.
	SocketPath string `yaml:"socket_path"`

	// ConfigFile is passed to tmux -f when sessions are inspected or
	// created; empty uses tmux defaults.
	ConfigFile string `yaml:"config_file"`
}

// CommandConfig describes an external collaborator command.
type CommandConfig struct {
	// Command is the binary to invoke; empty disables the
	// collaborator.
	Command string `yaml:"command"`

	// Timeout bounds each invocation.
	Timeout Duration `yaml:"timeout"`
}

// ChatConfig locates the agent bridge.
type ChatConfig struct {
	// SocketPath is the bridge's unix socket; empty disables chat.
	SocketPath string `yaml:"socket_path"`

	// Timeout bounds a full prompt/reply exchange.
	Timeout Duration `yaml:"timeout"`
}

// Default returns the default configuration, used as the base before
// the config file (if any) is merged over it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".deckhand")

	return &Config{
		Paths: PathsConfig{
			Status: filepath.Join(root, "status"),
			Logs:   filepath.Join(root, "logs"),
			State:  filepath.Join(root, "state"),
		},
		Watcher: WatcherConfig{
			CoalesceWindow: Duration(100 * time.Millisecond),
			ScanInterval:   Duration(3 * time.Second),
		},
		Health: HealthConfig{
			Interval:     Duration(5 * time.Second),
			StaleAfter:   Duration(2 * time.Minute),
			ProbeTimeout: Duration(2 * time.Second),
		},
		Recovery: RecoveryConfig{
			Window:           Duration(10 * time.Minute),
			MaxCrashes:       3,
			AutoRestart:      true,
			ClearAssignments: true,
		},
		UI: UIConfig{
			RenderBudget: Duration(100 * time.Millisecond),
		},
		Queue: CommandConfig{
			Timeout: Duration(10 * time.Second),
		},
		Launcher: CommandConfig{
			Timeout: Duration(30 * time.Second),
		},
		Chat: ChatConfig{
			Timeout: Duration(2 * time.Minute),
		},
	}
}

// Load loads configuration from the DECKHAND_CONFIG environment
// variable, or returns defaults when it is unset.
func Load() (*Config, error) {
	path := os.Getenv("DECKHAND_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file, merged over the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Paths.Status == "" || c.Paths.Logs == "" {
		return fmt.Errorf("paths.status and paths.logs must be set")
	}
	if c.Recovery.MaxCrashes < 0 {
		return fmt.Errorf("recovery.max_crashes must not be negative")
	}
	if c.Recovery.Window <= 0 {
		return fmt.Errorf("recovery.window must be positive")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	return nil
}
