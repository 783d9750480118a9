// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deckhand.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Recovery.MaxCrashes != 3 || !cfg.Recovery.AutoRestart {
		t.Fatalf("recovery defaults = %+v", cfg.Recovery)
	}
	if cfg.Health.Interval.Std() != 5*time.Second {
		t.Fatalf("health interval = %v", cfg.Health.Interval.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
paths:
  status: /srv/deckhand/status
  logs: /srv/deckhand/logs
health:
  stale_after: 90s
recovery:
  max_crashes: 5
  auto_restart: false
queue:
  command: bd
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Status != "/srv/deckhand/status" {
		t.Fatalf("status dir = %q", cfg.Paths.Status)
	}
	if cfg.Health.StaleAfter.Std() != 90*time.Second {
		t.Fatalf("stale_after = %v", cfg.Health.StaleAfter.Std())
	}
	if cfg.Recovery.MaxCrashes != 5 || cfg.Recovery.AutoRestart {
		t.Fatalf("recovery = %+v", cfg.Recovery)
	}
	// Untouched sections keep their defaults.
	if cfg.Health.Interval.Std() != 5*time.Second {
		t.Fatalf("interval = %v", cfg.Health.Interval.Std())
	}
	if cfg.Queue.Command != "bd" || cfg.Queue.Timeout.Std() != 10*time.Second {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "health:\n  interval: soon\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestValidateRejectsNonsense(t *testing.T) {
	cfg := Default()
	cfg.Recovery.MaxCrashes = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative max_crashes accepted")
	}

	cfg = Default()
	cfg.Paths.Status = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty status dir accepted")
	}
}

func TestLoadWithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv("DECKHAND_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recovery.MaxCrashes != 3 {
		t.Fatalf("unexpected config: %+v", cfg.Recovery)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("DECKHAND_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("missing explicit config accepted")
	}
}
