// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deckhand-project/deckhand/worker"
)

// Store persists crash history to a single JSON state file so restart
// rate-limiting survives dashboard restarts. Writes are atomic: the
// state is written to a temporary file, fsynced, and renamed into
// place, so a reader never sees a partial file even if the dashboard
// dies mid-write.
type Store struct {
	Path string
}

// Load reads the state file. A missing file is a normal first run and
// returns an empty history.
func (s *Store) Load() (map[worker.ID][]Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[worker.ID][]Record), nil
		}
		return nil, err
	}
	var history map[worker.ID][]Record
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parsing crash history %s: %w", s.Path, err)
	}
	if history == nil {
		history = make(map[worker.ID][]Record)
	}
	return history, nil
}

// Save atomically replaces the state file.
func (s *Store) Save(history map[worker.ID][]Record) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling crash history: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := s.Path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, s.Path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss
	// between the rename and the OS flushing directory metadata.
	if parent, err := os.Open(filepath.Dir(s.Path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
