// Package state persists the live trader's recoverable state as a
// single JSON file, written atomically so a crash mid-write never
// leaves a truncated snapshot behind.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/engine"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/universe"
)

// ErrNoSnapshot reports that no snapshot file exists yet.
var ErrNoSnapshot = errors.New("state: no snapshot")

// Snapshot is everything needed to resume a live session: the account
// book, open positions with their consumed triggers, the pending
// candidate window, and the ranking round counter.
type Snapshot struct {
	UpdatedAt  time.Time              `json:"updated_at"`
	Cash       float64                `json:"cash"`
	Positions  []engine.PositionState `json:"positions"`
	Candidates []universe.Candidate   `json:"candidates,omitempty"`
	Round      int64                  `json:"round"`
}

// Store reads and writes snapshots at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

func (s *Store) Path() string { return s.path }

// Save writes the snapshot to a temporary file in the same directory
// and renames it over the target, so readers only ever observe a
// complete document.
func (s *Store) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: create snapshot dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: commit snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot back. A missing file returns ErrNoSnapshot so
// first runs can start fresh; a corrupt file is an error the operator
// must resolve.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("state: read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("state: decode snapshot %s: %w", s.path, err)
	}
	return snap, nil
}
