// Package history persists per-channel conversation transcripts so agent
// context survives gateway restarts.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxTurns caps the retained transcript length per channel.
const DefaultMaxTurns = 50

// Turn is one transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store keeps per-channel transcripts in memory and mirrors every change
// to a single JSON file.
//
// Persistence is best-effort: a failed write logs a warning and the
// in-memory transcript stays authoritative for the process lifetime.
type Store struct {
	path     string
	maxTurns int
	log      *slog.Logger

	mu    sync.Mutex
	turns map[string][]Turn
}

// NewStore loads any existing transcript file at path. A missing file is
// a fresh start, not an error; a corrupt file is logged and discarded.
func NewStore(path string, maxTurns int, log *slog.Logger) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		path:     path,
		maxTurns: maxTurns,
		log:      log.With("component", "history"),
		turns:    make(map[string][]Turn),
	}
	s.load()

	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read history file", "path", s.path, "error", err)
		}
		return
	}

	var turns map[string][]Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		s.log.Warn("discarding corrupt history file", "path", s.path, "error", err)
		return
	}

	for channel, t := range turns {
		if len(t) > s.maxTurns {
			t = t[len(t)-s.maxTurns:]
		}
		s.turns[channel] = t
	}
	s.log.Info("history loaded", "channels", len(s.turns))
}

// Append records one exchange for a channel, trims to the retention cap
// and persists the full store.
func (s *Store) Append(channelID string, userContent, assistantContent string) {
	s.mu.Lock()
	turns := append(s.turns[channelID],
		Turn{Role: "user", Content: userContent},
		Turn{Role: "assistant", Content: assistantContent},
	)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.turns[channelID] = turns
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		s.log.Warn("failed to persist history", "path", s.path, "error", err)
	}
}

// Get returns a copy of the transcript for a channel, oldest first.
func (s *Store) Get(channelID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns[channelID]
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len returns the number of retained turns for a channel.
func (s *Store) Len(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[channelID])
}

// Clear drops the transcript for one channel and persists the change.
func (s *Store) Clear(channelID string) {
	s.mu.Lock()
	delete(s.turns, channelID)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		s.log.Warn("failed to persist history", "path", s.path, "error", err)
	}
}

func (s *Store) snapshotLocked() map[string][]Turn {
	snapshot := make(map[string][]Turn, len(s.turns))
	for channel, turns := range s.turns {
		copied := make([]Turn, len(turns))
		copy(copied, turns)
		snapshot[channel] = copied
	}
	return snapshot
}

// persist rewrites the whole file through a temp-and-rename so a crash
// mid-write never leaves a truncated transcript behind.
func (s *Store) persist(snapshot map[string][]Turn) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing history file: %w", err)
	}

	return nil
}
