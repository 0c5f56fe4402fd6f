package history

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreAppendAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := NewStore(path, 50, slog.New(slog.DiscardHandler))

	s.Append("chan-1", "hello", "hi there")

	turns := s.Get("chan-1")
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "hello" {
		t.Fatalf("turns[0] = %+v, want user/hello", turns[0])
	}
	if turns[1].Role != "assistant" || turns[1].Content != "hi there" {
		t.Fatalf("turns[1] = %+v, want assistant/hi there", turns[1])
	}
}

func TestStoreCapsTurns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := NewStore(path, 50, slog.New(slog.DiscardHandler))

	for i := 0; i < 40; i++ {
		s.Append("chan-1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	turns := s.Get("chan-1")
	if len(turns) != 50 {
		t.Fatalf("len(turns) = %d, want capped at 50", len(turns))
	}
	if turns[0].Content != "q15" {
		t.Fatalf("oldest retained turn = %q, want q15", turns[0].Content)
	}
	if turns[49].Content != "a39" {
		t.Fatalf("newest turn = %q, want a39", turns[49].Content)
	}
}

func TestStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	s := NewStore(path, 50, slog.New(slog.DiscardHandler))
	s.Append("chan-1", "ping", "pong")
	s.Append("chan-2", "hey", "ho")

	reloaded := NewStore(path, 50, slog.New(slog.DiscardHandler))
	if got := reloaded.Len("chan-1"); got != 2 {
		t.Fatalf("chan-1 Len() = %d after reload, want 2", got)
	}
	turns := reloaded.Get("chan-2")
	if len(turns) != 2 || turns[1].Content != "ho" {
		t.Fatalf("chan-2 turns = %+v, want the persisted exchange", turns)
	}
}

func TestStoreCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seeding corrupt file: %v", err)
	}

	s := NewStore(path, 50, slog.New(slog.DiscardHandler))
	if got := s.Len("chan-1"); got != 0 {
		t.Fatalf("Len() = %d, want 0 after discarding corrupt file", got)
	}

	s.Append("chan-1", "hello", "hi")
	if got := s.Len("chan-1"); got != 2 {
		t.Fatalf("Len() = %d, want store usable after recovery", got)
	}
}

func TestStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := NewStore(path, 50, slog.New(slog.DiscardHandler))

	s.Append("chan-1", "a", "b")
	s.Clear("chan-1")

	if got := s.Len("chan-1"); got != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", got)
	}

	reloaded := NewStore(path, 50, slog.New(slog.DiscardHandler))
	if got := reloaded.Len("chan-1"); got != 0 {
		t.Fatalf("Len() = %d after reload, want clear persisted", got)
	}
}

func TestStoreUnwritablePathKeepsMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro", "history.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o555); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	s := NewStore(path, 50, slog.New(slog.DiscardHandler))
	s.Append("chan-1", "hello", "hi")

	if got := s.Len("chan-1"); got != 2 {
		t.Fatalf("Len() = %d, want in-memory transcript despite write failure", got)
	}
}
