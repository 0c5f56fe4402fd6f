package profile

import (
	"strings"
	"testing"
)

func TestResolveSystemProfileDefault(t *testing.T) {
	got, err := ResolveSystemProfile("openai", "")
	if err != nil {
		t.Fatalf("ResolveSystemProfile error: %v", err)
	}
	if !strings.Contains(got, "group chat") {
		t.Fatalf("profile missing expected content: %q", got)
	}
}

func TestResolveSystemProfileOverrideWins(t *testing.T) {
	got, err := ResolveSystemProfile("openai", "  custom preamble  ")
	if err != nil {
		t.Fatalf("ResolveSystemProfile error: %v", err)
	}
	if got != "custom preamble" {
		t.Fatalf("profile = %q, want override", got)
	}
}

func TestResolveSystemProfileOpenCodeEmpty(t *testing.T) {
	got, err := ResolveSystemProfile("opencode", "")
	if err != nil {
		t.Fatalf("ResolveSystemProfile error: %v", err)
	}
	if got != "" {
		t.Fatalf("profile = %q, want empty for opencode", got)
	}
}
