package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveCreatesLayout(t *testing.T) {
	home := filepath.Join(t.TempDir(), "bridge-home")

	layout, err := Resolve(home)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	info, err := os.Stat(layout.RespondersDir())
	if err != nil || !info.IsDir() {
		t.Fatalf("responders dir missing: %v", err)
	}
	if filepath.Dir(layout.HistoryFile()) != layout.Root() {
		t.Fatalf("history file %q not under root %q", layout.HistoryFile(), layout.Root())
	}
}

func TestResolveExpandsTilde(t *testing.T) {
	fakeHome := t.TempDir()
	t.Setenv("HOME", fakeHome)

	layout, err := Resolve("~/bridge")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	resolvedHome, err := filepath.EvalSymlinks(fakeHome)
	if err != nil {
		t.Fatalf("EvalSymlinks error: %v", err)
	}
	if layout.Root() != filepath.Join(resolvedHome, "bridge") {
		t.Fatalf("Root() = %q, want under %q", layout.Root(), resolvedHome)
	}
}

func TestRestartFlagLifecycle(t *testing.T) {
	layout, err := Resolve(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	if layout.RestartRequested() {
		t.Fatal("fresh layout should not request restart")
	}

	if err := layout.RequestRestart(); err != nil {
		t.Fatalf("RequestRestart error: %v", err)
	}
	if !layout.RestartRequested() {
		t.Fatal("expected restart flag after RequestRestart")
	}

	if err := layout.ClearRestartFlag(); err != nil {
		t.Fatalf("ClearRestartFlag error: %v", err)
	}
	if layout.RestartRequested() {
		t.Fatal("restart flag should be cleared")
	}

	// Clearing an absent flag is fine.
	if err := layout.ClearRestartFlag(); err != nil {
		t.Fatalf("ClearRestartFlag on missing flag: %v", err)
	}
}

func TestTrustedPluginDirRejectsWorldWritable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission semantics differ for root")
	}

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o777); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	if trusted, reason := TrustedPluginDir(dir); trusted || reason == "" {
		t.Fatalf("expected rejection of world-writable dir, got trusted=%v", trusted)
	}
}

func TestTrustedPluginDirAcceptsOwnedDir(t *testing.T) {
	dir := t.TempDir()

	if trusted, reason := TrustedPluginDir(dir); !trusted {
		t.Fatalf("expected trusted dir, got reason %q", reason)
	}
}

func TestTrustedPluginDirMissing(t *testing.T) {
	if trusted, _ := TrustedPluginDir(filepath.Join(t.TempDir(), "nope")); trusted {
		t.Fatal("expected missing dir to be untrusted")
	}
}
