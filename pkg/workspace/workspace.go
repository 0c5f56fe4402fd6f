// Package workspace resolves the bridge home directory: responder plugins,
// the transcript file and the restart flag all live under one root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
)

const (
	defaultHomeDirName = ".clawbridge"

	respondersDirName = "responders"
	historyFileName   = "history.json"
	restartFlagName   = "restart.flag"
)

// Layout is the resolved on-disk home of a bridge process.
type Layout struct {
	rootPath string
}

// Resolve normalizes a home path, creates the directory tree when missing
// and returns the layout. An empty path means ~/.clawbridge.
func Resolve(homePath string) (*Layout, error) {
	trimmed := strings.TrimSpace(homePath)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(homeDir, defaultHomeDirName)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute home path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(filepath.Join(cleanPath, respondersDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create bridge home: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("resolve bridge home: %w", err)
	}

	return &Layout{rootPath: filepath.Clean(resolved)}, nil
}

// Root returns the normalized absolute home path.
func (l *Layout) Root() string {
	if l == nil {
		return ""
	}

	return l.rootPath
}

// RespondersDir returns the responder plugin directory.
func (l *Layout) RespondersDir() string {
	return filepath.Join(l.rootPath, respondersDirName)
}

// HistoryFile returns the transcript file path.
func (l *Layout) HistoryFile() string {
	return filepath.Join(l.rootPath, historyFileName)
}

// RestartFlag returns the restart sentinel path.
func (l *Layout) RestartFlag() string {
	return filepath.Join(l.rootPath, restartFlagName)
}

// RestartRequested reports whether the restart sentinel exists.
func (l *Layout) RestartRequested() bool {
	_, err := os.Stat(l.RestartFlag())
	return err == nil
}

// ClearRestartFlag removes the restart sentinel. Missing is not an error.
func (l *Layout) ClearRestartFlag() error {
	if err := os.Remove(l.RestartFlag()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove restart flag: %w", err)
	}

	return nil
}

// RequestRestart creates the restart sentinel.
func (l *Layout) RequestRestart() error {
	if err := os.WriteFile(l.RestartFlag(), nil, 0o644); err != nil {
		return fmt.Errorf("write restart flag: %w", err)
	}

	return nil
}

// TrustedPluginDir checks whether a plugin directory is safe to load from.
// Returns (true, "") when trusted, or (false, reason).
func TrustedPluginDir(dir string) (bool, string) {
	info, err := os.Stat(dir)
	if err != nil {
		return false, fmt.Sprintf("cannot stat plugin directory: %v", err)
	}
	if !info.IsDir() {
		return false, "plugin path is not a directory"
	}

	if runtime.GOOS != "windows" {
		if info.Mode().Perm()&0o002 != 0 {
			return false, "plugin directory is world-writable"
		}
		if stat, ok := info.Sys().(*syscall.Stat_t); ok {
			if uid := os.Getuid(); uid != 0 && stat.Uid != uint32(uid) {
				return false, "plugin directory is not owned by the current user"
			}
		}
	}

	return true, ""
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}
