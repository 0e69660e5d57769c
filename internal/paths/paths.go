// Package paths resolves where gitclock keeps its config, state and runtime files.
//
// Layout (XDG-style):
//
//	Config: ~/.config/gitclock/config.yaml      (override: GITCLOCK_CONFIG_DIR)
//	Data:   $XDG_DATA_HOME/gitclock/ or ~/.local/share/gitclock/
//	        state.json, activity.json, daemon.pid, daemon.lock, daemon.sock, daemon.log
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "gitclock"

// Layout holds every on-disk location the daemon and its clients share.
type Layout struct {
	DataDir      string
	StatePath    string // active sessions (DaemonState)
	ActivityPath string // activity log entries
	PidPath      string // liveness marker
	LockPath     string // held with flock by the running daemon
	SocketPath   string // request endpoint
	LogPath      string // daemon diagnostic output
}

// ConfigDir resolves the config directory.
// Priority: GITCLOCK_CONFIG_DIR env > ~/.config/gitclock/
func ConfigDir() (string, error) {
	if env := os.Getenv("GITCLOCK_CONFIG_DIR"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// ConfigPath returns the full path to the global config.yaml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns the gitclock-specific XDG data directory.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, appName), nil
}

// Default returns the Layout rooted at DataDir.
func Default() (Layout, error) {
	dir, err := DataDir()
	if err != nil {
		return Layout{}, fmt.Errorf("resolving data directory: %w", err)
	}
	return In(dir), nil
}

// In returns a Layout rooted at dir.
func In(dir string) Layout {
	return Layout{
		DataDir:      dir,
		StatePath:    filepath.Join(dir, "state.json"),
		ActivityPath: filepath.Join(dir, "activity.json"),
		PidPath:      filepath.Join(dir, "daemon.pid"),
		LockPath:     filepath.Join(dir, "daemon.lock"),
		SocketPath:   filepath.Join(dir, "daemon.sock"),
		LogPath:      filepath.Join(dir, "daemon.log"),
	}
}

// Ensure creates the data directory if it doesn't exist.
func (l Layout) Ensure() error {
	if err := os.MkdirAll(l.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", l.DataDir, err)
	}
	return nil
}
