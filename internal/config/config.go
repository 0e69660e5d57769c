// Package config loads gitclock settings from the global config file, the
// project file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fakeyudi/gitclock/internal/atomicfile"
	"github.com/fakeyudi/gitclock/internal/paths"
)

// ProjectFile is the per-repository config file name.
const ProjectFile = ".gitclock.yaml"

// Config holds all configurable gitclock settings.
type Config struct {
	LogLevel string        `yaml:"log_level,omitempty"`
	Tracker  TrackerConfig `yaml:"tracker"`
	Daemon   DaemonConfig  `yaml:"daemon"`
}

// TrackerConfig describes the time-tracking service.
type TrackerConfig struct {
	BaseURL         string        `yaml:"base_url,omitempty"`
	Token           string        `yaml:"token,omitempty"`
	AuthorAccountID string        `yaml:"author_account_id,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

// DaemonConfig holds the daemon's timer and request settings.
type DaemonConfig struct {
	IdleSweepInterval   time.Duration `yaml:"idle_sweep_interval,omitempty"`
	BranchSweepInterval time.Duration `yaml:"branch_sweep_interval,omitempty"`
	PulseInterval       time.Duration `yaml:"pulse_interval,omitempty"`
	MaxSessionDuration  time.Duration `yaml:"max_session_duration,omitempty"`
	MinWorklogDuration  time.Duration `yaml:"min_worklog_duration,omitempty"`
	RequestTimeout      time.Duration `yaml:"request_timeout,omitempty"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout,omitempty"`
	WatchHead           *bool         `yaml:"watch_head,omitempty"` // nil means default (on)
}

// HeadWatchEnabled reports whether HEAD changes are watched with fsnotify.
func (d DaemonConfig) HeadWatchEnabled() bool {
	return d.WatchHead == nil || *d.WatchHead
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	watch := true
	return Config{
		LogLevel: "info",
		Tracker: TrackerConfig{
			BaseURL: "https://api.tempo.io",
			Timeout: 10 * time.Second,
		},
		Daemon: DaemonConfig{
			IdleSweepInterval:   time.Minute,
			BranchSweepInterval: time.Minute,
			PulseInterval:       5 * time.Minute,
			MaxSessionDuration:  8 * time.Hour,
			MinWorklogDuration:  60 * time.Second,
			RequestTimeout:      5 * time.Second,
			ShutdownTimeout:     10 * time.Second,
			WatchHead:           &watch,
		},
	}
}

// Load resolves the effective configuration: defaults, then the global file,
// then .gitclock.yaml in the working directory, then the environment.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, err
	}
	cfg := Merge(global, project)
	ApplyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDaemon resolves the daemon's configuration: defaults, the global file,
// then the environment. Project files are per-repository and never apply
// to the daemon.
func LoadDaemon() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	cfg := Merge(global, nil)
	ApplyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadGlobal reads ~/.config/gitclock/config.yaml.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .gitclock.yaml in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Save writes cfg to the global config file, creating its directory.
// The file may hold a token, so it is written owner-only.
func Save(cfg *Config) error {
	path, err := paths.ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data, 0o600)
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, layer := range []*Config{global, project} {
		if layer != nil {
			overlay(&result, layer)
		}
	}
	return result
}

func overlay(dst, src *Config) {
	setString(&dst.LogLevel, src.LogLevel)

	setString(&dst.Tracker.BaseURL, src.Tracker.BaseURL)
	setString(&dst.Tracker.Token, src.Tracker.Token)
	setString(&dst.Tracker.AuthorAccountID, src.Tracker.AuthorAccountID)
	setDuration(&dst.Tracker.Timeout, src.Tracker.Timeout)

	d, s := &dst.Daemon, &src.Daemon
	setDuration(&d.IdleSweepInterval, s.IdleSweepInterval)
	setDuration(&d.BranchSweepInterval, s.BranchSweepInterval)
	setDuration(&d.PulseInterval, s.PulseInterval)
	setDuration(&d.MaxSessionDuration, s.MaxSessionDuration)
	setDuration(&d.MinWorklogDuration, s.MinWorklogDuration)
	setDuration(&d.RequestTimeout, s.RequestTimeout)
	setDuration(&d.ShutdownTimeout, s.ShutdownTimeout)
	if s.WatchHead != nil {
		v := *s.WatchHead
		d.WatchHead = &v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// Environment variables that override file settings.
const (
	EnvTrackerToken = "GITCLOCK_TRACKER_TOKEN"
	EnvTrackerURL   = "GITCLOCK_TRACKER_URL"
	EnvAuthorID     = "GITCLOCK_AUTHOR_ID"
	EnvLogLevel     = "GITCLOCK_LOG_LEVEL"
)

// ApplyEnv overlays non-empty environment values read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	setString(&cfg.Tracker.Token, strings.TrimSpace(getenv(EnvTrackerToken)))
	setString(&cfg.Tracker.BaseURL, strings.TrimSpace(getenv(EnvTrackerURL)))
	setString(&cfg.Tracker.AuthorAccountID, strings.TrimSpace(getenv(EnvAuthorID)))
	setString(&cfg.LogLevel, strings.TrimSpace(getenv(EnvLogLevel)))
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	durations := []struct {
		key string
		val time.Duration
	}{
		{"tracker.timeout", c.Tracker.Timeout},
		{"daemon.idle_sweep_interval", c.Daemon.IdleSweepInterval},
		{"daemon.branch_sweep_interval", c.Daemon.BranchSweepInterval},
		{"daemon.pulse_interval", c.Daemon.PulseInterval},
		{"daemon.max_session_duration", c.Daemon.MaxSessionDuration},
		{"daemon.min_worklog_duration", c.Daemon.MinWorklogDuration},
		{"daemon.request_timeout", c.Daemon.RequestTimeout},
		{"daemon.shutdown_timeout", c.Daemon.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return &ConfigError{Key: d.key, Msg: fmt.Sprintf("must be positive, got %s", d.val)}
		}
	}
	if !strings.HasPrefix(c.Tracker.BaseURL, "http://") && !strings.HasPrefix(c.Tracker.BaseURL, "https://") {
		return &ConfigError{Key: "tracker.base_url", Msg: fmt.Sprintf("must be an http(s) URL, got %q", c.Tracker.BaseURL)}
	}
	return nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	return "invalid config " + e.Key + ": " + e.Msg
}
