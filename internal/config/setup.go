package config

import (
	"io"
	"strings"

	"github.com/fakeyudi/gitclock/internal/prompt"
)

// RunSetup runs the interactive setup wizard and returns the resulting config.
// If existing is non-nil, it is used as the default for each prompt (edit mode).
func RunSetup(in io.Reader, out io.Writer, existing *Config) (*Config, error) {
	p := prompt.New(in, out)

	cfg := Defaults()
	if existing != nil {
		cfg = *existing
	}

	p.Println()
	p.Println("  ┌──────────────────────────────────┐")
	p.Println("  │   gitclock: tracker setup        │")
	p.Println("  └──────────────────────────────────┘")
	p.Println()

	var err error

	cfg.Tracker.BaseURL, err = p.Ask("  Tracker API URL", cfg.Tracker.BaseURL)
	if err != nil {
		return nil, err
	}
	cfg.Tracker.BaseURL = strings.TrimRight(cfg.Tracker.BaseURL, "/")

	// Never echo a stored token back; an empty answer keeps it.
	tokenDefault := ""
	if cfg.Tracker.Token != "" {
		tokenDefault = "keep current"
	}
	token, err := p.Ask("  API token", tokenDefault)
	if err != nil {
		return nil, err
	}
	if token != tokenDefault {
		cfg.Tracker.Token = token
	}

	cfg.Tracker.AuthorAccountID, err = p.Ask("  Your tracker account id", cfg.Tracker.AuthorAccountID)
	if err != nil {
		return nil, err
	}

	watch, err := p.AskBool("  Detect branch switches immediately", cfg.Daemon.HeadWatchEnabled())
	if err != nil {
		return nil, err
	}
	cfg.Daemon.WatchHead = &watch

	p.Println()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
