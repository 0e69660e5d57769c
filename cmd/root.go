package cmd

import (
	"os"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/client"
	"github.com/fakeyudi/gitclock/internal/config"
	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/logger"
	"github.com/fakeyudi/gitclock/internal/paths"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// layout holds the runtime file locations.
var layout paths.Layout

// cliLog is the CLI's stderr logger. Warn level unless --verbose.
var cliLog = zerolog.Nop()

var verbose bool

// Commands annotated with configDaemonOnly skip the project config file.
const (
	annotationConfig = "gitclock/config"
	configDaemonOnly = "daemon"
)

// isInteractive reports whether prompts may be shown. Tests replace it.
var isInteractive = func() bool {
	return term.IsTerminal(os.Stdin.Fd())
}

var rootCmd = &cobra.Command{
	Use:          "gitclock",
	Short:        "Track time spent per git branch and report it to your time tracker",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := string(logger.LevelWarn)
		if verbose {
			level = string(logger.LevelDebug)
		}
		cliLog = logger.New(level, cmd.ErrOrStderr(), true)

		var err error
		layout, err = paths.Default()
		if err != nil {
			return err
		}

		// Setup edits the global file directly and must work when it is broken.
		if cmd.Name() == "setup" {
			return nil
		}

		if cmd.Annotations[annotationConfig] == configDaemonOnly {
			cfg, err = config.LoadDaemon()
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		cliLog.Debug().Str("data_dir", layout.DataDir).Msg("configuration loaded")
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// newClient returns a client for the daemon socket with the configured
// request timeout, or timeout when it is longer.
func newClient(timeout time.Duration) *client.Client {
	if timeout < cfg.Daemon.RequestTimeout {
		timeout = cfg.Daemon.RequestTimeout
	}
	return client.New(layout.SocketPath, client.WithTimeout(timeout))
}

func newManager() *daemon.Manager {
	return daemon.NewManager(layout, daemon.WithManagerLogger(cliLog))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
