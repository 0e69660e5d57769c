package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/gitrepo"
	"github.com/fakeyudi/gitclock/internal/logger"
	"github.com/fakeyudi/gitclock/internal/tracker"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background tracking daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := newManager().Start(cmd.Context())
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			cmd.Printf("gitclock daemon is already running (pid %d)\n", pid)
			return nil
		}
		if err != nil {
			return err
		}
		cmd.Printf("gitclock daemon started (pid %d)\n", pid)
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon, keeping active sessions for the next start",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newManager().Stop(cmd.Context())
		if errors.Is(err, daemon.ErrNotRunning) {
			cmd.Println("gitclock daemon is not running")
			return nil
		}
		if err != nil {
			return err
		}
		if res.Forced {
			cmd.Printf("gitclock daemon (pid %d) did not exit in time and was killed\n", res.Pid)
			return nil
		}
		cmd.Printf("gitclock daemon stopped (pid %d)\n", res.Pid)
		return nil
	},
}

// daemonStatus is the --json shape of `daemon status`.
type daemonStatus struct {
	daemon.Status
	ActiveSessions int `json:"activeSessions"`
}

var daemonStatusJSON bool

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := daemonStatus{Status: newManager().Status()}
		if st.Running {
			resp, err := newClient(0).Status(cmd.Context())
			if err != nil {
				cliLog.Warn().Err(err).Msg("daemon is alive but did not answer")
			} else {
				st.ActiveSessions = len(resp.ActiveSessions)
			}
		}

		if daemonStatusJSON {
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		}
		if !st.Running {
			cmd.Println("gitclock daemon is not running")
			return nil
		}
		cmd.Printf("Running: pid %d\n", st.Pid)
		cmd.Printf("Socket: %s\n", st.SocketPath)
		cmd.Printf("Log: %s\n", st.LogPath)
		cmd.Printf("Active sessions: %d\n", st.ActiveSessions)
		return nil
	},
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	Annotations: map[string]string{
		annotationConfig: configDaemonOnly,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := logger.OpenFile(layout.LogPath)
		if err != nil {
			return err
		}
		defer f.Close()
		log := logger.New(cfg.LogLevel, f, false)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d := daemon.New(daemon.Options{
			Layout:  layout,
			Config:  cfg,
			Git:     gitrepo.GoGit{},
			Tracker: tracker.NewHTTPClient(cfg.Tracker.BaseURL, cfg.Tracker.Token, cfg.Tracker.Timeout),
			Log:     log,
		})
		if err := d.Run(ctx); err != nil {
			log.Error().Err(err).Msg("daemon exited with error")
			return err
		}
		return nil
	},
}

func init() {
	daemonStatusCmd.Flags().BoolVar(&daemonStatusJSON, "json", false, "print status as JSON")
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}
