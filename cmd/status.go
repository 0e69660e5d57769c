package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/report"
	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/tui"
)

var (
	statusJSON  bool
	statusWatch bool
)

const watchInterval = 2 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sessions the daemon is tracking",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(0)

		if statusWatch {
			return tui.Run(func() ([]session.TrackingSession, error) {
				resp, err := c.Status(context.Background())
				return resp.ActiveSessions, err
			}, watchInterval)
		}

		resp, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		out, err := report.For(statusJSON).Sessions(resp.ActiveSessions, time.Now())
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print sessions as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep refreshing in a full-screen view")
	rootCmd.AddCommand(statusCmd)
}
