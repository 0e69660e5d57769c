package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/prompt"
	"github.com/fakeyudi/gitclock/internal/report"
	"github.com/fakeyudi/gitclock/internal/session"
)

// syncTimeout covers one tracker round trip per entry.
const syncTimeout = 60 * time.Second

var (
	syncDate string
	syncJSON bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Submit a day's unsynced activity to the time tracker",
	RunE: func(cmd *cobra.Command, args []string) error {
		date := syncDate
		if date == "" {
			date = time.Now().Format(time.DateOnly)
		}
		c := newClient(syncTimeout)
		ctx := cmd.Context()

		var fills map[string]string
		if isInteractive() {
			entries, err := c.Logs(ctx, daemon.LogsRequest{Date: date, UnsyncedOnly: true})
			if err != nil {
				return err
			}
			if fills, err = askMissingIssues(cmd, entries); err != nil {
				return err
			}
		}

		res, err := c.Sync(ctx, daemon.SyncRequest{Date: date, IssueIDs: fills})
		if err != nil {
			return err
		}
		out, err := report.For(syncJSON).SyncResult(res)
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		if res.Failed > 0 {
			return fmt.Errorf("%d worklog(s) failed to sync; see %s", res.Failed, layout.LogPath)
		}
		return nil
	},
}

// askMissingIssues asks for an issue for every entry long enough to be
// submitted that has none. Empty answers leave the entry unsynced.
func askMissingIssues(cmd *cobra.Command, entries []session.ActivityLogEntry) (map[string]string, error) {
	p := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout())
	fills := make(map[string]string)
	for _, e := range entries {
		if e.IssueID != "" || e.Duration() < cfg.Daemon.MinWorklogDuration {
			continue
		}
		label := fmt.Sprintf("Issue for %s (%s at %s, empty to skip)",
			e.Branch, report.FormatDuration(e.Duration()), e.StartTime.Local().Format("15:04"))
		issue, err := p.Ask(label, "")
		if err != nil {
			return nil, err
		}
		if issue != "" {
			fills[e.ID] = issue
		}
	}
	return fills, nil
}

func init() {
	syncCmd.Flags().StringVar(&syncDate, "date", "", "day to sync as YYYY-MM-DD (default: today)")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(syncCmd)
}
