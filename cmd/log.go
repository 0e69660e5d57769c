package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/prompt"
	"github.com/fakeyudi/gitclock/internal/report"
)

var (
	logDate     string
	logJSON     bool
	logUnsynced bool
	logClearYes bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recorded activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := newClient(0).Logs(cmd.Context(), daemon.LogsRequest{Date: logDate, UnsyncedOnly: logUnsynced})
		if err != nil {
			return err
		}
		out, err := report.For(logJSON).Entries(entries)
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}

var logClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recorded activity entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(0)
		if !logClearYes {
			if !isInteractive() {
				return errors.New("refusing to clear the activity log without --yes")
			}
			entries, err := c.Logs(cmd.Context(), daemon.LogsRequest{})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("Activity log is already empty.")
				return nil
			}
			ok, err := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout()).
				AskBool(fmt.Sprintf("Delete all %d entries, including unsynced ones?", len(entries)), false)
			if err != nil {
				return err
			}
			if !ok {
				cmd.Println("Nothing deleted.")
				return nil
			}
		}

		n, err := c.ClearLogs(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Cleared %d entries.\n", n)
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&logDate, "date", "", "only show this day (YYYY-MM-DD)")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "print entries as JSON")
	logCmd.Flags().BoolVar(&logUnsynced, "unsynced", false, "only show entries not yet synced")
	logClearCmd.Flags().BoolVarP(&logClearYes, "yes", "y", false, "skip the confirmation")
	logCmd.AddCommand(logClearCmd)
	rootCmd.AddCommand(logCmd)
}
