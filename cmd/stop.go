package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/report"
)

var stopDir string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop tracking a repository and record the elapsed time",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := repoRoot(stopDir)
		if err != nil {
			// A repository that has since been deleted can still be stopped by path.
			if dir, err = absDir(stopDir); err != nil {
				return err
			}
		}

		entry, err := newClient(0).Stop(cmd.Context(), dir)
		if err != nil {
			return err
		}
		if entry == nil {
			cmd.Printf("No active session for %s\n", dir)
			return nil
		}
		cmd.Printf("Stopped %s after %s\n", entry.Branch, report.FormatDuration(entry.Duration()))
		return nil
	},
}

func absDir(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(dir)
}

func init() {
	stopCmd.Flags().StringVar(&stopDir, "dir", "", "repository directory (default: current directory)")
	rootCmd.AddCommand(stopCmd)
}
