package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/config"
	"github.com/fakeyudi/gitclock/internal/paths"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure the time tracker connection (re-run anytime to edit settings)",
	RunE: func(cmd *cobra.Command, args []string) error {
		// A broken global file is replaced rather than blocking setup.
		existing, err := config.LoadGlobal()
		if err != nil {
			cmd.PrintErrf("  ⚠ ignoring unreadable config: %v\n", err)
			existing = nil
		}

		updated, err := config.RunSetup(cmd.InOrStdin(), cmd.OutOrStdout(), existing)
		if err != nil {
			return fmt.Errorf("setup cancelled: %w", err)
		}
		if err := config.Save(updated); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		path, _ := paths.ConfigPath()
		cmd.Printf("  ✓ Config saved to %s.\n", path)
		cmd.Println("  Restart the daemon to apply changes: gitclock daemon stop && gitclock daemon start")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
