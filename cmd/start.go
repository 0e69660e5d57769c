package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/gitrepo"
	"github.com/fakeyudi/gitclock/internal/prompt"
	"github.com/fakeyudi/gitclock/internal/report"
	"github.com/fakeyudi/gitclock/internal/session"
)

var (
	startIssue       string
	startDescription string
	startDir         string
	startYes         bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start tracking the current branch of a repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot(startDir)
		if err != nil {
			return err
		}
		branch, err := gitrepo.GoGit{}.CurrentBranch(root)
		if err != nil {
			return fmt.Errorf("reading current branch: %w", err)
		}

		c := newClient(0)
		ctx := cmd.Context()

		if !startYes && isInteractive() {
			status, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if existing, ok := findSession(status.ActiveSessions, root); ok {
				p := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout())
				replace, err := p.AskBool(fmt.Sprintf("Already tracking %s for %s. Replace it?",
					existing.Branch, report.FormatDuration(time.Since(existing.StartTime))), false)
				if err != nil {
					return err
				}
				if !replace {
					cmd.Println("Keeping the current session.")
					return nil
				}
			}
		}

		s, err := c.Start(ctx, daemon.StartRequest{
			Directory:   root,
			Branch:      branch,
			IssueID:     startIssue,
			Description: startDescription,
		})
		if err != nil {
			return err
		}
		cmd.Printf("Tracking %s in %s\n", s.Branch, s.Directory)
		return nil
	},
}

// repoRoot resolves dir (the working directory when empty) to the root of
// the repository containing it.
func repoRoot(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	root, err := gitrepo.GoGit{}.Root(abs)
	if errors.Is(err, gitrepo.ErrNotRepository) {
		return "", fmt.Errorf("%s is not inside a git repository", abs)
	}
	return root, err
}

func findSession(sessions []session.TrackingSession, dir string) (session.TrackingSession, bool) {
	for _, s := range sessions {
		if s.Directory == dir {
			return s, true
		}
	}
	return session.TrackingSession{}, false
}

func init() {
	startCmd.Flags().StringVarP(&startIssue, "issue", "i", "", "issue key or id to log time against")
	startCmd.Flags().StringVarP(&startDescription, "description", "d", "", "worklog description")
	startCmd.Flags().StringVar(&startDir, "dir", "", "repository directory (default: current directory)")
	startCmd.Flags().BoolVarP(&startYes, "yes", "y", false, "replace an existing session without asking")
	rootCmd.AddCommand(startCmd)
}
