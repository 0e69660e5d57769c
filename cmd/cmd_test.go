package cmd

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/gitclock/internal/config"
	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/gitrepo"
	"github.com/fakeyudi/gitclock/internal/paths"
	"github.com/fakeyudi/gitclock/internal/tracker"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	return executeWithInput(root, "", args...)
}

func executeWithInput(root *cobra.Command, input string, args ...string) (string, error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(args)
	_, err := root.ExecuteC()
	return buf.String(), err
}

// resetFlags restores every flag to its default; cobra keeps values between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type env struct {
	repo    string
	dataDir string
}

// setupEnv isolates config and data dirs and chdirs into a fresh repository on branch main.
func setupEnv(t *testing.T) env {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("GITCLOCK_CONFIG_DIR", filepath.Join(tmp, "cfg"))
	t.Setenv(config.EnvTrackerToken, "")
	t.Setenv(config.EnvTrackerURL, "")
	t.Setenv(config.EnvAuthorID, "")
	t.Setenv(config.EnvLogLevel, "")

	repoDir := filepath.Join(tmp, "repo")
	repo, err := git.PlainInit(repoDir, false)
	require.NoError(t, err)
	setBranch(t, repo, "main")
	t.Chdir(repoDir)

	prev := isInteractive
	isInteractive = func() bool { return false }
	t.Cleanup(func() { isInteractive = prev })

	return env{repo: repoDir, dataDir: filepath.Join(tmp, "data", "gitclock")}
}

func setBranch(t *testing.T, repo *git.Repository, branch string) {
	t.Helper()
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	require.NoError(t, repo.Storer.SetReference(ref))
}

type recordingTracker struct {
	mu       sync.Mutex
	worklogs []tracker.Worklog
}

func (r *recordingTracker) IsConfigured() bool { return true }

func (r *recordingTracker) SendPulse(context.Context, tracker.Pulse) error { return nil }

func (r *recordingTracker) CreateWorklog(_ context.Context, w tracker.Worklog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.worklogs = append(r.worklogs, w)
	return nil
}

func (r *recordingTracker) Worklogs() []tracker.Worklog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracker.Worklog(nil), r.worklogs...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// startDaemon runs an in-process daemon on the data dir the CLI resolves.
func startDaemon(t *testing.T, e env) (*recordingTracker, *testClock) {
	t.Helper()
	cfg := config.Defaults()
	watch := false
	cfg.Daemon.WatchHead = &watch

	tr := &recordingTracker{}
	clk := &testClock{now: time.Now()}
	d := daemon.New(daemon.Options{
		Layout:  paths.In(e.dataDir),
		Config:  cfg,
		Git:     gitrepo.GoGit{},
		Tracker: tr,
		Log:     zerolog.New(io.Discard),
		Now:     clk.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-d.Ready():
	case err := <-done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}
	return tr, clk
}

func TestCommandsWithoutDaemon(t *testing.T) {
	setupEnv(t)

	for _, args := range [][]string{{"status"}, {"start"}, {"log"}} {
		_, err := executeCommand(rootCmd, args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "daemon is not running", args)
	}
}

func TestStartOutsideRepository(t *testing.T) {
	setupEnv(t)
	outside := t.TempDir()

	_, err := executeCommand(rootCmd, "start", "--dir", outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not inside a git repository")
}

func TestStartStopFlow(t *testing.T) {
	e := setupEnv(t)
	_, clk := startDaemon(t, e)

	out, err := executeCommand(rootCmd, "start", "--issue", "PROJ-1", "--description", "login form")
	require.NoError(t, err)
	assert.Contains(t, out, "Tracking main in "+e.repo)

	out, err = executeCommand(rootCmd, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"issueId": "PROJ-1"`)
	assert.Contains(t, out, `"branch": "main"`)

	clk.Advance(25 * time.Minute)
	out, err = executeCommand(rootCmd, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "Stopped main after 25m0s")

	out, err = executeCommand(rootCmd, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "No active session")

	out, err = executeCommand(rootCmd, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "PROJ-1")
	assert.Contains(t, out, "Total: 25m0s across 1 entries")

	out, err = executeCommand(rootCmd, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No active sessions")
}

func TestStartAsksBeforeReplacing(t *testing.T) {
	e := setupEnv(t)
	startDaemon(t, e)
	isInteractive = func() bool { return true }

	_, err := executeCommand(rootCmd, "start", "--issue", "PROJ-1")
	require.NoError(t, err)

	out, err := executeWithInput(rootCmd, "n\n", "start", "--issue", "PROJ-2")
	require.NoError(t, err)
	assert.Contains(t, out, "Replace it?")
	assert.Contains(t, out, "Keeping the current session.")

	out, err = executeCommand(rootCmd, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "PROJ-1")

	out, err = executeWithInput(rootCmd, "y\n", "start", "--issue", "PROJ-2")
	require.NoError(t, err)
	assert.Contains(t, out, "Tracking main")

	out, err = executeCommand(rootCmd, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "PROJ-2")
	assert.NotContains(t, out, "PROJ-1")

	// --yes never prompts.
	out, err = executeCommand(rootCmd, "start", "--yes", "--issue", "PROJ-3")
	require.NoError(t, err)
	assert.NotContains(t, out, "Replace it?")
}

func TestSyncPromptsForMissingIssue(t *testing.T) {
	e := setupEnv(t)
	tr, clk := startDaemon(t, e)
	day := clk.Now().Format(time.DateOnly)

	_, err := executeCommand(rootCmd, "start")
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)
	_, err = executeCommand(rootCmd, "stop")
	require.NoError(t, err)

	isInteractive = func() bool { return true }
	out, err := executeWithInput(rootCmd, "PROJ-9\n", "sync", "--date", day)
	require.NoError(t, err)
	assert.Contains(t, out, "Issue for main")
	assert.Contains(t, out, "1 synced")

	worklogs := tr.Worklogs()
	require.Len(t, worklogs, 1)
	assert.Equal(t, "PROJ-9", worklogs[0].IssueID)
	assert.Equal(t, 600, worklogs[0].Seconds)

	out, err = executeCommand(rootCmd, "log", "--unsynced")
	require.NoError(t, err)
	assert.Contains(t, out, "No activity recorded")
}

func TestSyncWithoutIssueReportsFailure(t *testing.T) {
	e := setupEnv(t)
	tr, clk := startDaemon(t, e)
	day := clk.Now().Format(time.DateOnly)

	_, err := executeCommand(rootCmd, "start")
	require.NoError(t, err)
	clk.Advance(5 * time.Minute)
	_, err = executeCommand(rootCmd, "stop")
	require.NoError(t, err)

	out, err := executeCommand(rootCmd, "sync", "--date", day)
	require.Error(t, err)
	assert.Contains(t, out, "1 failed")
	assert.Empty(t, tr.Worklogs())
}

func TestSyncRejectsBadDate(t *testing.T) {
	e := setupEnv(t)
	startDaemon(t, e)

	_, err := executeCommand(rootCmd, "sync", "--date", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date")
}

func TestLogClear(t *testing.T) {
	e := setupEnv(t)
	_, clk := startDaemon(t, e)

	_, err := executeCommand(rootCmd, "start")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = executeCommand(rootCmd, "stop")
	require.NoError(t, err)

	_, err = executeCommand(rootCmd, "log", "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := executeCommand(rootCmd, "log", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 entries.")

	out, err = executeCommand(rootCmd, "log", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestDaemonStatus(t *testing.T) {
	e := setupEnv(t)

	out, err := executeCommand(rootCmd, "daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")

	startDaemon(t, e)
	_, err = executeCommand(rootCmd, "start")
	require.NoError(t, err)

	out, err = executeCommand(rootCmd, "daemon", "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"running": true`)
	assert.Contains(t, out, `"activeSessions": 1`)
}

func TestDaemonStopWhenNotRunning(t *testing.T) {
	setupEnv(t)

	out, err := executeCommand(rootCmd, "daemon", "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestSetupWritesGlobalConfig(t *testing.T) {
	setupEnv(t)

	input := "https://tracker.example.com/\nsecret\nacc-1\nn\n"
	out, err := executeWithInput(rootCmd, input, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "Config saved")

	got, err := config.LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, "https://tracker.example.com", got.Tracker.BaseURL)
	assert.Equal(t, "secret", got.Tracker.Token)
	assert.Equal(t, "acc-1", got.Tracker.AuthorAccountID)
	assert.False(t, got.Daemon.HeadWatchEnabled())
}
