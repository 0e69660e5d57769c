package client

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/gitclock/internal/config"
	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/paths"
	"github.com/fakeyudi/gitclock/internal/tracker"
)

type repos map[string]string

func (r repos) IsRepo(path string) bool {
	_, ok := r[path]
	return ok
}

func (r repos) CurrentBranch(path string) (string, error) { return r[path], nil }

type nopTracker struct {
	mu       sync.Mutex
	worklogs int
}

func (*nopTracker) SendPulse(context.Context, tracker.Pulse) error { return nil }

func (n *nopTracker) CreateWorklog(context.Context, tracker.Worklog) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.worklogs++
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// startDaemon runs an in-process daemon and returns a client for it.
func startDaemon(t *testing.T) (*Client, *clock) {
	t.Helper()
	layout := paths.In(filepath.Join(t.TempDir(), "gc"))
	cfg := config.Defaults()
	watch := false
	cfg.Daemon.WatchHead = &watch
	clk := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)}

	d := daemon.New(daemon.Options{
		Layout:  layout,
		Config:  cfg,
		Git:     repos{"/repo": "main"},
		Tracker: &nopTracker{},
		Log:     zerolog.Nop(),
		Now:     clk.Now,
	})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	select {
	case <-d.Ready():
	case err := <-errc:
		cancel()
		t.Fatalf("daemon failed: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon not ready")
	}
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return New(layout.SocketPath), clk
}

func TestClientRoundTrip(t *testing.T) {
	c, clk := startDaemon(t)
	ctx := context.Background()

	assert.True(t, c.Connect(ctx))

	sess, err := c.Start(ctx, daemon.StartRequest{Directory: "/repo", Branch: "main", IssueID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "main", sess.Branch)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsRunning)
	require.Len(t, st.ActiveSessions, 1)
	assert.Equal(t, sess.ID, st.ActiveSessions[0].ID)

	clk.Advance(70 * time.Second)
	entry, err := c.Stop(ctx, "/repo")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 70*time.Second, entry.Duration())

	none, err := c.Stop(ctx, "/repo")
	require.NoError(t, err)
	assert.Nil(t, none)

	res, err := c.Sync(ctx, daemon.SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	logs, err := c.Logs(ctx, daemon.LogsRequest{Date: clk.Now().Format(time.DateOnly)})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Synced)

	unsynced, err := c.Logs(ctx, daemon.LogsRequest{UnsyncedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	n, err := c.ClearLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	c, _ := startDaemon(t)

	_, err := c.Start(context.Background(), daemon.StartRequest{Directory: "relative", Branch: "main"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected *APIError, got %T: %v", err, err)
	assert.True(t, apiErr.BadRequest())
	assert.Contains(t, apiErr.Message, "absolute")
	assert.NotErrorIs(t, err, ErrDaemonNotRunning)

	_, err = c.Start(context.Background(), daemon.StartRequest{Directory: "/elsewhere", Branch: "main"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, daemon.CodeOperationFailed, apiErr.Code)
}

func TestClientDaemonNotRunning(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "daemon.sock"), WithTimeout(200*time.Millisecond))

	assert.False(t, c.Connect(context.Background()))

	_, err := c.Status(context.Background())
	require.ErrorIs(t, err, ErrDaemonNotRunning)
	assert.Equal(t, "gitclock daemon is not running; start it with 'gitclock daemon start'", err.Error())

	var unreachable *UnreachableError
	require.True(t, errors.As(err, &unreachable))
	assert.NotNil(t, unreachable.Unwrap())
}
