package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/gitclock/internal/gitrepo"
	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/tracker"
	"github.com/fakeyudi/gitclock/internal/worklog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGit treats every directory in branches as a repository on that branch.
type fakeGit struct {
	mu       sync.Mutex
	branches map[string]string
	err      error
}

func newFakeGit() *fakeGit {
	return &fakeGit{branches: map[string]string{}}
}

func (g *fakeGit) set(dir, branch string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.branches[dir] = branch
}

func (g *fakeGit) IsRepo(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.branches[path]
	return ok
}

func (g *fakeGit) CurrentBranch(path string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	b, ok := g.branches[path]
	if !ok {
		return "", gitrepo.ErrNotRepository
	}
	return b, nil
}

type fakeTracker struct {
	mu         sync.Mutex
	pulses     []tracker.Pulse
	worklogs   []tracker.Worklog
	pulseErr   error
	pulsePanic bool
	configured bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{configured: true}
}

func (f *fakeTracker) IsConfigured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *fakeTracker) SendPulse(_ context.Context, p tracker.Pulse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pulsePanic {
		panic("tracker exploded")
	}
	f.pulses = append(f.pulses, p)
	return f.pulseErr
}

func (f *fakeTracker) CreateWorklog(_ context.Context, w tracker.Worklog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worklogs = append(f.worklogs, w)
	return nil
}

func (f *fakeTracker) pulseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulses)
}

var errGitBroken = errors.New("git exploded")

type fixture struct {
	clock   *fakeClock
	git     *fakeGit
	tracker *fakeTracker
	store   *session.Store
	handler *Handler
	server  *Server
	timers  *Timers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{clock: newFakeClock(), git: newFakeGit(), tracker: newFakeTracker()}
	f.store = session.NewStore(
		filepath.Join(dir, "state.json"),
		filepath.Join(dir, "activity.json"),
		session.WithClock(f.clock.Now),
	)
	log := zerolog.Nop()
	f.handler = NewHandler(HandlerDeps{
		Store:   f.store,
		Git:     f.git,
		Tracker: f.tracker,
		Syncer:  worklog.NewSyncer(f.store, f.tracker, "acc-1", time.Minute, log),
		Log:     log,
		Now:     f.clock.Now,
	})
	f.server = NewServer(f.handler, log, time.Second)
	f.timers = NewTimers(f.store, f.git, f.tracker, TimerConfig{
		IdleSweepInterval:   time.Minute,
		BranchSweepInterval: time.Minute,
		PulseInterval:       5 * time.Minute,
		MaxSessionDuration:  8 * time.Hour,
		Now:                 f.clock.Now,
	}, log)
	t.Cleanup(f.handler.WaitPulses)
	return f
}
