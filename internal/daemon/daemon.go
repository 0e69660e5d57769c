// Package daemon is the background tracking process: the session store, the
// request protocol served on a unix socket, the timer sweeps and the process
// lifecycle around them.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/gitclock/internal/config"
	"github.com/fakeyudi/gitclock/internal/gitrepo"
	"github.com/fakeyudi/gitclock/internal/paths"
	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/tracker"
	"github.com/fakeyudi/gitclock/internal/worklog"
)

// State is the daemon's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a Daemon.
type Options struct {
	Layout  paths.Layout
	Config  config.Config
	Git     gitrepo.Repo
	Tracker tracker.Client
	Log     zerolog.Logger
	Now     func() time.Time // defaults to time.Now
}

// Daemon owns the session store and everything that mutates it for the
// lifetime of one Run.
type Daemon struct {
	opts  Options
	state atomic.Int32
	ran   atomic.Bool

	mu    sync.Mutex
	store *session.Store
	ready chan struct{}
}

// New returns a stopped Daemon.
func New(opts Options) *Daemon {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Daemon{opts: opts, ready: make(chan struct{})}
}

// State reports the current lifecycle state.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

// Ready is closed once the daemon is serving and has written its marker.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Store returns the session store of the current run, or nil before Run.
func (d *Daemon) Store() *session.Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
	d.opts.Log.Debug().Str("state", s.String()).Msg("daemon state")
}

// Run starts the daemon and blocks until ctx is cancelled, then shuts down
// gracefully. It fails without leaving a liveness marker if another daemon
// holds the instance lock or the socket cannot be bound. A Daemon runs at most once.
func (d *Daemon) Run(ctx context.Context) error {
	if d.ran.Swap(true) {
		return errors.New("daemon: Run called twice")
	}
	d.setState(StateStarting)
	defer d.setState(StateStopped)

	layout, cfg, log := d.opts.Layout, d.opts.Config, d.opts.Log

	if err := layout.Ensure(); err != nil {
		return err
	}
	lockPath := layout.LockPath
	if lockPath == "" {
		lockPath = layout.PidPath + ".lock"
	}
	lock, err := acquireInstanceLock(lockPath, layout.PidPath)
	if err != nil {
		return err
	}
	defer lock.release()

	// Holding the lock means no other daemon is alive: a leftover marker or
	// socket is stale and gets replaced.
	if err := os.Remove(layout.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	store := session.NewStore(layout.StatePath, layout.ActivityPath,
		session.WithClock(d.opts.Now), session.WithLogger(log))
	if err := store.Load(); err != nil {
		log.Warn().Err(err).Msg("ignored unreadable state; starting empty")
	}
	d.mu.Lock()
	d.store = store
	d.mu.Unlock()

	ln, err := net.Listen("unix", layout.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", layout.SocketPath, err)
	}
	if err := os.Chmod(layout.SocketPath, 0o600); err != nil {
		log.Warn().Err(err).Msg("failed to restrict socket permissions")
	}

	handler := NewHandler(HandlerDeps{
		Store:        store,
		Git:          d.opts.Git,
		Tracker:      d.opts.Tracker,
		Syncer:       worklog.NewSyncer(store, d.opts.Tracker, cfg.Tracker.AuthorAccountID, cfg.Daemon.MinWorklogDuration, log),
		Log:          log,
		Now:          d.opts.Now,
		PulseTimeout: cfg.Tracker.Timeout,
	})
	server := NewServer(handler, log, cfg.Daemon.RequestTimeout)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ln) }()

	var watcher *gitrepo.HeadWatcher
	if cfg.Daemon.HeadWatchEnabled() {
		if watcher, err = gitrepo.NewHeadWatcher(log); err != nil {
			log.Warn().Err(err).Msg("HEAD watching unavailable; relying on branch sweep")
			watcher = nil
		}
	}
	timers := NewTimers(store, d.opts.Git, d.opts.Tracker, TimerConfig{
		IdleSweepInterval:   cfg.Daemon.IdleSweepInterval,
		BranchSweepInterval: cfg.Daemon.BranchSweepInterval,
		PulseInterval:       cfg.Daemon.PulseInterval,
		MaxSessionDuration:  cfg.Daemon.MaxSessionDuration,
		PulseTimeout:        cfg.Tracker.Timeout,
		Watcher:             watcher,
		Now:                 d.opts.Now,
	}, log)
	timerCtx, stopTimers := context.WithCancel(context.Background())
	timersDone := make(chan struct{})
	go func() {
		defer close(timersDone)
		timers.Run(timerCtx)
	}()

	pid := os.Getpid()
	var runErr error
	if err := WritePid(layout.PidPath, pid); err != nil {
		runErr = err
	} else {
		d.setState(StateRunning)
		close(d.ready)
		log.Info().Int("pid", pid).Str("socket", layout.SocketPath).
			Int("sessions", len(store.ListActive())).Msg("daemon running")

		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown requested")
		case err := <-serveErr:
			runErr = fmt.Errorf("server stopped: %w", err)
		}
	}

	d.setState(StateStopping)

	stopTimers()
	<-timersDone
	if watcher != nil {
		watcher.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	cancel()
	handler.WaitPulses()

	if err := store.Persist(); err != nil {
		log.Error().Err(err).Msg("failed to flush state on shutdown")
	}
	removePidIfOwned(layout.PidPath, pid)
	if err := os.Remove(layout.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to remove socket")
	}
	log.Info().Msg("daemon stopped")
	return runErr
}
