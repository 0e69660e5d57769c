package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/gitclock/internal/gitrepo"
	"github.com/fakeyudi/gitclock/internal/recovery"
	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/tracker"
)

// TimerConfig schedules the background sweeps.
type TimerConfig struct {
	IdleSweepInterval   time.Duration
	BranchSweepInterval time.Duration
	PulseInterval       time.Duration
	MaxSessionDuration  time.Duration
	PulseTimeout        time.Duration

	// Watcher, when set, triggers a branch check as soon as a tracked
	// repository's HEAD changes. The branch sweep reconciles its watch set.
	Watcher *gitrepo.HeadWatcher

	Now func() time.Time // defaults to time.Now
}

// Timers runs the idle-expiry, branch-change and pulse sweeps. Each sweep
// works on a snapshot of the active sessions and mutates only through the
// store, so it may interleave freely with requests.
type Timers struct {
	store   *session.Store
	git     gitrepo.Repo
	tracker tracker.Client
	cfg     TimerConfig
	log     zerolog.Logger
}

// NewTimers returns Timers over the given collaborators.
func NewTimers(store *session.Store, git gitrepo.Repo, tc tracker.Client, cfg TimerConfig, log zerolog.Logger) *Timers {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PulseTimeout <= 0 {
		cfg.PulseTimeout = defaultPulseTimeout
	}
	return &Timers{store: store, git: git, tracker: tc, cfg: cfg, log: log}
}

// SweepIdle closes every session that has run for longer than the maximum
// session duration and returns how many it closed.
func (t *Timers) SweepIdle() int {
	now := t.cfg.Now()
	closed := 0
	for _, s := range t.store.ListActive() {
		if now.Sub(s.StartTime) <= t.cfg.MaxSessionDuration {
			continue
		}
		entry, err := t.store.Close(s.ID, session.ReasonMaxDuration)
		if errors.Is(err, session.ErrSessionNotFound) {
			t.log.Debug().Str("id", s.ID).Msg("idle sweep lost close race")
			continue
		}
		if err != nil {
			t.log.Error().Err(err).Str("id", s.ID).Msg("idle sweep failed to close session")
			continue
		}
		closed++
		t.log.Info().Str("id", entry.ID).Str("directory", entry.Directory).
			Dur("duration", entry.Duration()).Msg(session.ReasonMaxDuration)
	}
	return closed
}

// SweepBranches rolls over every session whose repository switched branch
// and returns how many rolled over.
func (t *Timers) SweepBranches() int {
	active := t.store.ListActive()
	rolled := 0
	for _, s := range active {
		if t.checkBranch(s) {
			rolled++
		}
	}
	if t.cfg.Watcher != nil {
		dirs := make([]string, 0, len(active))
		for _, s := range t.store.ListActive() {
			dirs = append(dirs, s.Directory)
		}
		t.cfg.Watcher.Reconcile(dirs)
	}
	return rolled
}

// CheckDirectory runs the branch check for the session tracking dir, if any.
func (t *Timers) CheckDirectory(dir string) bool {
	s, ok := t.store.FindByDirectory(dir)
	if !ok {
		return false
	}
	return t.checkBranch(s)
}

// checkBranch asks git outside any store lock, then rolls over only if the
// session is still on the branch that was observed.
func (t *Timers) checkBranch(s session.TrackingSession) bool {
	branch, err := t.git.CurrentBranch(s.Directory)
	if err != nil {
		t.log.Warn().Err(err).Str("directory", s.Directory).Msg("branch check failed; keeping session")
		return false
	}
	if branch == s.Branch {
		return false
	}
	closed, next, err := t.store.Rollover(s.ID, s.Branch, branch)
	if errors.Is(err, session.ErrSessionNotFound) {
		t.log.Debug().Str("id", s.ID).Msg("branch rollover lost race")
		return false
	}
	if err != nil {
		t.log.Error().Err(err).Str("id", s.ID).Msg("branch rollover failed")
		return false
	}
	t.log.Info().Str("directory", s.Directory).Str("from", closed.Branch).Str("to", next.Branch).
		Dur("duration", closed.Duration()).Msg("branch rollover")
	return true
}

// BroadcastPulses sends an advisory pulse for every active session and
// returns how many were attempted. Failures are logged only.
func (t *Timers) BroadcastPulses() int {
	active := t.store.ListActive()
	for _, s := range active {
		sendPulse(t.log, t.tracker, s, t.cfg.PulseTimeout)
	}
	return len(active)
}

// Run drives the sweeps until ctx is cancelled. A tick that panics is
// logged and the next tick still runs.
func (t *Timers) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loop := func(name string, every time.Duration, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					recovery.Guard(t.log, name, fn)
				}
			}
		}()
	}

	loop("idle-sweep", t.cfg.IdleSweepInterval, func() { t.SweepIdle() })
	loop("branch-sweep", t.cfg.BranchSweepInterval, func() { t.SweepBranches() })
	loop("pulse-broadcast", t.cfg.PulseInterval, func() { t.BroadcastPulses() })

	if w := t.cfg.Watcher; w != nil {
		recovery.Guard(t.log, "head-watch-init", func() { t.SweepBranches() })
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case dir, ok := <-w.Events():
					if !ok {
						return
					}
					recovery.Guard(t.log, "head-watch", func() { t.CheckDirectory(dir) })
				}
			}
		}()
	}

	wg.Wait()
}
