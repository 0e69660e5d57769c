package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/gitclock/internal/gitrepo"
	"github.com/fakeyudi/gitclock/internal/recovery"
	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/tracker"
	"github.com/fakeyudi/gitclock/internal/worklog"
)

const defaultPulseTimeout = 10 * time.Second

// HandlerDeps are the collaborators a Handler works with.
type HandlerDeps struct {
	Store        *session.Store
	Git          gitrepo.Repo
	Tracker      tracker.Client
	Syncer       *worklog.Syncer
	Log          zerolog.Logger
	Now          func() time.Time // defaults to time.Now
	PulseTimeout time.Duration
}

// Handler applies protocol commands to the session store. It knows nothing
// about the transport. Every request is fully validated before the store is
// touched, and requests for the same directory run one at a time.
type Handler struct {
	store        *session.Store
	git          gitrepo.Repo
	tracker      tracker.Client
	syncer       *worklog.Syncer
	log          zerolog.Logger
	now          func() time.Time
	pulseTimeout time.Duration
	locks        dirLocks

	pulseMu      sync.Mutex
	pulsesClosed bool
	pulses       sync.WaitGroup
}

// NewHandler returns a Handler over deps.
func NewHandler(deps HandlerDeps) *Handler {
	h := &Handler{
		store:        deps.Store,
		git:          deps.Git,
		tracker:      deps.Tracker,
		syncer:       deps.Syncer,
		log:          deps.Log,
		now:          deps.Now,
		pulseTimeout: deps.PulseTimeout,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.pulseTimeout <= 0 {
		h.pulseTimeout = defaultPulseTimeout
	}
	return h
}

// Start begins tracking req.Directory, replacing any session already there,
// then sends one advisory pulse in the background.
func (h *Handler) Start(ctx context.Context, req StartRequest) (session.TrackingSession, error) {
	dir, err := requireDirectory(req.Directory)
	if err != nil {
		return session.TrackingSession{}, err
	}
	branch := strings.TrimSpace(req.Branch)
	if branch == "" {
		return session.TrackingSession{}, &ValidationError{Field: "branch", Msg: "required"}
	}
	if !h.git.IsRepo(dir) {
		return session.TrackingSession{}, &OperationError{Op: "start", Err: fmt.Errorf("%w: %s", gitrepo.ErrNotRepository, dir)}
	}

	unlock := h.locks.lock(dir)
	sess, replaced, err := h.store.Replace(dir, branch, strings.TrimSpace(req.IssueID), req.Description)
	unlock()
	if err != nil {
		return session.TrackingSession{}, &OperationError{Op: "start", Err: err}
	}

	if replaced != nil {
		h.log.Info().Str("directory", dir).Str("branch", replaced.Branch).
			Dur("duration", replaced.Duration()).Msg("replaced active session")
	}
	h.log.Info().Str("id", sess.ID).Str("directory", dir).Str("branch", branch).Msg("session started")

	if !h.trackPulse() {
		h.log.Debug().Str("id", sess.ID).Msg("shutting down; initial pulse skipped")
		return sess, nil
	}
	recovery.SafeGo(h.log, "initial-pulse", func() {
		defer h.pulses.Done()
		sendPulse(h.log, h.tracker, sess, h.pulseTimeout)
	})
	return sess, nil
}

// Stop ends the session for req.Directory. A nil entry means there was
// nothing to stop, including when a timer closed the session first.
func (h *Handler) Stop(ctx context.Context, req StopRequest) (*session.ActivityLogEntry, error) {
	dir, err := requireDirectory(req.Directory)
	if err != nil {
		return nil, err
	}

	unlock := h.locks.lock(dir)
	defer unlock()

	sess, ok := h.store.FindByDirectory(dir)
	if !ok {
		return nil, nil
	}
	entry, err := h.store.Close(sess.ID, session.ReasonStopped)
	if errors.Is(err, session.ErrSessionNotFound) {
		h.log.Debug().Str("id", sess.ID).Msg("session closed concurrently before stop")
		return nil, nil
	}
	if err != nil {
		return nil, &OperationError{Op: "stop", Err: err}
	}
	h.log.Info().Str("id", entry.ID).Str("directory", dir).Dur("duration", entry.Duration()).Msg("session stopped")
	return &entry, nil
}

// Status returns a snapshot of the active sessions.
func (h *Handler) Status() StatusResponse {
	return StatusResponse{IsRunning: true, ActiveSessions: h.store.ListActive()}
}

// Sync submits the unsynced entries of req.Date (default today) as worklogs.
func (h *Handler) Sync(ctx context.Context, req SyncRequest) (SyncResponse, error) {
	day := h.now()
	if req.Date != "" {
		d, err := parseDay(req.Date)
		if err != nil {
			return SyncResponse{}, err
		}
		day = d
	}
	if c, ok := h.tracker.(interface{ IsConfigured() bool }); ok && !c.IsConfigured() {
		return SyncResponse{}, &OperationError{Op: "sync", Err: tracker.ErrNotConfigured}
	}

	res := h.syncer.Sync(ctx, day, req.IssueIDs)
	h.log.Info().Str("date", day.Format(time.DateOnly)).
		Int("synced", res.Synced).Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("sync finished")
	return res, nil
}

// Logs returns activity log entries matching req.
func (h *Handler) Logs(req LogsRequest) ([]session.ActivityLogEntry, error) {
	filter := session.EntryFilter{UnsyncedOnly: req.UnsyncedOnly}
	if req.Date != "" {
		d, err := parseDay(req.Date)
		if err != nil {
			return nil, err
		}
		filter.Day = d
	}
	entries := h.store.Entries(filter)
	if entries == nil {
		entries = []session.ActivityLogEntry{}
	}
	return entries, nil
}

// ClearLogs drops the whole activity log.
func (h *Handler) ClearLogs() ClearLogsResponse {
	n := h.store.ClearEntries()
	h.log.Info().Int("cleared", n).Msg("activity log cleared")
	return ClearLogsResponse{Cleared: n}
}

// trackPulse registers one background pulse. It refuses once WaitPulses
// has been called so Add never races with Wait.
func (h *Handler) trackPulse() bool {
	h.pulseMu.Lock()
	defer h.pulseMu.Unlock()
	if h.pulsesClosed {
		return false
	}
	h.pulses.Add(1)
	return true
}

// WaitPulses stops new background pulses and blocks until those started by
// Start have finished.
func (h *Handler) WaitPulses() {
	h.pulseMu.Lock()
	h.pulsesClosed = true
	h.pulseMu.Unlock()
	h.pulses.Wait()
}

func requireDirectory(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", &ValidationError{Field: "directory", Msg: "required"}
	}
	if !filepath.IsAbs(dir) {
		return "", &ValidationError{Field: "directory", Msg: "must be an absolute path"}
	}
	return filepath.Clean(dir), nil
}

func parseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Msg: "expected YYYY-MM-DD"}
	}
	return d, nil
}

func pulseFor(s session.TrackingSession) tracker.Pulse {
	return tracker.Pulse{Branch: s.Branch, IssueID: s.IssueID, Description: s.Description}
}

func sendPulse(log zerolog.Logger, tc tracker.Client, s session.TrackingSession, timeout time.Duration) {
	recovery.Advisory(log, "pulse", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return tc.SendPulse(ctx, pulseFor(s))
	})
}

// dirLocks serializes work per directory. Entries are dropped once no
// request holds or waits for them.
type dirLocks struct {
	mu    sync.Mutex
	locks map[string]*dirLock
}

type dirLock struct {
	sync.Mutex
	refs int
}

func (l *dirLocks) lock(dir string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*dirLock)
	}
	dl, ok := l.locks[dir]
	if !ok {
		dl = &dirLock{}
		l.locks[dir] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.Lock()
	return func() {
		dl.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, dir)
		}
		l.mu.Unlock()
	}
}
