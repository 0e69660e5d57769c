package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/gitclock/internal/atomicfile"
)

var (
	// ErrSessionNotFound is returned when an id no longer names an active
	// session, e.g. because another path closed it first.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDirectoryAlreadyTracked is returned by Create when the directory
	// already has an active session.
	ErrDirectoryAlreadyTracked = errors.New("directory already tracked")

	// ErrEntryNotFound is returned by MarkSynced for an unknown entry id.
	ErrEntryNotFound = errors.New("activity log entry not found")

	// ErrCorruptState is reported by Load when a state file could not be
	// parsed and was ignored.
	ErrCorruptState = errors.New("corrupt state file")
)

// EntryFilter selects activity log entries. A zero Day matches every day.
type EntryFilter struct {
	Day          time.Time
	UnsyncedOnly bool
}

func (f EntryFilter) match(e ActivityLogEntry) bool {
	if f.UnsyncedOnly && e.Synced {
		return false
	}
	if !f.Day.IsZero() && !SameDay(e.EndTime, f.Day) {
		return false
	}
	return true
}

// SameDay reports whether t falls on the calendar day of day, in day's location.
func SameDay(t, day time.Time) bool {
	ty, tm, td := t.In(day.Location()).Date()
	dy, dm, dd := day.Date()
	return ty == dy && tm == dm && td == dd
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the uuid-based session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Store is the authoritative record of active sessions and the activity log.
// Every exported method is a single critical section: lookups, mutation and
// persistence happen under one lock.
type Store struct {
	mu           sync.Mutex
	statePath    string
	activityPath string

	active  map[string]*TrackingSession // keyed by directory
	entries []ActivityLogEntry
	repos   map[string]time.Time

	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// NewStore returns an empty Store persisting to statePath and activityPath.
// Call Load to restore previously persisted state.
func NewStore(statePath, activityPath string, opts ...Option) *Store {
	s := &Store{
		statePath:    statePath,
		activityPath: activityPath,
		active:       make(map[string]*TrackingSession),
		repos:        make(map[string]time.Time),
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListActive returns a snapshot of active sessions ordered by start time.
func (s *Store) ListActive() []TrackingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []TrackingSession {
	out := make([]TrackingSession, 0, len(s.active))
	for _, sess := range s.active {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].Directory < out[j].Directory
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// FindByDirectory returns the active session for directory, if any.
func (s *Store) FindByDirectory(directory string) (TrackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[filepath.Clean(directory)]
	if !ok {
		return TrackingSession{}, false
	}
	return *sess, true
}

// Get returns the active session with id, if any.
func (s *Store) Get(id string) (TrackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.byIDLocked(id)
	if sess == nil {
		return TrackingSession{}, false
	}
	return *sess, true
}

func (s *Store) byIDLocked(id string) *TrackingSession {
	for _, sess := range s.active {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// Create opens a new session. It fails with ErrDirectoryAlreadyTracked when
// directory already has one.
func (s *Store) Create(directory, branch, issueID, description string) (TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Clean(directory)
	if _, exists := s.active[dir]; exists {
		return TrackingSession{}, fmt.Errorf("%w: %s", ErrDirectoryAlreadyTracked, dir)
	}
	sess := s.openLocked(dir, branch, issueID, description, s.now())
	s.saveLocked()
	return sess, nil
}

// Close ends the session with id and appends its activity log entry.
func (s *Store) Close(id, reason string) (ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.byIDLocked(id)
	if sess == nil {
		return ActivityLogEntry{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	entry := s.closeLocked(sess, s.now(), reason)
	s.saveLocked()
	return entry, nil
}

// Replace closes any session for directory and opens a new one in the same
// critical section. The closed entry is nil when nothing was replaced.
func (s *Store) Replace(directory, branch, issueID, description string) (TrackingSession, *ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Clean(directory)
	now := s.now()

	var closed *ActivityLogEntry
	if existing, ok := s.active[dir]; ok {
		entry := s.closeLocked(existing, now, ReasonReplaced)
		closed = &entry
	}
	sess := s.openLocked(dir, branch, issueID, description, now)
	s.saveLocked()
	return sess, closed, nil
}

// Rollover closes the session with id and reopens it on newBranch. The new
// session starts exactly when the old one ends. It fails with
// ErrSessionNotFound when id is gone or no longer on expectedBranch.
func (s *Store) Rollover(id, expectedBranch, newBranch string) (ActivityLogEntry, TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.byIDLocked(id)
	if sess == nil || sess.Branch != expectedBranch {
		return ActivityLogEntry{}, TrackingSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	issueID, description := sess.IssueID, sess.Description
	entry := s.closeLocked(sess, s.now(), ReasonRollover)
	next := s.openLocked(entry.Directory, newBranch, issueID, description, entry.EndTime)
	s.saveLocked()
	return entry, next, nil
}

// Entries returns the activity log entries matching filter, oldest first.
func (s *Store) Entries(filter EntryFilter) []ActivityLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ActivityLogEntry
	for _, e := range s.entries {
		if filter.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// MarkSynced flags an entry as committed to the tracker. issueID only fills
// in a missing issue id.
func (s *Store) MarkSynced(entryID, issueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID != entryID {
			continue
		}
		s.entries[i].Synced = true
		if s.entries[i].IssueID == "" {
			s.entries[i].IssueID = issueID
		}
		s.saveLocked()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
}

// ClearEntries removes every activity log entry and returns how many were dropped.
func (s *Store) ClearEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = nil
	s.saveLocked()
	return n
}

// Repositories returns every repository that has been tracked, most recent first.
func (s *Store) Repositories() []RepositoryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reposLocked()
}

func (s *Store) reposLocked() []RepositoryInfo {
	out := make([]RepositoryInfo, 0, len(s.repos))
	for dir, at := range s.repos {
		out = append(out, RepositoryInfo{Directory: dir, LastActive: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out
}

func (s *Store) openLocked(dir, branch, issueID, description string, start time.Time) TrackingSession {
	sess := &TrackingSession{
		ID:          s.newID(),
		Branch:      branch,
		Directory:   dir,
		StartTime:   start,
		IssueID:     issueID,
		Description: description,
	}
	s.active[dir] = sess
	s.repos[dir] = start
	return *sess
}

func (s *Store) closeLocked(sess *TrackingSession, end time.Time, reason string) ActivityLogEntry {
	// A clock that moved backwards must not produce a negative interval.
	if end.Before(sess.StartTime) {
		end = sess.StartTime
	}
	entry := ActivityLogEntry{
		TrackingSession: *sess,
		EndTime:         end,
		CloseReason:     reason,
	}
	delete(s.active, sess.Directory)
	s.entries = append(s.entries, entry)
	s.repos[sess.Directory] = end
	return entry
}

// saveLocked persists after a mutation. The in-memory state stays
// authoritative when the write fails; the next mutation or Persist retries.
func (s *Store) saveLocked() {
	if err := s.persistLocked(); err != nil {
		s.log.Error().Err(err).Msg("failed to persist session state")
	}
}

// Persist writes the current state to disk.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	state := DaemonState{
		ActiveSessions: s.snapshotLocked(),
		Repositories:   s.reposLocked(),
	}
	if err := atomicfile.WriteJSON(s.statePath, state); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	entries := s.entries
	if entries == nil {
		entries = []ActivityLogEntry{}
	}
	if err := atomicfile.WriteJSON(s.activityPath, activityFile{Entries: entries}); err != nil {
		return fmt.Errorf("failed to persist activity log: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with what is on disk. Missing files mean
// an empty store. Unreadable or corrupt files are ignored and reported as an
// error wrapping ErrCorruptState; the store is still usable afterwards.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = make(map[string]*TrackingSession)
	s.repos = make(map[string]time.Time)
	s.entries = nil

	var errs []error

	var state DaemonState
	if err := readJSON(s.statePath, &state); err != nil {
		errs = append(errs, err)
		state = DaemonState{}
	}
	for _, r := range state.Repositories {
		s.repos[filepath.Clean(r.Directory)] = r.LastActive
	}
	// Oldest first so a duplicated directory keeps its earliest session.
	sort.SliceStable(state.ActiveSessions, func(i, j int) bool {
		return state.ActiveSessions[i].StartTime.Before(state.ActiveSessions[j].StartTime)
	})
	for _, sess := range state.ActiveSessions {
		sess.Directory = filepath.Clean(sess.Directory)
		if sess.ID == "" || sess.Directory == "." {
			continue
		}
		if _, dup := s.active[sess.Directory]; dup {
			s.log.Warn().Str("directory", sess.Directory).Msg("dropping duplicate persisted session")
			continue
		}
		s.active[sess.Directory] = &sess
	}

	var activity activityFile
	if err := readJSON(s.activityPath, &activity); err != nil {
		errs = append(errs, err)
		activity = activityFile{}
	}
	s.entries = activity.Entries

	return errors.Join(errs...)
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", ErrCorruptState, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Keep the unreadable file for inspection; the next save would
		// otherwise overwrite it.
		aside := path + ".corrupt"
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return fmt.Errorf("%w: parse %s: %v (could not move it aside: %v)", ErrCorruptState, path, err, renameErr)
		}
		return fmt.Errorf("%w: parse %s: %v (moved to %s)", ErrCorruptState, path, err, aside)
	}
	return nil
}
