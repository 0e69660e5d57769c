// Package worklog turns the day's closed sessions into committed tracker
// worklogs.
package worklog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/tracker"
)

// DefaultMinDuration is the shortest entry worth submitting.
const DefaultMinDuration = 60 * time.Second

// EntryStore is the part of the session store a sync needs.
type EntryStore interface {
	Entries(filter session.EntryFilter) []session.ActivityLogEntry
	MarkSynced(entryID, issueID string) error
}

// Result counts the outcome of one sync.
type Result struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Syncer submits unsynced entries to the tracker. Concurrent syncs run one
// at a time so an entry is never submitted twice.
type Syncer struct {
	mu          sync.Mutex
	store       EntryStore
	tracker     tracker.Client
	authorID    string
	minDuration time.Duration
	log         zerolog.Logger
}

// NewSyncer returns a Syncer. A zero minDuration uses DefaultMinDuration.
func NewSyncer(store EntryStore, client tracker.Client, authorID string, minDuration time.Duration, log zerolog.Logger) *Syncer {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	return &Syncer{
		store:       store,
		tracker:     client,
		authorID:    authorID,
		minDuration: minDuration,
		log:         log,
	}
}

// Pending returns the entries a sync of day would submit, including those
// still missing an issue id.
func (s *Syncer) Pending(day time.Time) []session.ActivityLogEntry {
	var out []session.ActivityLogEntry
	for _, e := range s.store.Entries(session.EntryFilter{Day: day, UnsyncedOnly: true}) {
		if e.Duration() >= s.minDuration {
			out = append(out, e)
		}
	}
	return out
}

// Sync submits every unsynced entry ending on day. fills supplies issue ids
// for entries that have none, keyed by entry id. Per-entry failures are
// counted and logged; they never stop the batch.
func (s *Syncer) Sync(ctx context.Context, day time.Time, fills map[string]string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	for _, e := range s.store.Entries(session.EntryFilter{Day: day, UnsyncedOnly: true}) {
		if e.Duration() < s.minDuration {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failed++
			continue
		}

		issueID := e.IssueID
		if issueID == "" {
			issueID = fills[e.ID]
		}
		if issueID == "" {
			res.Failed++
			s.log.Warn().Str("entry", e.ID).Str("branch", e.Branch).Msg("worklog skipped: no issue id")
			continue
		}

		if err := s.tracker.CreateWorklog(ctx, toWorklog(e, issueID, s.authorID)); err != nil {
			res.Failed++
			s.log.Error().Err(err).Str("entry", e.ID).Str("issue", issueID).Msg("worklog submission failed")
			continue
		}
		if err := s.store.MarkSynced(e.ID, issueID); err != nil {
			// Submitted but not recorded; a later sync would submit it again.
			res.Failed++
			s.log.Error().Err(err).Str("entry", e.ID).Msg("failed to mark entry synced")
			continue
		}
		res.Synced++
		s.log.Info().Str("entry", e.ID).Str("issue", issueID).
			Str("duration", e.Duration().Round(time.Second).String()).Msg("worklog synced")
	}
	return res
}

func toWorklog(e session.ActivityLogEntry, issueID, authorID string) tracker.Worklog {
	desc := e.Description
	if desc == "" {
		desc = fmt.Sprintf("Work on %s", e.Branch)
	}
	start := e.StartTime.Local()
	return tracker.Worklog{
		IssueID:     issueID,
		Seconds:     int(e.Duration() / time.Second),
		Date:        start.Format(time.DateOnly),
		StartClock:  start.Format(time.TimeOnly),
		Description: desc,
		AuthorID:    authorID,
	}
}
