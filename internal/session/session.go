package session

import "time"

// Close reasons recorded on ActivityLogEntry.
const (
	ReasonStopped     = "stopped"
	ReasonReplaced    = "replaced"
	ReasonRollover    = "rollover"
	ReasonMaxDuration = "auto-stopped: exceeded maximum duration"
)

// TrackingSession is one in-flight tracking interval for a branch in a repository.
type TrackingSession struct {
	ID          string    `json:"id"`
	Branch      string    `json:"branch"`
	Directory   string    `json:"directory"` // repository root, unique among active sessions
	StartTime   time.Time `json:"startTime"`
	IssueID     string    `json:"issueId,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Elapsed returns how long the session has been running at now.
func (s TrackingSession) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// ActivityLogEntry is the immutable record of a closed session. Only Synced
// and a missing IssueID may change after creation.
type ActivityLogEntry struct {
	TrackingSession
	EndTime     time.Time `json:"endTime"`
	Synced      bool      `json:"synced"`
	CloseReason string    `json:"closeReason,omitempty"`
}

// Duration is EndTime - StartTime.
func (e ActivityLogEntry) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// RepositoryInfo remembers when a repository was last tracked.
type RepositoryInfo struct {
	Directory  string    `json:"directory"`
	LastActive time.Time `json:"lastActive"`
}

// DaemonState is the persisted envelope for active sessions.
type DaemonState struct {
	ActiveSessions []TrackingSession `json:"activeSessions"`
	Repositories   []RepositoryInfo  `json:"repositories,omitempty"`
}

// activityFile is the on-disk shape of the activity log.
type activityFile struct {
	Entries []ActivityLogEntry `json:"entries"`
}
