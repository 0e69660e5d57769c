package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/worklog"
)

// Routes served on the daemon socket.
const (
	PathStart     = "/start"
	PathStop      = "/stop"
	PathStatus    = "/status"
	PathSync      = "/sync"
	PathLogs      = "/logs"
	PathClearLogs = "/logs/clear"
)

// Failure codes carried in Envelope.Code.
const (
	CodeBadRequest      = "bad_request"
	CodeOperationFailed = "operation_failed"
)

// Envelope wraps every response. Failures never carry Data.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

type StartRequest struct {
	Directory   string `json:"directory"`
	Branch      string `json:"branch"`
	IssueID     string `json:"issueId,omitempty"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts issueId as a string or a JSON number, since numeric
// tracker ids are commonly sent unquoted.
func (r *StartRequest) UnmarshalJSON(data []byte) error {
	type plain StartRequest
	aux := struct {
		*plain
		IssueID json.RawMessage `json:"issueId,omitempty"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	id, err := issueIDFrom(aux.IssueID)
	if err != nil {
		return err
	}
	r.IssueID = id
	return nil
}

func issueIDFrom(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("issueId must be a string or a number, got %s", raw)
	}
	return n.String(), nil
}

type StopRequest struct {
	Directory string `json:"directory"`
}

type StatusResponse struct {
	IsRunning      bool                      `json:"isRunning"`
	ActiveSessions []session.TrackingSession `json:"activeSessions"`
}

// SyncRequest selects the day to sync (YYYY-MM-DD, default today) and
// supplies issue ids for entries that have none, keyed by entry id.
type SyncRequest struct {
	Date     string            `json:"date,omitempty"`
	IssueIDs map[string]string `json:"issueIds,omitempty"`
}

type SyncResponse = worklog.Result

// LogsRequest filters the activity log. An empty Date means every day.
type LogsRequest struct {
	Date         string
	UnsyncedOnly bool
}

type ClearLogsResponse struct {
	Cleared int `json:"cleared"`
}
