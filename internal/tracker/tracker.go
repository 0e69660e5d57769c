// Package tracker talks to the Tempo-style time-tracking service: advisory
// pulses while a session runs and committed worklogs at sync time.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API token is set.
var ErrNotConfigured = errors.New("tracker API token not configured; run 'gitclock setup' or set GITCLOCK_TRACKER_TOKEN")

// Pulse is an advisory activity signal for a running session.
type Pulse struct {
	Branch      string `json:"branch"`
	IssueID     string `json:"issueId,omitempty"`
	Description string `json:"description,omitempty"`
}

// Worklog is a committed time entry.
type Worklog struct {
	IssueID     string
	Seconds     int
	Date        string // YYYY-MM-DD
	StartClock  string // HH:MM:SS
	Description string
	AuthorID    string
}

// Client is the tracker capability used by the daemon.
type Client interface {
	SendPulse(ctx context.Context, p Pulse) error
	CreateWorklog(ctx context.Context, w Worklog) error
}

// APIError is a non-2xx response from the tracker service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker API error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPClient implements Client against the tracker's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for baseURL authenticating with token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsConfigured reports whether a token is available.
func (c *HTTPClient) IsConfigured() bool {
	return c.token != ""
}

// worklogRequest is the REST payload for POST /4/worklogs. Numeric issue ids
// go in issueId, keys such as PROJ-12 in issueKey.
type worklogRequest struct {
	IssueID          int    `json:"issueId,omitempty"`
	IssueKey         string `json:"issueKey,omitempty"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	StartDate        string `json:"startDate"`
	StartTime        string `json:"startTime"`
	Description      string `json:"description,omitempty"`
	AuthorAccountID  string `json:"authorAccountId,omitempty"`
}

// CreateWorklog submits w. Rejections come back as *APIError.
func (c *HTTPClient) CreateWorklog(ctx context.Context, w Worklog) error {
	if w.IssueID == "" {
		return errors.New("worklog has no issue id")
	}
	req := worklogRequest{
		TimeSpentSeconds: w.Seconds,
		StartDate:        w.Date,
		StartTime:        w.StartClock,
		Description:      w.Description,
		AuthorAccountID:  w.AuthorID,
	}
	if id, err := strconv.Atoi(w.IssueID); err == nil {
		req.IssueID = id
	} else {
		req.IssueKey = w.IssueID
	}
	return c.post(ctx, "/4/worklogs", req)
}

// SendPulse posts an activity suggestion.
func (c *HTTPClient) SendPulse(ctx context.Context, p Pulse) error {
	return c.post(ctx, "/4/pulses", p)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
}

// errorMessage extracts a readable message from either error body shape the
// service uses, falling back to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		var msgs []string
		for _, e := range parsed.Errors {
			if e.Message != "" {
				msgs = append(msgs, e.Message)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "empty response"
}
