// Package client is the CLI's side of the daemon protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fakeyudi/gitclock/internal/daemon"
	"github.com/fakeyudi/gitclock/internal/session"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 5 * time.Second

// ErrDaemonNotRunning is matched by every transport failure.
var ErrDaemonNotRunning = errors.New("gitclock daemon is not running; start it with 'gitclock daemon start'")

// UnreachableError wraps the transport failure behind ErrDaemonNotRunning.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return ErrDaemonNotRunning.Error()
}

func (e *UnreachableError) Is(target error) bool {
	return target == ErrDaemonNotRunning
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// APIError is a failure envelope returned by a reachable daemon.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// BadRequest reports whether the daemon rejected the request as malformed.
func (e *APIError) BadRequest() bool {
	return e.Code == daemon.CodeBadRequest
}

// Client sends requests to the daemon socket. It keeps no state between
// calls besides the pooled HTTP connections, so every call can be retried.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New returns a Client for the daemon listening on socketPath.
func New(socketPath string, opts ...Option) *Client {
	c := &Client{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	c.http = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
			MaxIdleConns:    2,
			IdleConnTimeout: 30 * time.Second,
		},
	}
	return c
}

// Connect reports whether the daemon answers a status request.
func (c *Client) Connect(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

// Start begins tracking a directory.
func (c *Client) Start(ctx context.Context, req daemon.StartRequest) (session.TrackingSession, error) {
	var out session.TrackingSession
	err := c.do(ctx, http.MethodPost, daemon.PathStart, req, &out)
	return out, err
}

// Stop ends tracking for a directory. A nil entry means nothing was running.
func (c *Client) Stop(ctx context.Context, directory string) (*session.ActivityLogEntry, error) {
	var out *session.ActivityLogEntry
	err := c.do(ctx, http.MethodPost, daemon.PathStop, daemon.StopRequest{Directory: directory}, &out)
	return out, err
}

// Status returns the active sessions.
func (c *Client) Status(ctx context.Context) (daemon.StatusResponse, error) {
	var out daemon.StatusResponse
	err := c.do(ctx, http.MethodGet, daemon.PathStatus, nil, &out)
	return out, err
}

// Sync submits a day's worklogs.
func (c *Client) Sync(ctx context.Context, req daemon.SyncRequest) (daemon.SyncResponse, error) {
	var out daemon.SyncResponse
	err := c.do(ctx, http.MethodPost, daemon.PathSync, req, &out)
	return out, err
}

// Logs returns activity log entries.
func (c *Client) Logs(ctx context.Context, req daemon.LogsRequest) ([]session.ActivityLogEntry, error) {
	q := url.Values{}
	if req.Date != "" {
		q.Set("date", req.Date)
	}
	if req.UnsyncedOnly {
		q.Set("unsynced", "true")
	}
	path := daemon.PathLogs
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []session.ActivityLogEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ClearLogs drops the activity log.
func (c *Client) ClearLogs(ctx context.Context) (int, error) {
	var out daemon.ClearLogsResponse
	err := c.do(ctx, http.MethodPost, daemon.PathClearLogs, nil, &out)
	return out.Cleared, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://gitclock"+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	var env daemon.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode daemon response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("daemon returned status %d", resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode daemon data: %w", err)
	}
	return nil
}
