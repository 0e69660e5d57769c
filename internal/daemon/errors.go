package daemon

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a live daemon already holds the
	// liveness marker.
	ErrAlreadyRunning = errors.New("gitclock daemon is already running")

	// ErrNotRunning is returned by lifecycle operations that need a daemon.
	ErrNotRunning = errors.New("gitclock daemon is not running")
)

// ValidationError rejects a request before anything is mutated.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Msg
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Msg)
}

// OperationError reports a well-formed request that failed at runtime.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return e.Op + " failed: " + e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
