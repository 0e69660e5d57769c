// Package recovery keeps a panic or an advisory failure in one background
// task from taking the daemon down with it.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Guard runs fn and converts a panic into a logged error. It reports whether
// fn returned normally.
func Guard(log zerolog.Logger, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("task", name).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("panic recovered")
			ok = false
		}
	}()
	fn()
	return true
}

// SafeGo runs fn in a goroutine with panic recovery.
func SafeGo(log zerolog.Logger, name string, fn func()) {
	go Guard(log, name, fn)
}

// Advisory runs a best-effort operation. Errors and panics are logged and
// swallowed.
func Advisory(log zerolog.Logger, op string, fn func() error) {
	Guard(log, op, func() {
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("op", op).Msg("advisory operation failed")
		}
	})
}
