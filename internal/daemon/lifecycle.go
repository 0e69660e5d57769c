package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/gitclock/internal/logger"
	"github.com/fakeyudi/gitclock/internal/paths"
)

const (
	defaultStartTimeout = 5 * time.Second
	defaultStopTimeout  = 10 * time.Second
	pollInterval        = 50 * time.Millisecond
)

// Manager starts, stops and inspects the daemon process from the outside.
type Manager struct {
	layout       paths.Layout
	executable   string
	args         []string
	startTimeout time.Duration
	stopTimeout  time.Duration
	log          zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCommand overrides the program spawned by Start.
func WithCommand(executable string, args ...string) ManagerOption {
	return func(m *Manager) {
		m.executable = executable
		m.args = args
	}
}

// WithTimeouts bounds how long Start waits for the socket and how long Stop
// waits before killing the process.
func WithTimeouts(start, stop time.Duration) ManagerOption {
	return func(m *Manager) {
		m.startTimeout = start
		m.stopTimeout = stop
	}
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager returns a Manager for the daemon using layout. By default it
// spawns the running executable as `<exe> daemon run`.
func NewManager(layout paths.Layout, opts ...ManagerOption) *Manager {
	m := &Manager{
		layout:       layout,
		args:         []string{"daemon", "run"},
		startTimeout: defaultStartTimeout,
		stopTimeout:  defaultStopTimeout,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status describes the daemon process as seen from outside.
type Status struct {
	Running    bool   `json:"running"`
	Pid        int    `json:"pid,omitempty"`
	SocketPath string `json:"socketPath"`
	LogPath    string `json:"logPath"`
}

// Running reports whether a live daemon holds the marker. Stale markers and
// their sockets are cleaned up.
func (m *Manager) Running() (int, bool) {
	pid, alive := LivePid(m.layout.PidPath)
	if !alive {
		if _, err := os.Stat(m.layout.SocketPath); err == nil && !m.socketAnswers() {
			os.Remove(m.layout.SocketPath)
		}
	}
	return pid, alive
}

// Status returns the daemon's process status.
func (m *Manager) Status() Status {
	pid, running := m.Running()
	return Status{Running: running, Pid: pid, SocketPath: m.layout.SocketPath, LogPath: m.layout.LogPath}
}

// Start spawns a detached daemon and waits until its socket accepts
// connections. It returns the new daemon's pid.
func (m *Manager) Start(ctx context.Context) (int, error) {
	if pid, running := m.Running(); running {
		return pid, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := m.layout.Ensure(); err != nil {
		return 0, err
	}

	exe := m.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return 0, fmt.Errorf("locate gitclock executable: %w", err)
		}
	}
	logFile, err := logger.OpenFile(m.layout.LogPath)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	cmd := exec.Command(exe, m.args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// Never inherit the caller's working directory; it may be any repository.
	cmd.Dir = m.layout.DataDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	pid := cmd.Process.Pid
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ctx, cancel := context.WithTimeout(ctx, m.startTimeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if got, err := ReadPid(m.layout.PidPath); err == nil && got == pid && m.socketAnswers() {
			m.log.Debug().Int("pid", pid).Msg("daemon started")
			return pid, nil
		}
		select {
		case err := <-exited:
			// A concurrent start may have won the instance lock.
			if other, running := m.Running(); running && m.socketAnswers() {
				return other, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, other)
			}
			return 0, fmt.Errorf("daemon exited during startup (%v); see %s", err, m.layout.LogPath)
		case <-ctx.Done():
			cmd.Process.Kill()
			return 0, fmt.Errorf("daemon did not become ready within %s; see %s", m.startTimeout, m.layout.LogPath)
		case <-ticker.C:
		}
	}
}

// StopResult describes how the daemon went away.
type StopResult struct {
	Pid    int
	Forced bool // killed after the graceful window
}

// Stop asks the daemon to shut down with SIGTERM. If it is still alive after
// the stop timeout it is killed and its marker and socket are cleared.
func (m *Manager) Stop(ctx context.Context) (StopResult, error) {
	pid, running := m.Running()
	if !running {
		return StopResult{}, ErrNotRunning
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("find daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			m.clearMarker()
			return StopResult{Pid: pid}, nil
		}
		return StopResult{}, fmt.Errorf("signal daemon %d: %w", pid, err)
	}

	if m.waitExit(ctx, pid, m.stopTimeout) {
		// A daemon that exited cleanly removed its own files; this only
		// matters if it crashed on the way out.
		m.clearMarker()
		return StopResult{Pid: pid}, nil
	}

	m.log.Warn().Int("pid", pid).Msg("daemon did not stop in time; killing")
	if err := proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.log.Warn().Err(err).Int("pid", pid).Msg("kill failed")
	}
	m.waitExit(ctx, pid, time.Second)
	m.clearMarker()
	return StopResult{Pid: pid, Forced: true}, nil
}

func (m *Manager) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !ProcessAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

func (m *Manager) clearMarker() {
	for _, p := range []string{m.layout.PidPath, m.layout.SocketPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warn().Err(err).Str("path", p).Msg("failed to remove daemon file")
		}
	}
}

func (m *Manager) socketAnswers() bool {
	conn, err := net.DialTimeout("unix", m.layout.SocketPath, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
