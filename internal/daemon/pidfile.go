package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/fakeyudi/gitclock/internal/atomicfile"
)

// WritePid records pid as the liveness marker. The write is atomic so a
// concurrent reader sees either the old marker or the new one.
func WritePid(path string, pid int) error {
	if err := atomicfile.Write(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid marker: %w", err)
	}
	return nil
}

// ReadPid returns the pid stored in the marker at path. A missing marker
// yields an error matching os.ErrNotExist.
func ReadPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid marker %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// ProcessAlive checks pid with signal 0. A process owned by another user
// still counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// LivePid returns the pid from the marker at path if that process is alive.
// A marker left behind by a dead process, or one that cannot be parsed, is
// removed.
func LivePid(path string) (int, bool) {
	pid, err := ReadPid(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			os.Remove(path)
		}
		return 0, false
	}
	if !ProcessAlive(pid) {
		os.Remove(path)
		return 0, false
	}
	return pid, true
}

// removePidIfOwned deletes the marker only while it still names pid, so a
// daemon shutting down never removes a successor's marker.
func removePidIfOwned(path string, pid int) {
	if got, err := ReadPid(path); err == nil && got == pid {
		os.Remove(path)
	}
}
