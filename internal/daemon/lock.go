package daemon

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// instanceLock is an exclusive flock held for the lifetime of a daemon. The
// kernel drops it when the process dies, so it never goes stale.
type instanceLock struct {
	f *os.File
}

// acquireInstanceLock claims path without blocking. If another daemon holds
// it the error matches ErrAlreadyRunning.
func acquireInstanceLock(path, pidPath string) (*instanceLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		// EWOULDBLOCK and EAGAIN are distinct on some systems.
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			if pid, err := ReadPid(pidPath); err == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &instanceLock{f: f}, nil
}

// release drops the lock. The file stays so a waiting claimant never locks
// an unlinked inode.
func (l *instanceLock) release() {
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
}
