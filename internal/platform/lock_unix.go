//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LockSession takes an exclusive, non-blocking flock on
// <root>/.backup_manifest.lock.
func LockSession(root string) (*SessionLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	p := filepath.Join(root, LockFileName)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	//nolint:gosec // G115: fd values are small non-negative integers
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", root, ErrSessionLocked)
		}
		return nil, fmt.Errorf("lock %s: %w", p, err)
	}
	return &SessionLock{f: f}, nil
}

// Release drops the lock. The lock file itself stays.
func (l *SessionLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	//nolint:gosec // G115: fd values are small non-negative integers
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
