//go:build !unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LockSession creates <root>/.backup_manifest.lock exclusively. Without
// flock a crashed session leaves the file behind and it must be removed by
// hand.
func LockSession(root string) (*SessionLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	p := filepath.Join(root, LockFileName)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", root, ErrSessionLocked)
		}
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &SessionLock{f: f}, nil
}

// Release drops the lock and removes the lock file.
func (l *SessionLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	name := l.f.Name()
	err := l.f.Close()
	l.f = nil
	if rerr := os.Remove(name); err == nil {
		err = rerr
	}
	return err
}
