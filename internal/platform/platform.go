// Package platform wraps the OS facilities a backup session needs on the
// destination side: an exclusive session lock, free-space queries and
// preallocation.
package platform

import (
	"errors"
	"os"
)

// LockFileName is the session lock inside the destination root.
const LockFileName = ".backup_manifest.lock"

// ErrSessionLocked is returned when another session owns the destination.
var ErrSessionLocked = errors.New("another backup session is running on this destination")

// SessionLock is held for the lifetime of a session. The kernel drops it if
// the process dies, so a crash never leaves a stale lock behind.
type SessionLock struct {
	f *os.File
}

// Path returns the lock file location.
func (l *SessionLock) Path() string {
	if l == nil || l.f == nil {
		return ""
	}
	return l.f.Name()
}
