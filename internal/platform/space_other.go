//go:build !unix

package platform

import (
	"errors"
	"syscall"
)

// Available is unsupported off unix; callers fall back to ENOSPC detection.
func Available(string) (uint64, error) {
	return 0, errors.ErrUnsupported
}

// IsNoSpace reports whether err means the destination is out of space.
func IsNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
