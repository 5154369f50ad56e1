//go:build unix

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Available returns the bytes an unprivileged writer may still use on the
// filesystem holding path.
func Available(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	//nolint:gosec // G115: block size is positive
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// IsNoSpace reports whether err means the destination is out of space or
// quota.
func IsNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}
