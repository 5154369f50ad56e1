//go:build !linux

package platform

import "os"

// Preallocate is a no-op where fallocate(2) is unavailable.
func Preallocate(*os.File, int64) error { return nil }
