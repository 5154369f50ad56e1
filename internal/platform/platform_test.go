package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSession_Exclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := LockSession(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, LockFileName), first.Path())

	_, err = LockSession(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionLocked)

	require.NoError(t, first.Release())

	second, err := LockSession(dir)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestLockSession_CreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "new", "backup")
	l, err := LockSession(dir)
	require.NoError(t, err)
	defer l.Release()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRelease_NilSafe(t *testing.T) {
	var l *SessionLock
	assert.NoError(t, l.Release())
	assert.Equal(t, "", l.Path())
}

func TestAvailable(t *testing.T) {
	n, err := Available(t.TempDir())
	if errors.Is(err, errors.ErrUnsupported) {
		t.Skip("statfs unsupported")
	}
	require.NoError(t, err)
	assert.Greater(t, n, uint64(0))
}

func TestIsNoSpace(t *testing.T) {
	wrapped := fmt.Errorf("write temp: %w", &os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC})
	assert.True(t, IsNoSpace(wrapped))
	assert.False(t, IsNoSpace(os.ErrPermission))
}

func TestPreallocate(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "pre"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, Preallocate(f, 4096))
	require.NoError(t, Preallocate(f, 0))
}
