package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonodavide/androsync/internal/devicelink"
	"github.com/sonodavide/androsync/internal/devicelink/devicelinktest"
	"github.com/sonodavide/androsync/internal/journal"
	"github.com/sonodavide/androsync/internal/manifest"
	"github.com/sonodavide/androsync/internal/platform"
)

func phone() *devicelinktest.Fake {
	return devicelinktest.Tree(t0,
		"/sdcard/DCIM/Camera/IMG_0001.jpg=first photo",
		"/sdcard/DCIM/Camera/IMG_0002.jpg=second photo",
		"/sdcard/Documents/notes.txt=remember the milk",
	)
}

func runConfig(link devicelink.Link, dest string) Config {
	return Config{
		Link:    link,
		Dest:    dest,
		Workers: 2,
		Retries: 1,
		Backoff: time.Millisecond,
	}
}

func readLocal(t *testing.T, dest, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestRun_FirstAndSecondSession(t *testing.T) {
	dest := t.TempDir()
	link := phone()

	res := Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	assert.Equal(t, 3, res.Session.Copied)
	assert.Empty(t, res.Session.Failed)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 3, res.Manifest.Files)

	assert.Equal(t, "first photo", readLocal(t, dest, "internal/DCIM/Camera/IMG_0001.jpg"))
	assert.Equal(t, "remember the milk", readLocal(t, dest, "internal/Documents/notes.txt"))

	m, err := manifest.Load(afero.NewOsFs(), dest)
	require.NoError(t, err)
	meta := m.Metadata()
	assert.Equal(t, "FAKE0001", meta.DeviceSerial)
	assert.False(t, meta.LastSync.IsZero())

	fetches := link.TotalFetches()
	res = Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	assert.Equal(t, 0, res.Session.Copied)
	assert.Equal(t, 3, res.Session.Skipped)
	assert.Equal(t, fetches, link.TotalFetches())
}

func TestRun_PicksUpChanges(t *testing.T) {
	dest := t.TempDir()
	link := phone()
	require.NoError(t, Run(context.Background(), runConfig(link, dest)).Failed())

	link.AddFile("/sdcard/Documents/notes.txt", []byte("remember the eggs too"), t0.Add(time.Hour))
	link.AddFile("/sdcard/Music/song.mp3", []byte("la la la"), t0)

	res := Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	assert.Equal(t, 1, res.Session.Copied)
	assert.Equal(t, 1, res.Session.Updated)
	assert.Equal(t, 2, res.Session.Skipped)
	assert.Equal(t, "remember the eggs too", readLocal(t, dest, "internal/Documents/notes.txt"))
	assert.Equal(t, "la la la", readLocal(t, dest, "internal/Music/song.mp3"))
}

func TestRun_DryRun(t *testing.T) {
	dest := t.TempDir()
	cfg := runConfig(phone(), dest)
	cfg.DryRun = true

	res := Run(context.Background(), cfg)
	require.NoError(t, res.Failed())
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, Summarize(res.Plan).Copy)
	assert.Equal(t, 0, res.Session.Copied)

	_, err := os.Stat(filepath.Join(dest, manifest.FileName))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(dest, "internal"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(dest, journal.FileName))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Orphans(t *testing.T) {
	dest := t.TempDir()
	link := phone()
	require.NoError(t, Run(context.Background(), runConfig(link, dest)).Failed())
	link.Remove("/sdcard/DCIM/Camera/IMG_0002.jpg")

	t.Run("kept by default", func(t *testing.T) {
		res := Run(context.Background(), runConfig(link, dest))
		require.NoError(t, res.Failed())
		assert.Equal(t, []string{"/sdcard/DCIM/Camera/IMG_0002.jpg"}, res.Session.Orphans)
		assert.Empty(t, res.Pruned)
		assert.Equal(t, 3, res.Manifest.Files)
	})

	t.Run("pruned on request", func(t *testing.T) {
		cfg := runConfig(link, dest)
		cfg.PruneOrphans = true
		res := Run(context.Background(), cfg)
		require.NoError(t, res.Failed())
		assert.Equal(t, []string{"/sdcard/DCIM/Camera/IMG_0002.jpg"}, res.Pruned)
		assert.Equal(t, 2, res.Manifest.Files)
		// The backup copy stays.
		assert.Equal(t, "second photo", readLocal(t, dest, "internal/DCIM/Camera/IMG_0002.jpg"))
	})
}

func TestRun_UnlistableDirectoryIsNotOrphaned(t *testing.T) {
	dest := t.TempDir()
	link := phone()
	require.NoError(t, Run(context.Background(), runConfig(link, dest)).Failed())

	link.FailList("/sdcard/DCIM", devicelink.PermissionDenied, -1)
	res := Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	assert.Empty(t, res.Session.Orphans)
	assert.NotEmpty(t, res.Session.Warnings)
	assert.Equal(t, 3, res.Manifest.Files)
}

func TestRun_FailuresAreJournaled(t *testing.T) {
	dest := t.TempDir()
	link := phone()
	link.FailFetch("/sdcard/Documents/notes.txt", devicelink.PermissionDenied, -1)

	res := Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	require.Len(t, res.Session.Failed, 1)
	assert.Equal(t, 2, res.Session.Copied)

	j, err := journal.Open(dest)
	require.NoError(t, err)
	defer j.Close()
	failures, err := j.Failures()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "/sdcard/Documents/notes.txt", failures[0].RemotePath)
	assert.Equal(t, "permission denied", failures[0].Kind)
	assert.Equal(t, 1, failures[0].Attempts)
}

func TestRun_Locked(t *testing.T) {
	dest := t.TempDir()
	lock, err := platform.LockSession(dest)
	require.NoError(t, err)
	defer lock.Release()

	link := phone()
	res := Run(context.Background(), runConfig(link, dest))
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, platform.ErrSessionLocked)
	assert.Equal(t, 0, link.TotalFetches())
}

func TestRun_CorruptManifestAborts(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, manifest.FileName), []byte("{not json"), 0o644))

	link := phone()
	res := Run(context.Background(), runConfig(link, dest))
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, manifest.ErrCorrupt)
	assert.Equal(t, 0, link.TotalFetches())

	// Left as found.
	data, err := os.ReadFile(filepath.Join(dest, manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestRun_CancelledScan(t *testing.T) {
	dest := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, runConfig(phone(), dest))
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Nil(t, res.Plan)
}

func TestOpenSession_SweepsTemps(t *testing.T) {
	dest := t.TempDir()
	stale := filepath.Join(dest, "internal", "DCIM", ".IMG_0001.jpg.0a1b2c3d.androsync-tmp")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("half"), 0o644))

	sess, err := OpenSession(Config{Dest: dest, NoJournal: true})
	require.NoError(t, err)
	defer sess.Close()

	_, err = os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, sess.Journal)
}

func TestRunPrune(t *testing.T) {
	dest := t.TempDir()
	link := phone()
	require.NoError(t, Run(context.Background(), runConfig(link, dest)).Failed())
	link.Remove("/sdcard/Documents/notes.txt")
	link.AddFile("/sdcard/Music/new.mp3", []byte("not fetched by prune"), t0)
	fetches := link.TotalFetches()

	dry := runConfig(link, dest)
	dry.DryRun = true
	res := RunPrune(context.Background(), dry)
	require.NoError(t, res.Failed())
	assert.Equal(t, []string{"/sdcard/Documents/notes.txt"}, res.Pruned)
	assert.Equal(t, 3, res.Manifest.Files)

	res = RunPrune(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	assert.Equal(t, []string{"/sdcard/Documents/notes.txt"}, res.Pruned)
	assert.Equal(t, fetches, link.TotalFetches())

	m, err := manifest.Load(afero.NewOsFs(), dest)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "remember the milk", readLocal(t, dest, "internal/Documents/notes.txt"))
}

func TestRun_DeviceFilesNamedLikeBookkeeping(t *testing.T) {
	dest := t.TempDir()
	link := devicelinktest.Tree(t0,
		"/.backup_manifest.json=device notes",
		"/.backup_journal.db=not a database",
		"/notes.txt=plain",
	)
	cfg := runConfig(link, dest)
	cfg.Roots = []string{"/"}

	res := Run(context.Background(), cfg)
	require.NoError(t, res.Failed())
	assert.Equal(t, 3, res.Session.Copied)
	assert.Equal(t, "device notes", readLocal(t, dest, ".backup_manifest (1).json"))
	assert.Equal(t, "not a database", readLocal(t, dest, ".backup_journal (1).db"))

	m, err := manifest.Load(afero.NewOsFs(), dest)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	res = Run(context.Background(), cfg)
	require.NoError(t, res.Failed())
	assert.Equal(t, 0, res.Session.Copied)
	assert.Equal(t, 3, res.Session.Skipped)
}

// A session killed after renaming a file into place but before saving the
// manifest leaves a promoted file with no row and possibly other temps.
func TestRun_KilledAfterPromote(t *testing.T) {
	dest := t.TempDir()
	link := phone()
	link.Remove("/sdcard/DCIM/Camera/IMG_0002.jpg")
	require.NoError(t, Run(context.Background(), runConfig(link, dest)).Failed())

	link.AddFile("/sdcard/DCIM/Camera/IMG_0002.jpg", []byte("second photo"), t0)
	camera := filepath.Join(dest, "internal", "DCIM", "Camera")
	require.NoError(t, os.WriteFile(filepath.Join(camera, "IMG_0002.jpg"), []byte("second photo"), 0o644))
	stale := filepath.Join(camera, ".IMG_0002.jpg.0a1b2c3d.androsync-tmp")
	require.NoError(t, os.WriteFile(stale, []byte("sec"), 0o644))

	res := Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	var copies []PlanItem
	for _, it := range res.Plan {
		if it.Action == Copy {
			copies = append(copies, it)
		} else {
			assert.Equal(t, Skip, it.Action, it.RemotePath)
		}
	}
	require.Len(t, copies, 1)
	assert.Equal(t, "/sdcard/DCIM/Camera/IMG_0002.jpg", copies[0].RemotePath)
	assert.Equal(t, "internal/DCIM/Camera/IMG_0002.jpg", copies[0].LocalPath)
	assert.Equal(t, "second photo", readLocal(t, dest, "internal/DCIM/Camera/IMG_0002.jpg"))
	_, err := os.Stat(filepath.Join(camera, "IMG_0002 (1).jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)

	res = Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	assert.Equal(t, 0, res.Session.Copied)
	assert.Equal(t, 3, res.Session.Skipped)
}

func TestRun_DiscoversStorageVolumes(t *testing.T) {
	link := devicelinktest.Tree(t0,
		"/sdcard/DCIM/a.jpg=internal",
		"/storage/1234-ABCD/DCIM/b.jpg=removable",
	)
	link.SetRoots("/sdcard", "/storage/1234-ABCD")

	dest := t.TempDir()
	res := Run(context.Background(), runConfig(link, dest))
	require.NoError(t, res.Failed())
	assert.Equal(t, 2, res.Session.Copied)
	assert.Equal(t, "removable", readLocal(t, dest, "sdcard_1234-ABCD/DCIM/b.jpg"))

	explicit := runConfig(link, t.TempDir())
	explicit.Roots = []string{"/storage/1234-ABCD"}
	res = Run(context.Background(), explicit)
	require.NoError(t, res.Failed())
	assert.Equal(t, 1, res.Session.Copied)

	link.FailRoots(errors.New("adb: device offline"))
	res = Run(context.Background(), runConfig(link, t.TempDir()))
	require.NoError(t, res.Failed())
	assert.Equal(t, 1, res.Session.Copied, "falls back to /sdcard")
}

func TestOpenSession_LockAndJournalStayOnDisk(t *testing.T) {
	dest := t.TempDir()
	mem := afero.NewMemMapFs()

	sess, err := OpenSession(Config{Dest: dest, Fs: mem})
	require.NoError(t, err)
	require.NoError(t, sess.Manifest.Save())

	assert.FileExists(t, filepath.Join(dest, platform.LockFileName))
	assert.FileExists(t, filepath.Join(dest, journal.FileName))
	assert.NoFileExists(t, filepath.Join(dest, manifest.FileName))
	ok, err := afero.Exists(mem, filepath.Join(dest, manifest.FileName))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = OpenSession(Config{Dest: dest, Fs: afero.NewMemMapFs(), NoJournal: true})
	assert.ErrorIs(t, err, platform.ErrSessionLocked, "a second in-memory tree still sees the lock")
	require.NoError(t, sess.Close())
}
