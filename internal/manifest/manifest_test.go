package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonodavide/androsync/internal/category"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

func newTestManifest(t *testing.T, fsys afero.Fs) (*Manifest, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	m, err := Load(fsys, "/backup", WithClock(clock))
	require.NoError(t, err)
	return m, clock
}

func sampleEntry(i int) Entry {
	return Entry{
		RemotePath:  fmt.Sprintf("/sdcard/DCIM/Camera/IMG_%05d.jpg", i),
		Size:        uint64(1000 + i),
		RemoteMtime: t0.Add(-time.Duration(i) * time.Minute),
		Signature:   fmt.Sprintf("%d:%d", 1000+i, t0.Unix()),
		LocalPath:   fmt.Sprintf("internal/DCIM/Camera/IMG_%05d.jpg", i),
		Category:    category.Media,
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	m, _ := newTestManifest(t, afero.NewMemMapFs())

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, t0, m.Metadata().CreatedAt)
	assert.Equal(t, "/backup/.backup_manifest.json", m.Path())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	m, _ := newTestManifest(t, fsys)
	m.SetDevice("R58M123ABC", "SM-G991B")
	for i := range 3 {
		require.NoError(t, m.Upsert(sampleEntry(i)))
	}
	m.MarkSynced()
	require.NoError(t, m.Save())

	loaded, err := Load(fsys, "/backup")
	require.NoError(t, err)
	assert.Equal(t, m.Entries(), loaded.Entries())
	assert.Equal(t, m.Metadata(), loaded.Metadata())

	// the temp file never outlives a successful save
	exists, err := afero.Exists(fsys, "/backup/.backup_manifest.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSaveLoad_EmptyAndLarge(t *testing.T) {
	for _, n := range []int{0, 10_500} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			m, _ := newTestManifest(t, fsys)
			for i := range n {
				require.NoError(t, m.Upsert(sampleEntry(i)))
			}
			require.NoError(t, m.Save())

			loaded, err := Load(fsys, "/backup")
			require.NoError(t, err)
			assert.Equal(t, n, loaded.Len())
			assert.Equal(t, m.Entries(), loaded.Entries())
		})
	}
}

func TestSave_Idempotent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	m, _ := newTestManifest(t, fsys)
	require.NoError(t, m.Upsert(sampleEntry(1)))

	require.NoError(t, m.Save())
	first, err := afero.ReadFile(fsys, m.Path())
	require.NoError(t, err)

	require.NoError(t, m.Save())
	second, err := afero.ReadFile(fsys, m.Path())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUpsert_StampsSyncedAt(t *testing.T) {
	m, clock := newTestManifest(t, afero.NewMemMapFs())
	clock.Advance(time.Hour)

	require.NoError(t, m.Upsert(sampleEntry(1)))
	e, ok := m.Lookup(sampleEntry(1).RemotePath)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), e.SyncedAt)
}

func TestUpsert_RejectsClaimedLocalPath(t *testing.T) {
	m, _ := newTestManifest(t, afero.NewMemMapFs())
	require.NoError(t, m.Upsert(sampleEntry(1)))

	other := sampleEntry(2)
	other.LocalPath = "INTERNAL/DCIM/Camera/img_00001.JPG"
	err := m.Upsert(other)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocalPathClaimed)
	assert.Equal(t, 1, m.Len())
}

func TestUpsert_ReplaceMovesLocalClaim(t *testing.T) {
	m, _ := newTestManifest(t, afero.NewMemMapFs())
	e := sampleEntry(1)
	require.NoError(t, m.Upsert(e))

	e.LocalPath = "internal/DCIM/Camera/IMG_00001 (1).jpg"
	require.NoError(t, m.Upsert(e))

	claimed := m.ClaimedLocalPaths()
	assert.Len(t, claimed, 1)
	assert.Contains(t, claimed, "internal/dcim/camera/img_00001 (1).jpg")

	// the old local path is free again
	other := sampleEntry(2)
	other.LocalPath = sampleEntry(1).LocalPath
	require.NoError(t, m.Upsert(other))
}

func TestRemove(t *testing.T) {
	m, _ := newTestManifest(t, afero.NewMemMapFs())
	require.NoError(t, m.Upsert(sampleEntry(1)))

	assert.True(t, m.Remove(sampleEntry(1).RemotePath))
	assert.False(t, m.Remove(sampleEntry(1).RemotePath))
	_, ok := m.Lookup(sampleEntry(1).RemotePath)
	assert.False(t, ok)
	assert.Empty(t, m.ClaimedLocalPaths())
}

func TestStats(t *testing.T) {
	m, _ := newTestManifest(t, afero.NewMemMapFs())
	require.NoError(t, m.Upsert(sampleEntry(1)))
	doc := sampleEntry(2)
	doc.RemotePath = "/sdcard/Download/a.pdf"
	doc.LocalPath = "internal/Download/a.pdf"
	doc.Category = category.Document
	require.NoError(t, m.Upsert(doc))
	m.SetDevice("SERIAL", "Pixel 8")

	s := m.Stats()
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, uint64(1001+1002), s.Bytes)
	assert.Equal(t, 1, s.ByCategory[category.Media])
	assert.Equal(t, 1, s.ByCategory[category.Document])
	assert.Equal(t, "Pixel 8 SERIAL", s.Device)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := map[string]string{
		"garbage":        "{not json",
		"future schema":  `{"schema_version": 2, "metadata": {}, "files": []}`,
		"missing schema": `{"metadata": {}, "files": []}`,
		"dup remote": `{"schema_version":1,"metadata":{},"files":[
			{"remote_path":"/sdcard/a","local_path":"internal/a","category":"other"},
			{"remote_path":"/sdcard/a","local_path":"internal/b","category":"other"}]}`,
		"dup local": `{"schema_version":1,"metadata":{},"files":[
			{"remote_path":"/sdcard/a","local_path":"internal/A","category":"other"},
			{"remote_path":"/sdcard/b","local_path":"internal/a","category":"other"}]}`,
		"empty local": `{"schema_version":1,"metadata":{},"files":[
			{"remote_path":"/sdcard/a","local_path":"","category":"other"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fsys, "/backup/"+FileName, []byte(body), 0o644))

			_, err := Load(fsys, "/backup")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)

			var ce *CorruptError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "/backup/"+FileName, ce.Path)
		})
	}
}

func TestSave_FailureKeepsPreviousFile(t *testing.T) {
	base := afero.NewMemMapFs()
	m, _ := newTestManifest(t, base)
	require.NoError(t, m.Upsert(sampleEntry(1)))
	require.NoError(t, m.Save())
	before, err := afero.ReadFile(base, m.Path())
	require.NoError(t, err)

	ro, err := Load(afero.NewReadOnlyFs(base), "/backup")
	require.NoError(t, err)
	require.NoError(t, ro.Upsert(sampleEntry(2)))

	err = ro.Save()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrite)
	var we *WriteError
	require.True(t, errors.As(err, &we))

	after, err := afero.ReadFile(base, m.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSave_OnDisk(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(afero.NewOsFs(), dir)
	require.NoError(t, err)
	require.NoError(t, m.Upsert(sampleEntry(7)))
	require.NoError(t, m.Save())

	info, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	loaded, err := Load(afero.NewOsFs(), dir)
	require.NoError(t, err)
	assert.Equal(t, m.Entries(), loaded.Entries())
}
