package engine

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sonodavide/androsync/internal/category"
	"github.com/sonodavide/androsync/internal/destfs"
	"github.com/sonodavide/androsync/internal/manifest"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// newMemManifest returns an empty manifest on an in-memory destination.
func newMemManifest(t *testing.T) (*manifest.Manifest, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	m, err := manifest.Load(fsys, "/backup", manifest.WithClock(clockwork.NewFakeClockAt(t0)))
	require.NoError(t, err)
	return m, fsys
}

func newMemTree(fsys afero.Fs, opts ...destfs.Option) *destfs.Tree {
	return destfs.New(fsys, "/backup", opts...)
}

func mustUpsert(t *testing.T, m *manifest.Manifest, remote, local string, size uint64, mtime time.Time) {
	t.Helper()
	require.NoError(t, m.Upsert(manifest.Entry{
		RemotePath:  remote,
		Size:        size,
		RemoteMtime: mtime,
		Signature:   MetadataSignature(size, mtime),
		LocalPath:   local,
		Category:    category.DefaultRules().Classify(remote),
	}))
}

func listingOf(roots []string, entries ...RemoteEntry) *Listing {
	l := &Listing{Roots: roots, Entries: make(map[string][]RemoteEntry)}
	for _, e := range entries {
		l.Entries[e.Root] = append(l.Entries[e.Root], e)
	}
	return l
}

func file(root, p string, size uint64, mtime time.Time) RemoteEntry {
	return RemoteEntry{Root: root, RemotePath: p, Size: size, Mtime: mtime, Category: category.DefaultRules().Classify(p)}
}

func actions(plan []PlanItem) map[string]Action {
	out := make(map[string]Action, len(plan))
	for _, item := range plan {
		out[item.RemotePath] = item.Action
	}
	return out
}
