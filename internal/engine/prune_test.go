package engine

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonodavide/androsync/internal/event"
)

func orphanPlan() []PlanItem {
	return []PlanItem{
		{RemotePath: "/sdcard/keep.jpg", Action: Skip, LocalPath: "internal/keep.jpg"},
		{RemotePath: "/sdcard/gone.jpg", Action: Orphan, LocalPath: "internal/gone.jpg"},
		{RemotePath: "/sdcard/old/clip.mp4", Action: Orphan, LocalPath: "internal/old/clip.mp4"},
	}
}

func TestPruneOrphans(t *testing.T) {
	m, fsys := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/keep.jpg", "internal/keep.jpg", 1, t0)
	mustUpsert(t, m, "/sdcard/gone.jpg", "internal/gone.jpg", 1, t0)
	mustUpsert(t, m, "/sdcard/old/clip.mp4", "internal/old/clip.mp4", 1, t0)
	require.NoError(t, afero.WriteFile(fsys, "/backup/internal/gone.jpg", []byte("x"), 0o644))

	events := make(chan event.Event, 16)
	pruned, err := PruneOrphans(context.Background(), orphanPlan(), m, PruneConfig{Events: events})
	require.NoError(t, err)
	close(events)

	assert.Equal(t, []string{"/sdcard/gone.jpg", "/sdcard/old/clip.mp4"}, pruned)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Lookup("/sdcard/keep.jpg")
	assert.True(t, ok)

	// Forgotten, not deleted.
	exists, err := afero.Exists(fsys, "/backup/internal/gone.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	var found, prunedEvents int
	for e := range events {
		switch e.Type {
		case event.OrphanFound:
			found++
		case event.OrphanPruned:
			prunedEvents++
		}
	}
	assert.Equal(t, 2, found)
	assert.Equal(t, 2, prunedEvents)
}

func TestPruneOrphans_DryRun(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/gone.jpg", "internal/gone.jpg", 1, t0)
	mustUpsert(t, m, "/sdcard/old/clip.mp4", "internal/old/clip.mp4", 1, t0)

	pruned, err := PruneOrphans(context.Background(), orphanPlan(), m, PruneConfig{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, pruned, 2)
	assert.Equal(t, 2, m.Len())
}

func TestPruneOrphans_Cancelled(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/gone.jpg", "internal/gone.jpg", 1, t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pruned, err := PruneOrphans(ctx, orphanPlan(), m, PruneConfig{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pruned)
	assert.Equal(t, 1, m.Len())
}
