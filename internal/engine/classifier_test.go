package engine

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_Actions(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/same.jpg", "internal/same.jpg", 10, t0)
	mustUpsert(t, m, "/sdcard/jitter.jpg", "internal/jitter.jpg", 10, t0)
	mustUpsert(t, m, "/sdcard/resized.jpg", "internal/resized.jpg", 10, t0)
	mustUpsert(t, m, "/sdcard/touched.jpg", "internal/touched.jpg", 10, t0)
	mustUpsert(t, m, "/sdcard/gone.jpg", "internal/gone.jpg", 10, t0)

	l := listingOf([]string{"/sdcard"},
		file("/sdcard", "/sdcard/new.jpg", 5, t0),
		file("/sdcard", "/sdcard/same.jpg", 10, t0),
		file("/sdcard", "/sdcard/jitter.jpg", 10, t0.Add(2*time.Second)),
		file("/sdcard", "/sdcard/resized.jpg", 11, t0),
		file("/sdcard", "/sdcard/touched.jpg", 10, t0.Add(-3*time.Second)),
	)

	plan := NewClassifier(ClassifierConfig{}).Plan(l, m)
	require.Len(t, plan, 6)
	assert.Equal(t, map[string]Action{
		"/sdcard/new.jpg":     Copy,
		"/sdcard/same.jpg":    Skip,
		"/sdcard/jitter.jpg":  Skip,
		"/sdcard/resized.jpg": Update,
		"/sdcard/touched.jpg": Update,
		"/sdcard/gone.jpg":    Orphan,
	}, actions(plan))

	// Listing order first, orphans last.
	assert.Equal(t, "/sdcard/new.jpg", plan[0].RemotePath)
	assert.Equal(t, "internal/new.jpg", plan[0].LocalPath)
	assert.Equal(t, uint64(5), plan[0].ExpectedSize)
	assert.Equal(t, "/sdcard/gone.jpg", plan[5].RemotePath)
	assert.Equal(t, "internal/gone.jpg", plan[5].LocalPath)

	// Classification leaves the manifest alone.
	assert.Equal(t, 5, m.Len())
}

func TestPlan_Tolerance(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/a.jpg", "internal/a.jpg", 1, t0)
	l := listingOf([]string{"/sdcard"}, file("/sdcard", "/sdcard/a.jpg", 1, t0.Add(5*time.Second)))

	assert.Equal(t, Update, NewClassifier(ClassifierConfig{}).Plan(l, m)[0].Action)
	assert.Equal(t, Skip, NewClassifier(ClassifierConfig{Tolerance: 10 * time.Second}).Plan(l, m)[0].Action)
}

func TestPlan_UpdateKeepsLocalPath(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/a.jpg", "internal/a (1).jpg", 1, t0)
	l := listingOf([]string{"/sdcard"}, file("/sdcard", "/sdcard/a.jpg", 2, t0))

	plan := NewClassifier(ClassifierConfig{}).Plan(l, m)
	assert.Equal(t, "internal/a (1).jpg", plan[0].LocalPath)
}

func TestPlan_OrphansOnlyWhereScanIsComplete(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/locked/a.jpg", "internal/locked/a.jpg", 1, t0)
	mustUpsert(t, m, "/sdcard/Android/data/x.db", "internal/Android/data/x.db", 1, t0)
	mustUpsert(t, m, "/sdcard/doc.pdf", "internal/doc.pdf", 1, t0)
	mustUpsert(t, m, "/storage/ABCD/b.jpg", "sdcard_ABCD/b.jpg", 1, t0)
	mustUpsert(t, m, "/sdcard/deleted.jpg", "internal/deleted.jpg", 1, t0)

	l := listingOf([]string{"/sdcard"})
	l.Unreachable = []string{"/sdcard/locked"}
	l.Pruned = []string{"/sdcard/Android/data"}
	l.Excluded = map[string]struct{}{"/sdcard/doc.pdf": {}}

	plan := NewClassifier(ClassifierConfig{}).Plan(l, m)
	assert.Equal(t, map[string]Action{"/sdcard/deleted.jpg": Orphan}, actions(plan))
}

func TestPlan_UnreachableRootOrphansNothing(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/a.jpg", "internal/a.jpg", 1, t0)

	l := listingOf([]string{"/sdcard"})
	l.Unreachable = []string{"/sdcard"}

	assert.Empty(t, NewClassifier(ClassifierConfig{}).Plan(l, m))
}

func TestPlan_LocalPathCollisions(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/old/Photo.jpg", "internal/DCIM/photo.jpg", 1, t0)

	l := listingOf([]string{"/sdcard", "/storage/emulated/0"},
		file("/sdcard", "/sdcard/DCIM/PHOTO.jpg", 1, t0),
		file("/sdcard", "/sdcard/DCIM/photo.JPG", 1, t0),
		file("/sdcard", "/sdcard/old/Photo.jpg", 1, t0),
		file("/storage/emulated/0", "/storage/emulated/0/DCIM/photo.jpg", 1, t0),
	)

	plan := NewClassifier(ClassifierConfig{}).Plan(l, m)
	local := map[string]string{}
	for _, item := range plan {
		local[item.RemotePath] = item.LocalPath
	}
	assert.Equal(t, map[string]string{
		"/sdcard/DCIM/PHOTO.jpg":             "internal/DCIM/PHOTO (1).jpg",
		"/sdcard/DCIM/photo.JPG":             "internal/DCIM/photo (2).JPG",
		"/sdcard/old/Photo.jpg":              "internal/DCIM/photo.jpg",
		"/storage/emulated/0/DCIM/photo.jpg": "internal/DCIM/photo (3).jpg",
	}, local)

	// Same input, same answer.
	again := NewClassifier(ClassifierConfig{}).Plan(l, m)
	assert.Equal(t, plan, again)
}

func TestPlan_CheckLocal(t *testing.T) {
	m, fsys := newMemManifest(t)
	mustUpsert(t, m, "/sdcard/kept.jpg", "internal/kept.jpg", 1, t0)
	mustUpsert(t, m, "/sdcard/lost.jpg", "internal/lost.jpg", 1, t0)
	require.NoError(t, afero.WriteFile(fsys, "/backup/internal/kept.jpg", []byte("x"), 0o644))

	l := listingOf([]string{"/sdcard"},
		file("/sdcard", "/sdcard/kept.jpg", 1, t0),
		file("/sdcard", "/sdcard/lost.jpg", 1, t0),
	)

	off := NewClassifier(ClassifierConfig{}).Plan(l, m)
	assert.Equal(t, map[string]Action{"/sdcard/kept.jpg": Skip, "/sdcard/lost.jpg": Skip}, actions(off))

	on := NewClassifier(ClassifierConfig{CheckLocal: true, Tree: newMemTree(fsys)}).Plan(l, m)
	assert.Equal(t, map[string]Action{"/sdcard/kept.jpg": Skip, "/sdcard/lost.jpg": Update}, actions(on))
	assert.Equal(t, "local copy missing", on[1].Reason)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]PlanItem{
		{Action: Copy, ExpectedSize: 3},
		{Action: Update, ExpectedSize: 4},
		{Action: Skip, ExpectedSize: 100},
		{Action: Orphan},
	})
	assert.Equal(t, PlanSummary{Copy: 1, Update: 1, Skip: 1, Orphan: 1, Bytes: 7}, s)
}

func TestOrderByAttempts(t *testing.T) {
	plan := []PlanItem{
		{RemotePath: "/a", Action: Copy},
		{RemotePath: "/b", Action: Update},
		{RemotePath: "/c", Action: Skip},
		{RemotePath: "/d", Action: Copy},
		{RemotePath: "/e", Action: Copy},
		{RemotePath: "/z", Action: Orphan},
	}
	attempts := map[string]int{"/a": 3, "/d": 1}

	got := OrderByAttempts(plan, func(p string) int { return attempts[p] })
	var order []string
	for _, item := range got {
		order = append(order, item.RemotePath)
	}
	assert.Equal(t, []string{"/b", "/e", "/d", "/a", "/c", "/z"}, order)
}

func TestPlan_ReservedLocalPaths(t *testing.T) {
	m, _ := newMemManifest(t)
	l := listingOf([]string{"/"},
		file("/", "/.backup_manifest.json", 14, t0),
		file("/", "/.BACKUP_JOURNAL.DB", 4, t0),
		file("/", "/.backup_journal.db-wal", 4, t0),
		file("/", "/.backup_manifest.lock", 4, t0),
		file("/", "/DCIM/.a.jpg.0123abcd.androsync-tmp", 4, t0),
		file("/", "/DCIM/.backup_manifest.json", 4, t0),
		file("/", "/notes.txt", 4, t0),
	)

	plan := NewClassifier(ClassifierConfig{}).Plan(l, m)
	local := make(map[string]string, len(plan))
	for _, item := range plan {
		assert.Equal(t, Copy, item.Action, item.RemotePath)
		local[item.RemotePath] = item.LocalPath
	}
	assert.Equal(t, map[string]string{
		"/.backup_manifest.json":              ".backup_manifest (1).json",
		"/.BACKUP_JOURNAL.DB":                 ".BACKUP_JOURNAL (1).DB",
		"/.backup_journal.db-wal":             ".backup_journal (1).db-wal",
		"/.backup_manifest.lock":              ".backup_manifest (1).lock",
		"/DCIM/.a.jpg.0123abcd.androsync-tmp": "DCIM/.a.jpg.0123abcd (1).androsync-tmp",
		"/DCIM/.backup_manifest.json":         "DCIM/.backup_manifest.json",
		"/notes.txt":                          "notes.txt",
	}, local)
}

func TestPlan_StoredReservedPathIsRehomed(t *testing.T) {
	m, _ := newMemManifest(t)
	mustUpsert(t, m, "/.backup_journal.db", ".backup_journal.db", 4, t0)
	l := listingOf([]string{"/"}, file("/", "/.backup_journal.db", 4, t0))

	plan := NewClassifier(ClassifierConfig{}).Plan(l, m)
	require.Len(t, plan, 1)
	assert.Equal(t, Update, plan[0].Action)
	assert.Equal(t, ".backup_journal (1).db", plan[0].LocalPath)
}
