package engine

import (
	"log/slog"
	"time"

	"github.com/sonodavide/androsync/internal/destfs"
	"github.com/sonodavide/androsync/internal/manifest"
)

// DefaultTolerance absorbs mtime jitter between the device and the
// manifest. Changes inside the window go unnoticed.
const DefaultTolerance = 2 * time.Second

// ClassifierConfig controls classification.
type ClassifierConfig struct {
	// Tree is consulted only when CheckLocal is set.
	Tree       *destfs.Tree
	Logger     *slog.Logger
	Tolerance  time.Duration
	CheckLocal bool
}

// Classifier compares a listing against the manifest.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier creates a classifier. A non-positive tolerance means
// DefaultTolerance.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{cfg: cfg}
}

// Plan returns one item per listed file, in listing order, followed by
// orphans sorted by remote path. The manifest is not modified.
func (c *Classifier) Plan(l *Listing, m *manifest.Manifest) []PlanItem {
	claims := newLocalClaims(m.ClaimedLocalPaths())
	seen := make(map[string]bool)
	var plan []PlanItem

	for _, root := range l.Roots {
		for _, e := range l.Entries[root] {
			if seen[e.RemotePath] {
				continue
			}
			seen[e.RemotePath] = true
			plan = append(plan, c.classify(e, m, claims))
		}
	}

	for _, ent := range m.Entries() {
		if seen[ent.RemotePath] || !l.Covers(ent.RemotePath) {
			continue
		}
		plan = append(plan, PlanItem{
			RemotePath:   ent.RemotePath,
			Action:       Orphan,
			ExpectedSize: ent.Size,
			Mtime:        ent.RemoteMtime,
			LocalPath:    ent.LocalPath,
			Category:     ent.Category,
			Reason:       "missing on device",
		})
	}
	return plan
}

func (c *Classifier) classify(e RemoteEntry, m *manifest.Manifest, claims *localClaims) PlanItem {
	item := PlanItem{
		RemotePath:   e.RemotePath,
		ExpectedSize: e.Size,
		Mtime:        e.Mtime,
		Category:     e.Category,
	}

	stored, ok := m.Lookup(e.RemotePath)
	if !ok {
		item.Action = Copy
		item.Reason = "new"
		item.LocalPath = claims.assign(MapLocalPath(e.RemotePath), e.RemotePath)
		return item
	}

	item.LocalPath = stored.LocalPath
	if reserved(stored.LocalPath) {
		item.Action = Update
		item.Reason = "local path reserved"
		item.LocalPath = claims.assign(MapLocalPath(e.RemotePath), e.RemotePath)
		return item
	}
	switch {
	case stored.Size != e.Size:
		item.Action = Update
		item.Reason = "size changed"
	case absDuration(e.Mtime.Sub(stored.RemoteMtime)) > c.cfg.Tolerance:
		item.Action = Update
		item.Reason = "mtime changed"
	case c.cfg.CheckLocal && !c.localExists(stored.LocalPath):
		item.Action = Update
		item.Reason = "local copy missing"
	default:
		item.Action = Skip
		item.Reason = "unchanged"
	}
	return item
}

func (c *Classifier) localExists(rel string) bool {
	if c.cfg.Tree == nil {
		return true
	}
	ok, err := c.cfg.Tree.Exists(rel)
	if err != nil {
		c.cfg.Logger.Warn("checking local copy", "path", rel, "error", err)
		return true
	}
	return ok
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
