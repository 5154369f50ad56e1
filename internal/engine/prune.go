package engine

import (
	"context"
	"log/slog"

	"github.com/sonodavide/androsync/internal/event"
	"github.com/sonodavide/androsync/internal/manifest"
)

// PruneConfig controls the orphan pass.
type PruneConfig struct {
	Events chan<- event.Event
	Logger *slog.Logger
	DryRun bool
}

// PruneOrphans drops the manifest rows of every Orphan item in plan and
// returns their remote paths. Local copies are never deleted; the rows are
// only forgotten, so a file reappearing on the device is copied afresh.
// The caller saves the manifest.
func PruneOrphans(ctx context.Context, plan []PlanItem, m *manifest.Manifest, cfg PruneConfig) ([]string, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var pruned []string
	for _, item := range plan {
		if item.Action != Orphan {
			continue
		}
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		event.Emit(cfg.Events, event.Event{Type: event.OrphanFound, Path: item.RemotePath, LocalPath: item.LocalPath})
		if cfg.DryRun {
			pruned = append(pruned, item.RemotePath)
			continue
		}
		if m.Remove(item.RemotePath) {
			cfg.Logger.Info("orphan pruned", "path", item.RemotePath, "local", item.LocalPath)
			event.Emit(cfg.Events, event.Event{Type: event.OrphanPruned, Path: item.RemotePath, LocalPath: item.LocalPath})
			pruned = append(pruned, item.RemotePath)
		}
	}
	return pruned, nil
}
