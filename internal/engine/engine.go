package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/sonodavide/androsync/internal/category"
	"github.com/sonodavide/androsync/internal/destfs"
	"github.com/sonodavide/androsync/internal/devicelink"
	"github.com/sonodavide/androsync/internal/event"
	"github.com/sonodavide/androsync/internal/filter"
	"github.com/sonodavide/androsync/internal/journal"
	"github.com/sonodavide/androsync/internal/manifest"
	"github.com/sonodavide/androsync/internal/platform"
	"github.com/sonodavide/androsync/internal/stats"
)

// Config describes a backup session.
type Config struct {
	Link       devicelink.Link
	Filter     *filter.Chain
	Rules      *category.Rules
	Categories category.Set
	// Fs holds the destination tree and manifest; nil means the OS
	// filesystem. The session lock and the failure journal always live on
	// the OS filesystem under Dest, whatever Fs is.
	Fs     afero.Fs
	Space  destfs.SpaceFunc
	Clock  clockwork.Clock
	Stats  *stats.Collector
	Events chan<- event.Event
	Logger *slog.Logger

	Dest  string
	Roots []string

	Workers      int
	Mode         Mode
	Tolerance    time.Duration
	Retries      int
	Backoff      time.Duration
	ListTimeout  time.Duration
	FetchTimeout time.Duration
	SaveEvery    int
	BWLimit      int64
	Reserve      uint64

	CheckLocal   bool
	DryRun       bool
	PruneOrphans bool
	NoJournal    bool
}

// Result is the outcome of Run.
type Result struct {
	// Err is set when the session could not start or the scan was cut
	// short; nothing was transferred.
	Err       error
	Listing   *Listing
	Plan      []PlanItem
	Pruned    []string
	Session   SessionResult
	Manifest  manifest.Stats
	Stats     stats.Snapshot
	SessionID string
	DryRun    bool
}

// Failed returns the error that ended the session, if any.
func (r Result) Failed() error {
	if r.Err != nil {
		return r.Err
	}
	return r.Session.Fatal
}

// Session is everything one backup run owns in the destination.
type Session struct {
	Manifest *manifest.Manifest
	Tree     *destfs.Tree
	Journal  *journal.Journal // nil when disabled or unavailable
	ID       string
	lock     *platform.SessionLock
	logger   *slog.Logger
}

// OpenSession locks the destination, sweeps temp files left by a crashed
// session and loads the manifest. A corrupt manifest is returned as an
// error; it is never repaired.
func OpenSession(cfg Config) (*Session, error) {
	cfg = withDefaults(cfg)

	lock, err := platform.LockSession(cfg.Dest)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: uuid.NewString(), lock: lock, logger: cfg.Logger}

	var opts []destfs.Option
	if cfg.Space != nil {
		opts = append(opts, destfs.WithSpace(cfg.Space))
	}
	s.Tree = destfs.New(cfg.Fs, cfg.Dest, opts...)

	swept, err := s.Tree.SweepTemp()
	if err != nil {
		cfg.Logger.Warn("sweeping temp files", "error", err)
	} else if swept > 0 {
		cfg.Logger.Info("removed temp files from an earlier session", "count", swept)
	}

	s.Manifest, err = manifest.Load(cfg.Fs, cfg.Dest, manifest.WithClock(cfg.Clock))
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	if !cfg.NoJournal && !cfg.DryRun {
		j, err := journal.Open(cfg.Dest, journal.WithClock(cfg.Clock))
		if err != nil {
			cfg.Logger.Warn("failure journal unavailable", "error", err)
		} else {
			s.Journal = j
			s.ID = j.Session()
		}
	}
	return s, nil
}

// Close releases the journal and the destination lock.
func (s *Session) Close() error {
	var errs []error
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	errs = append(errs, s.lock.Release())
	return errors.Join(errs...)
}

// Run executes a backup session, blocking until complete: lock, sweep,
// load, scan, plan, execute, prune, save, release.
func Run(ctx context.Context, cfg Config) Result {
	cfg = withDefaults(cfg)
	log := cfg.Logger

	sess, err := OpenSession(cfg)
	if err != nil {
		return Result{Err: err, DryRun: cfg.DryRun}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("closing session", "error", err)
		}
	}()
	log = log.With("session", sess.ID)

	res := Result{SessionID: sess.ID, DryRun: cfg.DryRun}
	m := sess.Manifest

	describeDevice(ctx, cfg, m, log)

	listing, plan, err := scanAndPlan(ctx, cfg, sess, log)
	if err != nil {
		res.Err = err
		return res
	}
	res.Listing = listing
	res.Plan = plan
	sum := Summarize(plan)

	if cfg.DryRun {
		res.Session = SessionResult{Skipped: sum.Skip, Warnings: listing.Warnings}
		for _, item := range plan {
			if item.Action == Orphan {
				res.Session.Orphans = append(res.Session.Orphans, item.RemotePath)
			}
		}
		res.Manifest = m.Stats()
		res.Stats = cfg.Stats.Snapshot()
		return res
	}

	var recorder FailureRecorder
	ordered := plan
	if sess.Journal != nil {
		recorder = sess.Journal
		ordered = OrderByAttempts(plan, sess.Journal.Attempts)
	}

	res.Session = NewOrchestrator(OrchestratorConfig{
		Link:         cfg.Link,
		Tree:         sess.Tree,
		Journal:      recorder,
		Stats:        cfg.Stats,
		Events:       cfg.Events,
		Logger:       log,
		Clock:        cfg.Clock,
		Workers:      cfg.Workers,
		Mode:         cfg.Mode,
		FetchTimeout: cfg.FetchTimeout,
		Retries:      cfg.Retries,
		Backoff:      cfg.Backoff,
		SaveEvery:    cfg.SaveEvery,
		BWLimit:      cfg.BWLimit,
		Reserve:      cfg.Reserve,
	}).Execute(ctx, ordered, m)
	res.Session.Warnings = listing.Warnings

	finished := res.Session.Fatal == nil && !res.Session.Cancelled
	if finished && cfg.PruneOrphans {
		res.Pruned, err = PruneOrphans(ctx, plan, m, PruneConfig{Events: cfg.Events, Logger: log})
		if err != nil {
			log.Warn("prune interrupted", "error", err)
		}
	}
	if res.Session.Fatal == nil {
		if finished {
			m.MarkSynced()
		}
		if err := m.Save(); err != nil {
			res.Session.Fatal = &ManifestWriteError{LastDurable: lastOf(res.Session.Completed), Err: err}
		} else {
			event.Emit(cfg.Events, event.Event{Type: event.ManifestSaved, Path: m.Path(), Total: int64(m.Len())})
		}
	}

	res.Manifest = m.Stats()
	res.Stats = cfg.Stats.Snapshot()
	event.Emit(cfg.Events, event.Event{Type: event.SessionFinished, Error: res.Session.Fatal})
	log.Info("session finished",
		"copied", res.Session.Copied,
		"updated", res.Session.Updated,
		"refreshed", res.Session.Refreshed,
		"failed", len(res.Session.Failed),
		"skipped", res.Session.Skipped,
		"cancelled", res.Session.Cancelled,
	)
	return res
}

// RunPrune scans the device and forgets the manifest rows of every orphan
// without transferring anything. Local files are left alone. With DryRun
// the orphans are only reported.
func RunPrune(ctx context.Context, cfg Config) Result {
	cfg = withDefaults(cfg)
	cfg.NoJournal = true
	log := cfg.Logger

	sess, err := OpenSession(cfg)
	if err != nil {
		return Result{Err: err, DryRun: cfg.DryRun}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("closing session", "error", err)
		}
	}()
	log = log.With("session", sess.ID)

	res := Result{SessionID: sess.ID, DryRun: cfg.DryRun}
	listing, plan, err := scanAndPlan(ctx, cfg, sess, log)
	if err != nil {
		res.Err = err
		return res
	}
	res.Listing = listing
	res.Plan = plan
	res.Session.Warnings = listing.Warnings

	res.Pruned, err = PruneOrphans(ctx, plan, sess.Manifest, PruneConfig{Events: cfg.Events, Logger: log, DryRun: cfg.DryRun})
	if err != nil {
		res.Session.Cancelled = true
	}
	res.Session.Orphans = res.Pruned
	if !cfg.DryRun && len(res.Pruned) > 0 {
		if err := sess.Manifest.Save(); err != nil {
			res.Session.Fatal = &ManifestWriteError{Err: err}
		}
	}
	res.Manifest = sess.Manifest.Stats()
	res.Stats = cfg.Stats.Snapshot()
	return res
}

// scanAndPlan lists every root and classifies the listing against the
// session's manifest.
func scanAndPlan(ctx context.Context, cfg Config, sess *Session, log *slog.Logger) (*Listing, []PlanItem, error) {
	scanner := NewScanner(ScannerConfig{
		Link:        cfg.Link,
		Roots:       discoverRoots(ctx, cfg, log),
		Workers:     cfg.Workers,
		ListTimeout: cfg.ListTimeout,
		ListRetries: min(cfg.Retries, 1),
		Backoff:     cfg.Backoff,
		Filter:      cfg.Filter,
		Rules:       cfg.Rules,
		Categories:  cfg.Categories,
		Stats:       cfg.Stats,
		Events:      cfg.Events,
		Logger:      log,
		Clock:       cfg.Clock,
	})
	listing, err := Collect(ctx, scanner)
	if err != nil {
		return nil, nil, fmt.Errorf("scan: %w", err)
	}
	log.Info("scan complete", "files", listing.Files(), "dirs", listing.Dirs, "skipped_dirs", len(listing.Unreachable))

	plan := NewClassifier(ClassifierConfig{
		Tolerance:  cfg.Tolerance,
		CheckLocal: cfg.CheckLocal,
		Tree:       sess.Tree,
		Logger:     log,
	}).Plan(listing, sess.Manifest)

	sum := Summarize(plan)
	cfg.Stats.AddOrphans(int64(sum.Orphan))
	event.Emit(cfg.Events, event.Event{
		Type:      event.PlanReady,
		Total:     int64(sum.Copy + sum.Update),
		TotalSize: int64(sum.Bytes),
	})
	log.Info("plan ready", "copy", sum.Copy, "update", sum.Update, "skip", sum.Skip, "orphan", sum.Orphan)
	return listing, plan, nil
}

// PlanSummary counts plan items per action.
type PlanSummary struct {
	Copy   int    `json:"copy" yaml:"copy"`
	Update int    `json:"update" yaml:"update"`
	Skip   int    `json:"skip" yaml:"skip"`
	Orphan int    `json:"orphan" yaml:"orphan"`
	Bytes  uint64 `json:"bytes" yaml:"bytes"` // to transfer
}

// Summarize counts plan items per action.
func Summarize(plan []PlanItem) PlanSummary {
	var s PlanSummary
	for _, item := range plan {
		switch item.Action {
		case Copy:
			s.Copy++
			s.Bytes += item.ExpectedSize
		case Update:
			s.Update++
			s.Bytes += item.ExpectedSize
		case Skip:
			s.Skip++
		case Orphan:
			s.Orphan++
		}
	}
	return s
}

// OrderByAttempts moves transfers that failed in earlier sessions behind the
// fresh ones, fewest attempts first. Everything else keeps its order.
func OrderByAttempts(plan []PlanItem, attempts func(remotePath string) int) []PlanItem {
	type retry struct {
		item PlanItem
		n    int
	}
	var fresh, rest []PlanItem
	var retries []retry
	for _, item := range plan {
		if !item.Action.Transfers() {
			rest = append(rest, item)
			continue
		}
		if n := attempts(item.RemotePath); n > 0 {
			retries = append(retries, retry{item: item, n: n})
			continue
		}
		fresh = append(fresh, item)
	}
	sort.SliceStable(retries, func(i, j int) bool { return retries[i].n < retries[j].n })

	out := make([]PlanItem, 0, len(plan))
	out = append(out, fresh...)
	for _, r := range retries {
		out = append(out, r.item)
	}
	return append(out, rest...)
}

// discoverRoots returns cfg.Roots, or asks the link for its storage volumes
// when none were given. An empty result leaves the scanner on DefaultRoots.
func discoverRoots(ctx context.Context, cfg Config, log *slog.Logger) []string {
	if len(cfg.Roots) > 0 {
		return cfg.Roots
	}
	rl, ok := cfg.Link.(devicelink.RootLister)
	if !ok {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, cfg.ListTimeout)
	defer cancel()
	roots, err := rl.Roots(rctx)
	if err != nil {
		log.Warn("storage discovery failed, using defaults", "roots", DefaultRoots, "error", err)
		return nil
	}
	log.Debug("storage volumes discovered", "roots", roots)
	return roots
}

func describeDevice(ctx context.Context, cfg Config, m *manifest.Manifest, log *slog.Logger) {
	d, ok := cfg.Link.(devicelink.Describer)
	if !ok {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, cfg.ListTimeout)
	defer cancel()
	dev, err := d.Describe(dctx)
	if err != nil {
		log.Debug("device description unavailable", "error", err)
		return
	}
	if prev := m.Metadata().DeviceSerial; prev != "" && dev.Serial != "" && prev != dev.Serial {
		log.Warn("destination was backed up from another device", "previous", prev, "current", dev.Serial)
	}
	m.SetDevice(dev.Serial, dev.Model)
}

func withDefaults(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	return cfg
}

func lastOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}
