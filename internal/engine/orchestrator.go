package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/sonodavide/androsync/internal/destfs"
	"github.com/sonodavide/androsync/internal/devicelink"
	"github.com/sonodavide/androsync/internal/event"
	"github.com/sonodavide/androsync/internal/manifest"
	"github.com/sonodavide/androsync/internal/platform"
	"github.com/sonodavide/androsync/internal/stats"
)

const (
	DefaultFetchTimeout = 30 * time.Minute
	DefaultSaveEvery    = 1

	copyBufSize = 256 * 1024
)

// FailureRecorder remembers per-path outcomes across sessions.
type FailureRecorder interface {
	RecordFailure(remotePath, kind, msg string) error
	RecordSuccess(remotePath string) error
}

// OrchestratorConfig controls transfers.
type OrchestratorConfig struct {
	Link    devicelink.Link
	Tree    *destfs.Tree
	Journal FailureRecorder
	Stats   *stats.Collector
	Events  chan<- event.Event
	Logger  *slog.Logger
	Clock   clockwork.Clock
	// Workers bounds concurrent fetches.
	Workers      int
	Mode         Mode
	FetchTimeout time.Duration
	// Retries is how many times a transient link error is retried.
	Retries int
	Backoff time.Duration
	// SaveEvery persists the manifest after this many commits.
	SaveEvery int
	// BWLimit caps fetch throughput in bytes per second; 0 is unlimited.
	BWLimit int64
	// Reserve is free space kept on the destination beyond each file.
	Reserve uint64
}

// Orchestrator moves planned files from the device into the destination.
type Orchestrator struct {
	cfg     OrchestratorConfig
	limiter *rate.Limiter
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = DefaultSaveEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	return &Orchestrator{cfg: cfg, limiter: NewBWLimiter(cfg.BWLimit)}
}

// execution is the shared state of one Execute call.
type execution struct {
	m      *manifest.Manifest
	cancel context.CancelFunc

	mu          sync.Mutex // commit mutex; also guards res
	res         SessionResult
	unsaved     int
	lastDurable string
	lastCommit  string
}

// outcome of a single transfer.
type outcome int

const (
	committed outcome = iota
	refreshed
	failed
)

// Execute transfers every Copy and Update item in plan, committing each to
// m. Skip and Orphan items are only counted. Per-item failures are collected
// and the session continues; DestinationFull and ManifestWrite errors stop
// it. The manifest is saved before Execute returns whenever it changed.
func (o *Orchestrator) Execute(ctx context.Context, plan []PlanItem, m *manifest.Manifest) SessionResult {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	x := &execution{m: m, cancel: cancel}

	var work []PlanItem
	var totalBytes int64
	for _, item := range plan {
		switch item.Action {
		case Copy, Update:
			work = append(work, item)
			totalBytes += int64(item.ExpectedSize)
		case Skip:
			x.res.Skipped++
			o.cfg.Stats.AddFilesSkipped(1)
		case Orphan:
			x.res.Orphans = append(x.res.Orphans, item.RemotePath)
		}
	}
	o.cfg.Stats.SetTotals(int64(len(work)), totalBytes)

	jobs := make(chan PlanItem)
	var wg sync.WaitGroup
	for id := range o.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				o.process(runCtx, id, item, x)
			}
		}()
	}

feed:
	for _, item := range work {
		select {
		case jobs <- item:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.unsaved > 0 {
		if err := o.save(x); err != nil && x.res.Fatal == nil {
			x.res.Fatal = err
		}
	}
	x.res.Cancelled = ctx.Err() != nil && x.res.Fatal == nil
	return x.res
}

func (o *Orchestrator) process(ctx context.Context, workerID int, item PlanItem, x *execution) {
	if ctx.Err() != nil {
		return
	}
	event.Emit(o.cfg.Events, event.Event{
		Type:      event.FileStarted,
		Path:      item.RemotePath,
		LocalPath: item.LocalPath,
		Action:    item.Action.String(),
		Size:      int64(item.ExpectedSize),
		WorkerID:  workerID,
	})

	var (
		out outcome
		n   int64
		err error
	)
	for attempt := 0; ; attempt++ {
		out, n, err = o.transfer(ctx, item, x)
		if err == nil || ctx.Err() != nil || isFatal(err) {
			break
		}
		if !devicelink.Transient(err) || attempt >= o.cfg.Retries {
			break
		}
		delay := backoff(o.cfg.Backoff, attempt)
		o.cfg.Stats.AddRetries(1)
		o.cfg.Logger.Debug("retrying fetch", "path", item.RemotePath, "attempt", attempt+1, "delay", delay, "error", err)
		event.Emit(o.cfg.Events, event.Event{
			Type:     event.FileRetrying,
			Path:     item.RemotePath,
			Attempt:  attempt + 1,
			Error:    err,
			WorkerID: workerID,
		})
		if !sleep(ctx, o.cfg.Clock, delay) {
			break
		}
	}

	switch {
	case err == nil:
		o.finish(item, out, n, workerID, x)
	case isFatal(err):
		o.fatal(x, err)
	case ctx.Err() != nil:
		// Session ending: the temp file is gone and nothing was committed.
		o.cfg.Logger.Debug("transfer aborted", "path", item.RemotePath)
	default:
		o.fail(item, err, workerID, x)
	}
}

// transfer runs FETCHING, VERIFYING and PROMOTING for one item, then
// commits it. The commit itself never observes ctx: once the rename has
// happened the manifest must learn about it.
func (o *Orchestrator) transfer(ctx context.Context, item PlanItem, x *execution) (outcome, int64, error) {
	if err := o.checkSpace(item); err != nil {
		return failed, 0, err
	}

	fctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	rc, reported, err := o.cfg.Link.Fetch(fctx, item.RemotePath)
	if err != nil {
		return failed, 0, fetchErr(fctx, item.RemotePath, err)
	}
	defer rc.Close()

	tmp, err := o.cfg.Tree.CreateTemp(item.LocalPath)
	if err != nil {
		return failed, 0, o.destErr(item, "create temp", err)
	}
	promoted := false
	defer func() {
		if !promoted {
			_ = tmp.Discard()
		}
	}()

	if err := tmp.Preallocate(int64(item.ExpectedSize)); err != nil {
		return failed, 0, o.destErr(item, "preallocate", err)
	}

	sig := newSigner(o.cfg.Mode)
	w := sig.wrap(&progressWriter{w: tmp, stats: o.cfg.Stats})
	r := newRateLimitedReader(fctx, rc, o.limiter)
	n, err := io.CopyBuffer(w, r, make([]byte, copyBufSize))
	if err != nil {
		if platform.IsNoSpace(err) {
			return failed, n, o.destErr(item, "write", err)
		}
		return failed, n, fetchErr(fctx, item.RemotePath, err)
	}

	if n < 0 || uint64(n) != item.ExpectedSize || (reported >= 0 && n != reported) {
		return failed, n, &IncompleteTransferError{
			Path:     item.RemotePath,
			Expected: item.ExpectedSize,
			Reported: reported,
			Got:      n,
		}
	}

	entry := manifest.Entry{
		RemotePath:  item.RemotePath,
		Size:        item.ExpectedSize,
		RemoteMtime: item.Mtime,
		Signature:   sig.sum(item.ExpectedSize, item.Mtime),
		LocalPath:   item.LocalPath,
		Category:    item.Category,
	}

	if o.unchangedContent(item, entry, x) {
		if err := o.commit(x, entry); err != nil {
			return failed, n, err
		}
		return refreshed, n, nil
	}

	if err := o.cfg.Tree.Promote(tmp); err != nil {
		return failed, n, o.destErr(item, "promote", err)
	}
	promoted = true
	return committed, n, o.commit(x, entry)
}

// unchangedContent reports whether an Update streamed the exact bytes the
// destination already holds.
func (o *Orchestrator) unchangedContent(item PlanItem, entry manifest.Entry, x *execution) bool {
	if o.cfg.Mode != HashMode || item.Action != Update {
		return false
	}
	prev, ok := x.m.Lookup(item.RemotePath)
	if !ok || prev.Signature != entry.Signature || prev.LocalPath != entry.LocalPath {
		return false
	}
	exists, err := o.cfg.Tree.Exists(entry.LocalPath)
	return err == nil && exists
}

// commit records entry under the commit mutex and saves every SaveEvery
// commits.
func (o *Orchestrator) commit(x *execution, entry manifest.Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.m.Upsert(entry); err != nil {
		return fmt.Errorf("commit %s: %w", entry.RemotePath, err)
	}
	x.unsaved++
	x.lastCommit = entry.RemotePath
	if x.unsaved >= o.cfg.SaveEvery {
		return o.save(x)
	}
	return nil
}

// save persists the manifest. Caller holds x.mu.
func (o *Orchestrator) save(x *execution) error {
	if err := x.m.Save(); err != nil {
		return &ManifestWriteError{LastDurable: x.lastDurable, Err: err}
	}
	x.unsaved = 0
	x.lastDurable = x.lastCommit
	event.Emit(o.cfg.Events, event.Event{Type: event.ManifestSaved, Path: x.m.Path(), Total: int64(x.m.Len())})
	return nil
}

func (o *Orchestrator) finish(item PlanItem, out outcome, n int64, workerID int, x *execution) {
	x.mu.Lock()
	x.res.Completed = append(x.res.Completed, item.RemotePath)
	x.res.BytesTransferred += n
	typ := event.FileCompleted
	switch {
	case out == refreshed:
		x.res.Refreshed++
		typ = event.FileRefreshed
		o.cfg.Stats.AddRefreshed(1)
	case item.Action == Update:
		x.res.Updated++
		o.cfg.Stats.AddFilesUpdated(1)
	default:
		x.res.Copied++
		o.cfg.Stats.AddFilesCopied(1)
	}
	x.mu.Unlock()

	if o.cfg.Journal != nil {
		if err := o.cfg.Journal.RecordSuccess(item.RemotePath); err != nil {
			o.cfg.Logger.Debug("journal write failed", "path", item.RemotePath, "error", err)
		}
	}
	o.cfg.Logger.Debug("committed", "path", item.RemotePath, "action", item.Action.String(), "bytes", n)
	event.Emit(o.cfg.Events, event.Event{
		Type:      typ,
		Path:      item.RemotePath,
		LocalPath: item.LocalPath,
		Size:      n,
		WorkerID:  workerID,
	})
}

func (o *Orchestrator) fail(item PlanItem, err error, workerID int, x *execution) {
	x.mu.Lock()
	x.res.Failed = append(x.res.Failed, FailedItem{RemotePath: item.RemotePath, Err: err})
	x.mu.Unlock()
	o.cfg.Stats.AddFilesFailed(1)

	if o.cfg.Journal != nil {
		if jerr := o.cfg.Journal.RecordFailure(item.RemotePath, failureKind(err), err.Error()); jerr != nil {
			o.cfg.Logger.Debug("journal write failed", "path", item.RemotePath, "error", jerr)
		}
	}
	o.cfg.Logger.Warn("transfer failed", "path", item.RemotePath, "error", err)
	event.Emit(o.cfg.Events, event.Event{
		Type:     event.FileFailed,
		Path:     item.RemotePath,
		Error:    err,
		WorkerID: workerID,
	})
}

func (o *Orchestrator) fatal(x *execution, err error) {
	x.mu.Lock()
	if x.res.Fatal == nil {
		x.res.Fatal = err
		o.cfg.Logger.Error("session aborted", "error", err)
	}
	x.mu.Unlock()
	x.cancel()
}

func (o *Orchestrator) checkSpace(item PlanItem) error {
	avail, err := o.cfg.Tree.Available()
	if err != nil {
		// No statfs here; ENOSPC during the write still catches it.
		return nil
	}
	need := item.ExpectedSize + o.cfg.Reserve
	if avail < need {
		return &DestinationFullError{Path: item.RemotePath, Need: need, Available: avail}
	}
	return nil
}

// destErr classifies a destination-side failure.
func (o *Orchestrator) destErr(item PlanItem, op string, err error) error {
	if platform.IsNoSpace(err) {
		return &DestinationFullError{Path: item.RemotePath, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, item.LocalPath, err)
}

// fetchErr turns a per-fetch deadline into a Timeout link error.
func fetchErr(fctx context.Context, p string, err error) error {
	if _, ok := devicelink.KindOf(err); ok {
		return err
	}
	if errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return &devicelink.Error{Kind: devicelink.Timeout, Op: "fetch", Path: p, Err: err}
	}
	return err
}

func isFatal(err error) bool {
	return errors.Is(err, ErrDestinationFull) || errors.Is(err, ErrManifestWrite)
}

// failureKind names err for the failure journal.
func failureKind(err error) string {
	if kind, ok := devicelink.KindOf(err); ok {
		return kind.String()
	}
	if errors.Is(err, ErrIncompleteTransfer) {
		return "incomplete"
	}
	return "io"
}

// progressWriter counts bytes into the collector as they land.
type progressWriter struct {
	w     io.Writer
	stats *stats.Collector
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.stats.AddBytesCopied(int64(n))
	return n, err
}
