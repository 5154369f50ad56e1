package engine

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sonodavide/androsync/internal/category"
	"github.com/sonodavide/androsync/internal/devicelink"
	"github.com/sonodavide/androsync/internal/event"
	"github.com/sonodavide/androsync/internal/filter"
	"github.com/sonodavide/androsync/internal/stats"
)

const (
	// DefaultWorkers bounds concurrent link calls; the link is one physical
	// channel.
	DefaultWorkers     = 2
	DefaultListTimeout = 30 * time.Second
)

// DefaultRoots are scanned when no root is given.
var DefaultRoots = []string{"/sdcard"}

// ScannerConfig controls scanner behavior.
type ScannerConfig struct {
	Link        devicelink.Link
	Filter      *filter.Chain
	Rules       *category.Rules
	Categories  category.Set
	Stats       *stats.Collector
	Events      chan<- event.Event
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Roots       []string
	Workers     int
	ListTimeout time.Duration
	ListRetries int
	Backoff     time.Duration
}

type scanJob struct {
	root string
	dir  string
}

// Scanner walks the device roots in parallel and emits RemoteEntry items.
type Scanner struct {
	cfg     ScannerConfig
	entries chan RemoteEntry
	errs    chan error

	mu       sync.Mutex
	pruned   []string
	excluded map[string]struct{}
}

// NewScanner creates a scanner with the given config.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Rules == nil {
		cfg.Rules = category.DefaultRules()
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
	if len(cfg.Roots) == 0 {
		cfg.Roots = DefaultRoots
	}
	return &Scanner{
		cfg:      cfg,
		entries:  make(chan RemoteEntry, cfg.Workers*64),
		errs:     make(chan error, cfg.Workers*4),
		excluded: make(map[string]struct{}),
	}
}

// Roots returns the cleaned, de-duplicated roots this scanner walks.
func (s *Scanner) Roots() []string {
	return cleanRoots(s.cfg.Roots)
}

// Scan starts the walk and returns channels for entries and warnings. The
// caller must consume from both channels until they close. Warnings are
// *PartialScanError values.
func (s *Scanner) Scan(ctx context.Context) (<-chan RemoteEntry, <-chan error) {
	go func() {
		defer close(s.entries)
		defer close(s.errs)
		event.Emit(s.cfg.Events, event.Event{Type: event.ScanStarted})
		s.scanTree(ctx)
		snap := s.cfg.Stats.Snapshot()
		event.Emit(s.cfg.Events, event.Event{Type: event.ScanComplete, Total: snap.FilesScanned})
	}()
	return s.entries, s.errs
}

// Pruned returns directories excluded by the filter. Valid once Scan's
// channels have closed.
func (s *Scanner) Pruned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pruned...)
}

// Excluded returns files seen on the device but filtered out, either by
// pattern, size or category. Valid once Scan's channels have closed.
func (s *Scanner) Excluded() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.excluded))
	for p := range s.excluded {
		out[p] = struct{}{}
	}
	return out
}

func (s *Scanner) scanTree(ctx context.Context) {
	workQueue := make(chan scanJob, s.cfg.Workers*2)
	var outstanding sync.WaitGroup // directories queued but not yet processed

	var workerWg sync.WaitGroup
	for range s.cfg.Workers {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for job := range workQueue {
				s.scanDir(ctx, job, workQueue, &outstanding)
				outstanding.Done()
			}
		}()
	}

	for _, root := range s.Roots() {
		s.enqueue(ctx, scanJob{root: root, dir: root}, workQueue, &outstanding)
	}

	outstanding.Wait()
	close(workQueue)
	workerWg.Wait()
}

// enqueue never blocks the calling worker. A full queue hands the send to a
// goroutine of its own.
func (s *Scanner) enqueue(ctx context.Context, job scanJob, workQueue chan<- scanJob, outstanding *sync.WaitGroup) {
	outstanding.Add(1)
	select {
	case workQueue <- job:
		return
	default:
	}
	go func() {
		select {
		case workQueue <- job:
		case <-ctx.Done():
			outstanding.Done()
		}
	}()
}

func (s *Scanner) scanDir(ctx context.Context, job scanJob, workQueue chan<- scanJob, outstanding *sync.WaitGroup) {
	if ctx.Err() != nil {
		return
	}

	entries, err := s.list(ctx, job.dir)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.warn(ctx, &PartialScanError{Root: job.root, Dir: job.dir, Err: err})
		return
	}
	s.cfg.Stats.AddDirsScanned(1)

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		p := e.Path
		if p == "" {
			p = path.Join(job.dir, e.Name)
		}
		rel := relTo(job.root, p)

		if e.IsDir {
			if !s.cfg.Filter.Match(rel, true, 0) {
				s.cfg.Logger.Debug("pruned", "path", p)
				s.mu.Lock()
				s.pruned = append(s.pruned, p)
				s.mu.Unlock()
				continue
			}
			s.send(ctx, RemoteEntry{Root: job.root, RemotePath: p, Mtime: e.Mtime, IsDir: true})
			s.enqueue(ctx, scanJob{root: job.root, dir: p}, workQueue, outstanding)
			continue
		}

		cat := s.cfg.Rules.Classify(e.Name)
		if !s.cfg.Filter.Match(rel, false, int64(e.Size)) || !s.cfg.Categories.Has(cat) {
			s.mu.Lock()
			s.excluded[p] = struct{}{}
			s.mu.Unlock()
			continue
		}
		s.cfg.Stats.AddFilesScanned(1)
		s.send(ctx, RemoteEntry{
			Root:       job.root,
			RemotePath: p,
			Size:       e.Size,
			Mtime:      e.Mtime,
			Category:   cat,
		})
	}
}

// list calls Link.List under ListTimeout, retrying transient failures.
func (s *Scanner) list(ctx context.Context, dir string) ([]devicelink.Entry, error) {
	for attempt := 0; ; attempt++ {
		lctx, cancel := context.WithTimeout(ctx, s.cfg.ListTimeout)
		entries, err := s.cfg.Link.List(lctx, dir)
		cancel()
		if err == nil {
			return entries, nil
		}
		if !devicelink.Transient(err) || attempt >= s.cfg.ListRetries || ctx.Err() != nil {
			return nil, err
		}
		delay := backoff(s.cfg.Backoff, attempt)
		s.cfg.Logger.Debug("retrying list", "path", dir, "attempt", attempt+1, "delay", delay, "error", err)
		if !sleep(ctx, s.cfg.Clock, delay) {
			return nil, ctx.Err()
		}
	}
}

func (s *Scanner) warn(ctx context.Context, err *PartialScanError) {
	s.cfg.Logger.Warn("directory skipped", "path", err.Dir, "error", err.Err)
	event.Emit(s.cfg.Events, event.Event{Type: event.ScanWarning, Path: err.Dir, Error: err})
	select {
	case s.errs <- err:
	case <-ctx.Done():
	}
}

func (s *Scanner) send(ctx context.Context, e RemoteEntry) {
	select {
	case s.entries <- e:
	case <-ctx.Done():
	}
}

func cleanRoots(roots []string) []string {
	seen := make(map[string]bool, len(roots))
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		r = path.Clean("/" + strings.TrimSpace(r))
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// relTo returns p relative to root, for filter matching.
func relTo(root, p string) string {
	if root == "/" {
		return strings.TrimPrefix(p, "/")
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
}

// under reports whether p lies strictly below dir.
func under(dir, p string) bool {
	if dir == "/" {
		return p != "/" && strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir+"/")
}
