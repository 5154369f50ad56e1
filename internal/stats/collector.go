// Package stats keeps lock-free session counters.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks a backup session using atomic counters.
type Collector struct {
	filesScanned atomic.Int64
	dirsScanned  atomic.Int64
	filesCopied  atomic.Int64
	filesUpdated atomic.Int64
	filesRefresh atomic.Int64
	filesFailed  atomic.Int64
	filesSkipped atomic.Int64
	orphans      atomic.Int64
	retries      atomic.Int64
	bytesCopied  atomic.Int64
	bytesTotal   atomic.Int64
	filesTotal   atomic.Int64
	startTime    time.Time

	// written only by Tick
	mu         sync.Mutex
	throughput [ringSize]int64
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector returns a collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records the work planned for this session.
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesTotal.Store(files)
	c.bytesTotal.Store(bytes)
}

func (c *Collector) AddFilesScanned(n int64) { c.filesScanned.Add(n) }
func (c *Collector) AddDirsScanned(n int64)  { c.dirsScanned.Add(n) }
func (c *Collector) AddFilesCopied(n int64)  { c.filesCopied.Add(n) }
func (c *Collector) AddFilesUpdated(n int64) { c.filesUpdated.Add(n) }
func (c *Collector) AddRefreshed(n int64)    { c.filesRefresh.Add(n) }
func (c *Collector) AddFilesFailed(n int64)  { c.filesFailed.Add(n) }
func (c *Collector) AddFilesSkipped(n int64) { c.filesSkipped.Add(n) }
func (c *Collector) AddOrphans(n int64)      { c.orphans.Add(n) }
func (c *Collector) AddRetries(n int64)      { c.retries.Add(n) }
func (c *Collector) AddBytesCopied(n int64)  { c.bytesCopied.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesScanned int64         `json:"files_scanned" yaml:"files_scanned"`
	DirsScanned  int64         `json:"dirs_scanned" yaml:"dirs_scanned"`
	FilesCopied  int64         `json:"files_copied" yaml:"files_copied"`
	FilesUpdated int64         `json:"files_updated" yaml:"files_updated"`
	Refreshed    int64         `json:"refreshed" yaml:"refreshed"`
	FilesFailed  int64         `json:"files_failed" yaml:"files_failed"`
	FilesSkipped int64         `json:"files_skipped" yaml:"files_skipped"`
	Orphans      int64         `json:"orphans" yaml:"orphans"`
	Retries      int64         `json:"retries" yaml:"retries"`
	BytesCopied  int64         `json:"bytes_copied" yaml:"bytes_copied"`
	BytesTotal   int64         `json:"bytes_total" yaml:"bytes_total"`
	FilesTotal   int64         `json:"files_total" yaml:"files_total"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Snapshot returns all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesScanned: c.filesScanned.Load(),
		DirsScanned:  c.dirsScanned.Load(),
		FilesCopied:  c.filesCopied.Load(),
		FilesUpdated: c.filesUpdated.Load(),
		Refreshed:    c.filesRefresh.Load(),
		FilesFailed:  c.filesFailed.Load(),
		FilesSkipped: c.filesSkipped.Load(),
		Orphans:      c.orphans.Load(),
		Retries:      c.retries.Load(),
		BytesCopied:  c.bytesCopied.Load(),
		BytesTotal:   c.bytesTotal.Load(),
		FilesTotal:   c.filesTotal.Load(),
		Elapsed:      c.Elapsed(),
	}
}

// Done returns how many planned transfers have finished either way.
func (s Snapshot) Done() int64 {
	return s.FilesCopied + s.FilesUpdated + s.Refreshed + s.FilesFailed
}

// Tick records the bytes moved since the previous tick. Presenters call it
// once a second.
func (c *Collector) Tick() {
	current := c.bytesCopied.Load()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n ticks.
func (c *Collector) RollingSpeed(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := min(n, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		sum += c.throughput[(c.ringIdx-1-i+ringSize)%ringSize]
	}
	return float64(sum) / float64(count)
}

// ETA estimates the time left from the rolling speed.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesCopied.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns the time since the collector was created.
func (c *Collector) Elapsed() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"scanned=%d copied=%d updated=%d refreshed=%d failed=%d skipped=%d orphans=%d bytes=%d",
		s.FilesScanned, s.FilesCopied, s.FilesUpdated, s.Refreshed,
		s.FilesFailed, s.FilesSkipped, s.Orphans, s.BytesCopied,
	)
}
