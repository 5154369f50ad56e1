package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/sonodavide/androsync/internal/stats"
)

// progressEvery is how many one-second ticks pass between progress lines.
const progressEvery = 5

// plainPresenter outputs one line per finished file to stdout,
// and periodic progress to stderr when not a TTY.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	verbose bool
	ticks   int
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.ticks++
			if p.ticks%progressEvery == 0 {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case ScanWarning:
		fmt.Fprintf(p.errW, "warning: %s\n", errText(ev.Error))
	case PlanReady:
		fmt.Fprintf(p.w, "plan: %s files to transfer, %s\n", FormatCount(ev.Total), FormatBytes(ev.TotalSize))
	case FileCompleted:
		speed := p.stats.RollingSpeed(5)
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatBytes(ev.Size), FormatRate(speed))
	case FileRefreshed:
		fmt.Fprintf(p.w, "%s  unchanged\n", ev.Path)
	case FileRetrying:
		fmt.Fprintf(p.errW, "retry %d: %s: %s\n", ev.Attempt, ev.Path, errText(ev.Error))
	case FileFailed:
		fmt.Fprintf(p.w, "%s  FAILED  %s\n", ev.Path, errText(ev.Error))
	case FileSkipped:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  skipped\n", ev.Path)
		}
	case OrphanFound:
		fmt.Fprintf(p.w, "orphan: %s\n", ev.Path)
	case OrphanPruned:
		fmt.Fprintf(p.w, "pruned: %s\n", ev.Path)
	case VerifyFailed:
		fmt.Fprintf(p.w, "MISMATCH: %s  %s\n", ev.Path, errText(ev.Error))
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesCopied) / float64(snap.BytesTotal) * 100
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s %s/%s files %s eta %s\n",
			pct,
			FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesTotal),
			FormatCount(snap.Done()), FormatCount(snap.FilesTotal),
			FormatRate(p.stats.RollingSpeed(10)),
			FormatETA(p.stats.ETA()),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: scanned %s files in %s dirs\n",
		FormatCount(snap.FilesScanned),
		FormatCount(snap.DirsScanned),
	)
}

func (p *plainPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot())
}

func errText(err error) string {
	if err == nil {
		return "error"
	}
	return err.Error()
}
