package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/sonodavide/androsync/internal/stats"
)

const barTemplate pb.ProgressBarTemplate = `{{string . "prefix"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// prefixWidth bounds the current-file label in front of the bar.
const prefixWidth = 28

// barPresenter draws a single progress bar on the terminal. Failures and
// warnings are held back and printed once the bar is finished so they do
// not tear it.
type barPresenter struct {
	w     io.Writer
	out   io.Writer
	stats *stats.Collector
	width int
	bar   *pb.ProgressBar
	held  []string
}

func (p *barPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.finish()
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			if p.bar != nil {
				p.bar.SetCurrent(p.stats.Snapshot().BytesCopied)
			}
		}
	}
}

func (p *barPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case PlanReady:
		p.start(ev.TotalSize)
	case FileStarted:
		if p.bar != nil {
			p.bar.Set("prefix", truncateLeft(ev.Path, prefixWidth))
		}
	case FileCompleted, FileRefreshed:
		if p.bar != nil {
			p.bar.SetCurrent(p.stats.Snapshot().BytesCopied)
		}
	case ScanWarning:
		p.held = append(p.held, "warning: "+errText(ev.Error))
	case FileFailed:
		p.held = append(p.held, fmt.Sprintf("%s  FAILED  %s", ev.Path, errText(ev.Error)))
	case OrphanPruned:
		p.held = append(p.held, "pruned: "+ev.Path)
	case VerifyFailed:
		p.held = append(p.held, fmt.Sprintf("MISMATCH: %s  %s", ev.Path, errText(ev.Error)))
	}
}

func (p *barPresenter) start(total int64) {
	if total <= 0 || p.bar != nil {
		return
	}
	p.bar = barTemplate.New(0)
	p.bar.SetTotal(total)
	p.bar.Set(pb.Bytes, true)
	p.bar.Set("prefix", "")
	p.bar.SetWriter(p.w)
	if p.width > 0 {
		p.bar.SetWidth(p.width)
	}
	p.bar.SetRefreshRate(200 * time.Millisecond)
	p.bar.Start()
}

func (p *barPresenter) finish() {
	if p.bar != nil {
		p.bar.Set("prefix", "")
		p.bar.SetCurrent(p.stats.Snapshot().BytesCopied)
		p.bar.Finish()
	}
	for _, line := range p.held {
		fmt.Fprintln(p.out, line)
	}
}

func (p *barPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot())
}

// truncateLeft keeps the tail of s, which for paths is the file name.
func truncateLeft(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return fmt.Sprintf("%-*s", n, s)
	}
	return "…" + string(r[len(r)-n+1:])
}
