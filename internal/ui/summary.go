package ui

import (
	"fmt"

	"github.com/sonodavide/androsync/internal/stats"
)

// completionSummary builds a final summary line from a snapshot.
// Format: done ✓  copied 212  updated 3  skipped 48,917  size 2.1 GiB  avg 31 MB/s  time 3m 17s  errors 0
func completionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesCopied) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.FilesFailed > 0 {
		icon = "✗"
	}

	base := fmt.Sprintf("done %s  copied %s  updated %s  skipped %s  size %s  avg %s  time %s",
		icon,
		FormatCount(snap.FilesCopied),
		FormatCount(snap.FilesUpdated),
		FormatCount(snap.FilesSkipped),
		FormatBytes(snap.BytesCopied),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
	)
	if snap.Refreshed > 0 {
		base += fmt.Sprintf("  unchanged %s", FormatCount(snap.Refreshed))
	}
	if snap.Orphans > 0 {
		base += fmt.Sprintf("  orphans %s", FormatCount(snap.Orphans))
	}
	return base + fmt.Sprintf("  errors %d", snap.FilesFailed)
}
