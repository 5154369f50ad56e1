package ui

import "github.com/sonodavide/androsync/internal/event"

// Event is re-exported for presenters.
type Event = event.Event

// Re-export event types for convenience.
const (
	ScanStarted     = event.ScanStarted
	ScanWarning     = event.ScanWarning
	ScanComplete    = event.ScanComplete
	PlanReady       = event.PlanReady
	FileStarted     = event.FileStarted
	FileProgress    = event.FileProgress
	FileRetrying    = event.FileRetrying
	FileCompleted   = event.FileCompleted
	FileRefreshed   = event.FileRefreshed
	FileFailed      = event.FileFailed
	FileSkipped     = event.FileSkipped
	OrphanFound     = event.OrphanFound
	OrphanPruned    = event.OrphanPruned
	ManifestSaved   = event.ManifestSaved
	VerifyOK        = event.VerifyOK
	VerifyFailed    = event.VerifyFailed
	SessionFinished = event.SessionFinished
)
