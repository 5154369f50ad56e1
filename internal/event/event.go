// Package event carries progress from the engine to presenters and logs.
package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanWarning
	ScanComplete
	PlanReady
	FileStarted
	FileProgress
	FileRetrying
	FileCompleted
	FileRefreshed
	FileFailed
	FileSkipped
	OrphanFound
	OrphanPruned
	ManifestSaved
	VerifyOK
	VerifyFailed
	SessionFinished
)

var typeNames = [...]string{
	ScanStarted:     "ScanStarted",
	ScanWarning:     "ScanWarning",
	ScanComplete:    "ScanComplete",
	PlanReady:       "PlanReady",
	FileStarted:     "FileStarted",
	FileProgress:    "FileProgress",
	FileRetrying:    "FileRetrying",
	FileCompleted:   "FileCompleted",
	FileRefreshed:   "FileRefreshed",
	FileFailed:      "FileFailed",
	FileSkipped:     "FileSkipped",
	OrphanFound:     "OrphanFound",
	OrphanPruned:    "OrphanPruned",
	ManifestSaved:   "ManifestSaved",
	VerifyOK:        "VerifyOK",
	VerifyFailed:    "VerifyFailed",
	SessionFinished: "SessionFinished",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single progress notification.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // remote path
	LocalPath string // relative to the destination root
	Action    string // plan action, for FileStarted
	Size      int64  // file size or bytes so far
	Total     int64  // item count (ScanComplete, PlanReady)
	TotalSize int64  // byte count (ScanComplete, PlanReady)
	Attempt   int    // FileRetrying
	Error     error
	WorkerID  int
}

// Emit sends e without blocking; a slow consumer loses events rather than
// stalling transfers. A nil channel drops everything.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case ch <- e:
	default:
	}
}
