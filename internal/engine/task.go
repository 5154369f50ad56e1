package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/sonodavide/androsync/internal/category"
)

// Action is what a session does with one remote file.
type Action int

const (
	Copy Action = iota + 1
	Update
	Skip
	Orphan
)

func (a Action) String() string {
	switch a {
	case Copy:
		return "copy"
	case Update:
		return "update"
	case Skip:
		return "skip"
	case Orphan:
		return "orphan"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Transfers reports whether the action moves bytes.
func (a Action) Transfers() bool { return a == Copy || a == Update }

// RemoteEntry is one item observed on the device during a scan.
type RemoteEntry struct {
	Mtime      time.Time
	Root       string
	RemotePath string
	Size       uint64
	Category   category.Category
	IsDir      bool
}

// SortEntries orders entries by RemotePath.
func SortEntries(entries []RemoteEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RemotePath < entries[j].RemotePath
	})
}

// PlanItem is the classifier's decision for one remote path.
type PlanItem struct {
	Mtime        time.Time         `json:"mtime" yaml:"mtime"`
	RemotePath   string            `json:"remote_path" yaml:"remote_path"`
	LocalPath    string            `json:"local_path" yaml:"local_path"`
	Reason       string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	ExpectedSize uint64            `json:"size" yaml:"size"`
	Action       Action            `json:"action" yaml:"action"`
	Category     category.Category `json:"category" yaml:"category"`
}

// FailedItem is a transfer that did not complete.
type FailedItem struct {
	RemotePath string
	Err        error
}

// SessionResult summarizes one Execute call.
type SessionResult struct {
	Fatal            error
	Completed        []string
	Failed           []FailedItem
	Orphans          []string
	Warnings         []error
	BytesTransferred int64
	Copied           int
	Updated          int
	Refreshed        int
	Skipped          int
	Cancelled        bool
}

// Transferred returns how many items were committed.
func (r SessionResult) Transferred() int {
	return r.Copied + r.Updated + r.Refreshed
}
