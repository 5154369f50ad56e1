package engine

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrPartialScan marks a directory that could not be listed.
	ErrPartialScan = errors.New("partial scan")
	// ErrIncompleteTransfer marks a fetch that delivered the wrong number of bytes.
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	// ErrDestinationFull aborts a session when the destination runs out of space.
	ErrDestinationFull = errors.New("destination full")
	// ErrManifestWrite aborts a session when the manifest cannot be persisted.
	ErrManifestWrite = errors.New("manifest write failed")
)

// PartialScanError records a directory whose subtree was skipped.
type PartialScanError struct {
	Err  error
	Root string
	Dir  string
}

func (e *PartialScanError) Error() string {
	return fmt.Sprintf("partial scan: %s skipped: %v", e.Dir, e.Err)
}

func (e *PartialScanError) Unwrap() error { return e.Err }

func (e *PartialScanError) Is(target error) bool { return target == ErrPartialScan }

// IncompleteTransferError is returned when the bytes written disagree with
// the scanned size or the size the link reported.
type IncompleteTransferError struct {
	Path     string
	Expected uint64
	Reported int64
	Got      int64
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("incomplete transfer of %s: got %d bytes, scanned %d, link reported %d",
		e.Path, e.Got, e.Expected, e.Reported)
}

func (e *IncompleteTransferError) Is(target error) bool { return target == ErrIncompleteTransfer }

// DestinationFullError is fatal for the session.
type DestinationFullError struct {
	Err       error
	Path      string
	Need      uint64
	Available uint64
}

func (e *DestinationFullError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("destination full while writing %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("destination full: %s needs %s, %s available",
		e.Path, humanize.IBytes(e.Need), humanize.IBytes(e.Available))
}

func (e *DestinationFullError) Unwrap() error { return e.Err }

func (e *DestinationFullError) Is(target error) bool { return target == ErrDestinationFull }

// ManifestWriteError is fatal for the session. LastDurable is the last
// remote path known to be recorded on disk.
type ManifestWriteError struct {
	Err         error
	LastDurable string
}

func (e *ManifestWriteError) Error() string {
	if e.LastDurable == "" {
		return fmt.Sprintf("manifest write failed (nothing durable this session): %v", e.Err)
	}
	return fmt.Sprintf("manifest write failed (last durable commit %s): %v", e.LastDurable, e.Err)
}

func (e *ManifestWriteError) Unwrap() error { return e.Err }

func (e *ManifestWriteError) Is(target error) bool { return target == ErrManifestWrite }
