package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt matches any *CorruptError.
	ErrCorrupt = errors.New("corrupt manifest")
	// ErrWrite matches any *WriteError.
	ErrWrite = errors.New("manifest write failed")
	// ErrLocalPathClaimed is returned by Upsert when another remote path
	// already owns the local path.
	ErrLocalPathClaimed = errors.New("local path already claimed")
)

// CorruptError reports a manifest that exists but cannot be trusted. It is
// never repaired automatically.
type CorruptError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt manifest %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt manifest %s: %s", e.Path, e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// WriteError reports a failed save. The previous manifest file is left in
// place.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("save manifest %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }
