package devicelink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies link failures.
type Kind int

const (
	// Unreachable means the device or the link itself went away.
	Unreachable Kind = iota + 1
	// PermissionDenied means the device refused access to a path.
	PermissionDenied
	// Timeout means the call exceeded its deadline.
	Timeout
	// NotFound means the path vanished from the device.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case PermissionDenied:
		return "permission denied"
	case Timeout:
		return "timeout"
	case NotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Error is returned by every Link method.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}

// Transient reports whether retrying err may succeed.
func Transient(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == Unreachable || k == Timeout)
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// wrapFS maps filesystem-style errors onto link kinds. ctx decides whether
// a cancelled call counts as a timeout.
func wrapFS(ctx context.Context, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return newError(Timeout, op, path, ctxErr)
		}
		return fmt.Errorf("%s %s: %w", op, path, ctxErr)
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return newError(PermissionDenied, op, path, err)
	case errors.Is(err, fs.ErrNotExist):
		return newError(NotFound, op, path, err)
	default:
		return newError(Unreachable, op, path, err)
	}
}
