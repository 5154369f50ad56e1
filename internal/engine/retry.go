package engine

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultRetries = 3
	DefaultBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// backoff returns base doubled once per previous attempt, capped.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for range attempt {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// sleep waits d on clock. It returns false if ctx ended first.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	select {
	case <-clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
