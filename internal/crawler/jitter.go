package crawler

import (
	"context"
	"math/rand/v2"
	"time"
)

// Jitter decides how long to pause between detail openings.
type Jitter interface {
	Next() time.Duration
}

// RandomJitter pauses for a uniformly random duration in [Min, Max].
type RandomJitter struct {
	Min time.Duration
	Max time.Duration
}

// Next implements Jitter. Negative bounds are treated as zero.
func (j RandomJitter) Next() time.Duration {
	lo, hi := max(j.Min, 0), max(j.Max, 0)
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1) //#nosec G404 -- pacing, not security
}

// NoJitter never pauses.
type NoJitter struct{}

// Next implements Jitter.
func (NoJitter) Next() time.Duration { return 0 }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
