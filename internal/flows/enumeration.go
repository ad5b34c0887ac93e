package flows

import (
	"context"
	"time"
)

// padLatency sleeps until floor has elapsed since start, so that every
// branch of an enumeration-sensitive flow returns after the same delay.
func padLatency(ctx context.Context, start time.Time, floor time.Duration) error {
	remaining := floor - time.Since(start)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
