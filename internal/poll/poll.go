// Package poll provides the single retry primitive shared by liveness
// checks and reclaim confirmation.
package poll

import (
	"context"
	"time"
)

// Until calls fn up to maxAttempts times, waiting interval between
// attempts, and returns true as soon as fn does. It returns false once
// the attempts are exhausted or ctx is done. fn is always called at
// least once with a live context.
func Until(ctx context.Context, interval time.Duration, maxAttempts int, fn func(context.Context) bool) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer.Reset(interval)
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
		if fn(ctx) {
			return true
		}
	}
	return false
}
