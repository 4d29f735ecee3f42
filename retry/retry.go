// Package retry provides the exponential backoff shared by the HTTP and
// DynamoDB helpers.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default delays.
const (
	DefaultBase = 100 * time.Millisecond
	DefaultMax  = 30 * time.Second
)

// Backoff computes exponentially increasing delays with jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Default returns a Backoff with a 100ms base and a 30s cap.
func Default() Backoff {
	return Backoff{Base: DefaultBase, Max: DefaultMax}
}

// Delay returns the wait before retry number attempt (starting at 0): the
// base doubled attempt times, capped at Max, plus up to the same again as
// jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	base, maxDelay := b.Base, b.Max
	if base <= 0 {
		base = DefaultBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	if attempt > 30 {
		attempt = 30
	}

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay)))
	return delay + jitter
}

// Wait sleeps for Delay(attempt). Returns false if the context is cancelled
// during the wait.
func (b Backoff) Wait(ctx context.Context, attempt int) bool {
	t := time.NewTimer(b.Delay(attempt))
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
