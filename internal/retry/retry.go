// Package retry holds the delivery retry policy: how many attempts a work
// item gets and how long each redelivery waits.
package retry

import (
	"math"
	"time"
)

// Policy is the exponential backoff schedule applied to transient delivery
// failures. The defaults span roughly two weeks of backoff before the
// attempt ceiling.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 18,
		BaseDelay:   4 * time.Second,
		Factor:      2.0,
		MaxDelay:    7 * 24 * time.Hour,
	}
}

// ShouldRetry reports whether another attempt is allowed after the given
// number of completed attempts.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Delay returns the wait before the attempt-th retry: BaseDelay × Factor^attempt,
// capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}
