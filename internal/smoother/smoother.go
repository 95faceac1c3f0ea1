// Package smoother spreads per-destination delivery bursts over time.
// Instead of rejecting work above the rate limit, it delays it: the first
// limit-sized batch in a window proceeds immediately, the next waits one
// window, the one after that two, and so on.
package smoother

import (
	"context"
	"fmt"
	"time"

	"github.com/hookrelay/hookrelay/internal/counter"
)

type Smoother struct {
	counters counter.Store
	window   time.Duration

	now func() time.Time
}

func New(counters counter.Store, window time.Duration) *Smoother {
	return &Smoother{
		counters: counters,
		window:   window,
		now:      time.Now,
	}
}

// Admit registers one dispatch attempt for the destination and returns how
// long the caller must wait before proceeding. The counter increment is a
// single atomic increment-and-read, so concurrent workers for the same
// destination always observe distinct counts and consistent window indices.
func (s *Smoother) Admit(ctx context.Context, destinationID string, limit int) (time.Duration, error) {
	if limit <= 0 {
		return 0, nil
	}

	bucket := s.now().UnixNano() / int64(s.window)
	key := fmt.Sprintf("smooth.%s.%d", destinationID, bucket)

	count, err := s.counters.Incr(ctx, key, 2*s.window)
	if err != nil {
		return 0, fmt.Errorf("admit %s: %w", destinationID, err)
	}

	windowIndex := (count - 1) / int64(limit)
	return time.Duration(windowIndex) * s.window, nil
}
