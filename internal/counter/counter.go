// Package counter provides the atomic counter/cache store the delivery
// engine leans on: windowed admission counters for the traffic smoother and
// a short-lived read-through cache for destination pause state.
package counter

import (
	"context"
	"time"
)

// Store is an atomic increment-and-read counter plus a small TTL'd
// key/value cache. Increments on the same key must be atomic with respect
// to concurrent callers.
type Store interface {
	// Incr atomically increments the counter at key and returns the new
	// value. The key expires ttl after its first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
