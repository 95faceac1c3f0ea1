package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const casRetries = 10

// NATSKV backs Store with a JetStream key/value bucket. Expiry is
// bucket-level: the bucket's TTL applies to every key, so the per-call ttl
// argument is ignored here and the bucket must be created with the window
// the caller expects.
type NATSKV struct {
	kv jetstream.KeyValue
}

// NewNATSKV creates (or reuses) the named bucket with the given TTL.
func NewNATSKV(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*NATSKV, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return &NATSKV{kv: kv}, nil
}

// Incr does a compare-and-swap loop on the key's revision. Concurrent
// increments race on the revision and the loser retries, so every caller
// observes a distinct count.
func (s *NATSKV) Incr(ctx context.Context, key string, _ time.Duration) (int64, error) {
	for range casRetries {
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			if _, err := s.kv.Create(ctx, key, []byte("1")); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					continue // lost the creation race
				}
				return 0, fmt.Errorf("create counter %s: %w", key, err)
			}
			return 1, nil
		}
		if err != nil {
			return 0, fmt.Errorf("get counter %s: %w", key, err)
		}

		count, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse counter %s: %w", key, err)
		}
		count++

		_, err = s.kv.Update(ctx, key, []byte(strconv.FormatInt(count, 10)), entry.Revision())
		if err == nil {
			return count, nil
		}
		// revision moved under us; retry
	}
	return 0, fmt.Errorf("increment counter %s: too many conflicts", key)
}

func (s *NATSKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

func (s *NATSKV) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *NATSKV) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
