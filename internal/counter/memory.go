package counter

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store. The janitor drops expired keys so counter
// buckets do not accumulate forever.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var count int64
	if e, ok := m.entries[key]; ok && e.expiresAt.After(now) {
		count, _ = strconv.ParseInt(string(e.value), 10, 64)
		// the expiry of an existing bucket is not extended: the window
		// closes ttl after the first increment
		count++
		m.entries[key] = memoryEntry{value: []byte(strconv.FormatInt(count, 10)), expiresAt: e.expiresAt}
		return count, nil
	}

	count = 1
	m.entries[key] = memoryEntry{value: []byte("1"), expiresAt: now.Add(ttl)}
	return count, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.expiresAt.After(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// StartJanitor sweeps expired entries until ctx is cancelled.
func (m *Memory) StartJanitor(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, key)
		}
	}
}
