package platform

import (
	"sync"
	"time"
)

// expiring caches loaded values per key for a fixed window.
type expiring[T any] struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cached[T]
}

type cached[T any] struct {
	value  T
	loaded time.Time
}

func newExpiring[T any](ttl time.Duration) *expiring[T] {
	return &expiring[T]{ttl: ttl, entries: make(map[string]cached[T])}
}

// get returns the cached value for key, calling load when the entry is
// missing or older than the window. Load errors are not cached.
func (c *expiring[T]) get(key string, now time.Time, load func() (T, error)) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Sub(e.loaded) < c.ttl {
		return e.value, nil
	}

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = cached[T]{value: v, loaded: now}
	c.mu.Unlock()
	return v, nil
}

func (c *expiring[T]) invalidate() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
