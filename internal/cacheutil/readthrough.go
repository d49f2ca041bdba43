package cacheutil

import (
	"sync"
	"time"
)

// CachedValue represents a cached value with its fetch timestamp.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// Expired reports whether the value is older than ttl at the given time.
func (c CachedValue[T]) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.FetchedAt) >= ttl
}

// ReadThrough implements a thread-safe read-through cache pattern.
// It uses double-checked locking: the cache is re-validated after the write
// lock is acquired so concurrent misses for the same key collapse to a single
// fetch in the common case. The fetch itself must be idempotent and
// side-effect-free, since a miss that races past both checks may still be
// computed more than once.
//
// Parameters:
//   - mu: RWMutex protecting cache access
//   - checkCache: checks whether a valid cached value exists (called under RLock)
//   - fetchAndCache: fetches and caches a fresh value (called under Lock)
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	// Fast path: check cache under read lock
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Re-check after acquiring the write lock with a fresh timestamp:
	// another goroutine may have populated the cache between RUnlock and Lock.
	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}

	return fetchAndCache(nowAfterLock)
}
