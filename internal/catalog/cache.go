package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"songstream/catalogservice/internal/metrics"
)

const defaultCacheMaxEntries = 1024

// Cache memoizes expensive computations under per-key, time-bounded
// semantics. Each key owns a slot with its own synchronization: at most one
// computation runs per key, concurrent callers for the same key wait for and
// share the in-flight result, and an expired entry triggers exactly one
// recomputation. Unrelated keys never contend beyond the map lock.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry[V]
	maxEntries int
}

type cacheEntry[V any] struct {
	ready      chan struct{}
	value      V
	err        error
	insertedAt time.Time
	ttl        time.Duration
}

func NewCache[V any](maxEntries int) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	return &Cache[V]{
		entries:    make(map[string]*cacheEntry[V]),
		maxEntries: maxEntries,
	}
}

// GetOrCompute returns the cached value for key if it is younger than ttl,
// otherwise computes it. The computation runs detached from any single
// caller: a caller abandoning its context stops waiting but does not cancel
// the shared computation, since other waiters may still need it. Errors are
// shared with current waiters and never cached.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	var zero V
	for {
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok {
			select {
			case <-entry.ready:
				if entry.err == nil && time.Since(entry.insertedAt) < entry.ttl {
					value := entry.value
					c.mu.Unlock()
					metrics.CacheHitsTotal.Inc()
					return value, nil
				}
				// Expired: drop the slot and race for a fresh one. Only the
				// winner of the next map insert recomputes.
				if c.entries[key] == entry {
					delete(c.entries, key)
				}
				c.mu.Unlock()
				continue
			default:
				c.mu.Unlock()
				select {
				case <-entry.ready:
					if entry.err != nil {
						return zero, entry.err
					}
					return entry.value, nil
				case <-ctx.Done():
					return zero, ctx.Err()
				}
			}
		}

		entry = &cacheEntry[V]{ready: make(chan struct{}), ttl: ttl}
		c.entries[key] = entry
		c.mu.Unlock()
		metrics.CacheMissesTotal.Inc()

		go func() {
			value, err := compute()
			c.mu.Lock()
			entry.value = value
			entry.err = err
			entry.insertedAt = time.Now()
			if err != nil {
				if c.entries[key] == entry {
					delete(c.entries, key)
				}
			} else {
				c.trimLocked()
			}
			c.mu.Unlock()
			close(entry.ready)
		}()

		select {
		case <-entry.ready:
			if entry.err != nil {
				return zero, entry.err
			}
			return entry.value, nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Clear drops every entry at once. Readers either observe the cache before
// the clear or an empty cache, never a partially cleared one. In-flight
// computations finish and deliver to their waiters but are not re-admitted.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry[V])
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// trimLocked evicts expired entries, then the oldest completed ones, keeping
// the cache under maxEntries. In-flight slots are never evicted.
func (c *Cache[V]) trimLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if isReady(entry.ready) && now.Sub(entry.insertedAt) >= entry.ttl {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type pair struct {
		key   string
		entry *cacheEntry[V]
	}
	completed := make([]pair, 0, len(c.entries))
	for key, entry := range c.entries {
		if isReady(entry.ready) {
			completed = append(completed, pair{key: key, entry: entry})
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].entry.insertedAt.Before(completed[j].entry.insertedAt)
	})
	excess := len(c.entries) - c.maxEntries
	for i := 0; i < excess && i < len(completed); i++ {
		delete(c.entries, completed[i].key)
	}
}

func isReady(ready chan struct{}) bool {
	select {
	case <-ready:
		return true
	default:
		return false
	}
}
