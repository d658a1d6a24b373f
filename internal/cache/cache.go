// Package cache implements the query-result cache: a TTL-bounded map
// from query fingerprint to merged result, with single-flight
// deduplication so concurrent identical requests trigger exactly one
// pipeline run. Grounded on the teacher's conversation memory.Store
// (RWMutex-guarded map plus a background ticker sweep), generalized
// from conversation messages to merger.Result snapshots and paired
// with golang.org/x/sync/singleflight for the concurrent-dedup
// invariant the teacher's store never needed.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/knoguchi/agenticrag/internal/merger"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the time an entry stays valid after insertion.
const DefaultTTL = 1 * time.Hour

// sweepInterval is how often the background goroutine scans for
// expired entries, independent of lazy expiry on read.
const sweepInterval = 5 * time.Minute

// Entry is a cached result together with its insertion time.
type Entry struct {
	Fingerprint string
	Result      merger.Result
	CreatedAt   time.Time
}

// Cache is a fingerprint-keyed, TTL-bounded store of merged results.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	group   singleflight.Group
}

// New creates a Cache with the given TTL and starts its background
// sweep goroutine.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached result for fingerprint, if present and not expired.
func (c *Cache) Get(fingerprint string) (merger.Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		return merger.Result{}, false
	}
	if time.Since(entry.CreatedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
		return merger.Result{}, false
	}
	return entry.Result, true
}

// Set inserts or overwrites the cached result for fingerprint.
func (c *Cache) Set(fingerprint string, result merger.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = Entry{
		Fingerprint: fingerprint,
		Result:      result,
		CreatedAt:   time.Now(),
	}
}

// GetOrCompute returns the cached entry for fingerprint if present,
// otherwise calls compute exactly once across all concurrent callers
// sharing that fingerprint (via singleflight) and caches the outcome.
// This is the single-flight invariant: N simultaneous identical
// requests result in one pipeline run, not N.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute func(context.Context) (merger.Result, error)) (merger.Result, bool, error) {
	if result, ok := c.Get(fingerprint); ok {
		return result, true, nil
	}

	v, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		if result, ok := c.Get(fingerprint); ok {
			return result, nil
		}
		result, err := compute(ctx)
		if err != nil {
			return merger.Result{}, err
		}
		c.Set(fingerprint, result)
		return result, nil
	})
	if err != nil {
		return merger.Result{}, false, err
	}
	return v.(merger.Result), false, nil
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.sweep()
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for fp, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.ttl {
			delete(c.entries, fp)
		}
	}
}
