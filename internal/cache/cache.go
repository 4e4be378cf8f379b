package cache

import (
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// Cache is the Result Cache component (spec.md §4.4): lookup/insertion of
// AIResults keyed by PromptFingerprint, with single-flight discipline
// guaranteeing at most one concurrent model call per fingerprint.
type Cache struct {
	lru        *LRU
	flightGroup singleflight.Group
	defaultTTL time.Duration
	now        func() time.Time
}

// New builds a Cache bounded by maxEntries/maxBytes with defaultTTL applied
// when a caller does not specify one.
func New(maxEntries, maxBytes int, defaultTTL time.Duration) *Cache {
	return &Cache{
		lru:        NewLRU(maxEntries, maxBytes),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached result for fingerprint, if present and unexpired.
func (c *Cache) Get(fingerprint pipeline.PromptFingerprint) (pipeline.AIResult, bool) {
	entry, ok := c.lru.Get(fingerprint, c.now())
	if !ok {
		return pipeline.AIResult{}, false
	}
	return entry.Result, true
}

// Put stores result under fingerprint with ttl (or the cache's default if
// ttl is zero), sizing the entry by its raw response length.
func (c *Cache) Put(fingerprint pipeline.PromptFingerprint, result pipeline.AIResult, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	entry := pipeline.CacheEntry{
		Result:     result,
		InsertedAt: c.now(),
		TTL:        ttl,
		SizeBytes:  len(result.RawResponse),
	}
	c.lru.Put(fingerprint, entry)
}

// GetOrCompute implements the single-flight discipline spec.md §4.4
// requires: on a miss, compute is invoked at most once per fingerprint
// concurrently; other callers for the same fingerprint wait for and share
// that result rather than issuing their own model call. A successful
// compute is cached with ttl before being returned to all waiters.
func (c *Cache) GetOrCompute(fingerprint pipeline.PromptFingerprint, ttl time.Duration, compute func() (pipeline.AIResult, error)) (pipeline.AIResult, bool, error) {
	if result, ok := c.Get(fingerprint); ok {
		return result, true, nil
	}

	v, err, _ := c.flightGroup.Do(string(fingerprint), func() (any, error) {
		// Re-check after winning the race to enter Do, in case another
		// goroutine's leader already stored the result between our Get
		// above and acquiring the flight group's lock for this key.
		if result, ok := c.Get(fingerprint); ok {
			return result, nil
		}
		result, err := compute()
		if err != nil {
			return pipeline.AIResult{}, err
		}
		c.Put(fingerprint, result, ttl)
		return result, nil
	})
	if err != nil {
		return pipeline.AIResult{}, false, err
	}
	return v.(pipeline.AIResult), false, nil
}

// Len reports the number of live entries currently held.
func (c *Cache) Len() int {
	return c.lru.Len()
}
