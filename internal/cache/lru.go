// Package cache is the content-addressed, TTL-bounded Result Cache
// (spec.md §4.4): LRU eviction over a hand-written doubly-linked list
// (no LRU library appears anywhere in the example corpus; see DESIGN.md),
// with single-flight request coalescing via golang.org/x/sync/singleflight
// (grounded on sells-group-research-cli's direct dependency on
// golang.org/x/sync).
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

type lruNode struct {
	fingerprint pipeline.PromptFingerprint
	entry       pipeline.CacheEntry
}

// LRU is a size- and byte-bounded, TTL-aware cache of AIResults keyed by
// PromptFingerprint. Safe for concurrent use.
type LRU struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int
	curBytes   int
	order      *list.List // front = most recently used
	index      map[pipeline.PromptFingerprint]*list.Element
}

// NewLRU builds an LRU bounded by maxEntries and maxBytes.
func NewLRU(maxEntries, maxBytes int) *LRU {
	return &LRU{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		order:      list.New(),
		index:      make(map[pipeline.PromptFingerprint]*list.Element),
	}
}

// Get returns the entry for fingerprint if present and not expired.
// Lookups past TTL return absent, per spec.md §4.4.
func (c *LRU) Get(fingerprint pipeline.PromptFingerprint, now time.Time) (pipeline.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[fingerprint]
	if !ok {
		return pipeline.CacheEntry{}, false
	}
	node := el.Value.(*lruNode)
	if node.entry.Expired(now) {
		c.removeElement(el)
		return pipeline.CacheEntry{}, false
	}

	c.order.MoveToFront(el)
	return node.entry, true
}

// Put inserts entry under fingerprint, evicting least-recently-used live
// entries until both the entry-count and byte-size bounds are satisfied.
func (c *LRU) Put(fingerprint pipeline.PromptFingerprint, entry pipeline.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[fingerprint]; ok {
		c.removeElement(el)
	}

	el := c.order.PushFront(&lruNode{fingerprint: fingerprint, entry: entry})
	c.index[fingerprint] = el
	c.curBytes += entry.SizeBytes

	c.evictIfNeeded()
}

func (c *LRU) evictIfNeeded() {
	for (c.maxEntries > 0 && c.order.Len() > c.maxEntries) || (c.maxBytes > 0 && c.curBytes > c.maxBytes) {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}
}

func (c *LRU) removeElement(el *list.Element) {
	node := el.Value.(*lruNode)
	c.order.Remove(el)
	delete(c.index, node.fingerprint)
	c.curBytes -= node.entry.SizeBytes
}

// Len reports the current number of live entries (including possibly
// expired ones not yet swept by a Get).
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
