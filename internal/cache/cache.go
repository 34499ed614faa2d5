// Package cache provides the engine's bounded in-process store: TTL
// expiration, least-recently-used eviction at capacity, and slot-bound
// reference entries for consensus-tied values like the current blockhash.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Well-known keys.
const (
	KeyBlockhash = "blockhash"
	KeySOLPrice  = "sol_price"
	KeyBalance   = "wallet_balance"

	// MetaPrefix namespaces per-token metadata entries (MetaPrefix + mint).
	MetaPrefix = "meta:"
)

const (
	DefaultMaxEntries = 10_000
	DefaultTTL        = 5 * time.Minute
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time // zero = no wall-clock expiry
	validSlot uint64    // reference entries only
}

// Cache is a bounded TTL+LRU store. Every access refreshes recency; at
// capacity the least-recently-used entry is evicted. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	defaultTTL time.Duration
	ll         *list.List // front = most recently used
	items      map[string]*list.Element

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// New creates a cache holding at most maxEntries entries. Set applies
// defaultTTL; zero or negative arguments fall back to package defaults.
func New(maxEntries int, defaultTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Set stores a value under the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores a value with an explicit TTL. A non-positive TTL means the
// entry never expires by clock (it can still be evicted by capacity).
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.put(key, value, expiresAt, 0)
}

// Get returns a live value. Expired entries count as misses and are removed.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.live(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// SetReference stores a consensus-tied value together with the last slot it
// is valid for. Reference entries carry no wall-clock TTL; the slot bound is
// authoritative and the consumer judges freshness against observed slots.
func (c *Cache) SetReference(key string, value any, validUntilSlot uint64) {
	c.put(key, value, time.Time{}, validUntilSlot)
}

// GetReference returns a reference value and its validity-slot bound.
func (c *Cache) GetReference(key string) (any, uint64, bool) {
	e, ok := c.live(key)
	if !ok {
		return nil, 0, false
	}
	return e.value, e.validSlot, true
}

// Delete removes an entry, reporting whether it existed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Purge removes every expired entry and returns how many were dropped.
func (c *Cache) Purge() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			c.removeLocked(el)
			c.expired.Add(1)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the current number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// StartJanitor purges expired entries on an interval until ctx is cancelled.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Purge(); n > 0 {
					log.Debug().Int("purged", n).Int("entries", c.Len()).Msg("cache: janitor sweep")
				}
			}
		}
	}()
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (c *Cache) put(key string, value any, expiresAt time.Time, validSlot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		e.validSlot = validSlot
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value, expiresAt: expiresAt, validSlot: validSlot})
	c.items[key] = el

	if c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest != nil {
			c.removeLocked(oldest)
			c.evictions.Add(1)
		}
	}
}

// live returns the entry behind key if present and unexpired, refreshing its
// recency. Expired entries are deleted on sight.
func (c *Cache) live(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits.Add(1)
	return e, true
}

func (c *Cache) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats reports cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}
