// Package cache provides caching implementations for Latchkey.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// scopedKey identifies an entry by family and name. Using a struct key
// keeps family isolation structural rather than relying on a delimiter.
type scopedKey struct {
	family string
	name   string
}

type record struct {
	key       scopedKey
	value     []byte
	expiresAt time.Time
}

// window is a fixed-window counter, used for evaluation rate limiting
// on the Community tier.
type window struct {
	count     int64
	expiresAt time.Time
}

// LRUCache is an in-process cache with TTL and least-recently-used
// eviction. It serves the Community tier and acts as L1 in the
// two-phase cache.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[scopedKey]*list.Element
	recency  *list.List
	counters map[scopedKey]*window
}

// NewLRUCache creates an LRU cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[scopedKey]*list.Element),
		recency:  list.New(),
		counters: make(map[scopedKey]*window),
	}
}

// Get returns the cached value, or nil when the key is absent or its
// TTL has passed. Expired entries are dropped on access.
func (c *LRUCache) Get(ctx context.Context, familyID string, key string) ([]byte, error) {
	if familyID == "" {
		return nil, fmt.Errorf("familyID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[scopedKey{familyID, key}]
	if !ok {
		return nil, nil
	}

	rec := elem.Value.(*record)
	if time.Now().After(rec.expiresAt) {
		c.drop(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return rec.value, nil
}

// Set stores a value with the given TTL, evicting the least recently
// used entry when the cache is full.
func (c *LRUCache) Set(ctx context.Context, familyID string, key string, value []byte, ttl time.Duration) error {
	if familyID == "" {
		return fmt.Errorf("familyID is required")
	}

	sk := scopedKey{familyID, key}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[sk]; ok {
		rec := elem.Value.(*record)
		rec.value = value
		rec.expiresAt = time.Now().Add(ttl)
		c.recency.MoveToFront(elem)
		return nil
	}

	for c.recency.Len() >= c.capacity {
		if oldest := c.recency.Back(); oldest != nil {
			c.drop(oldest)
		}
	}

	rec := &record{key: sk, value: value, expiresAt: time.Now().Add(ttl)}
	c.entries[sk] = c.recency.PushFront(rec)
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *LRUCache) Delete(ctx context.Context, familyID string, key string) error {
	if familyID == "" {
		return fmt.Errorf("familyID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[scopedKey{familyID, key}]; ok {
		c.drop(elem)
	}
	return nil
}

// GetAttempt retrieves a cached attempt snapshot.
func (c *LRUCache) GetAttempt(ctx context.Context, familyID string, attemptID string) (*domain.Attempt, error) {
	data, err := c.Get(ctx, familyID, "attempt:"+attemptID)
	if err != nil || data == nil {
		return nil, err
	}

	var attempt domain.Attempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// SetAttempt caches an attempt snapshot for history hydration.
func (c *LRUCache) SetAttempt(ctx context.Context, familyID string, attemptID string, attempt *domain.Attempt, ttl time.Duration) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	return c.Set(ctx, familyID, "attempt:"+attemptID, data, ttl)
}

// IncrementCounter bumps a fixed-window counter and returns the new
// count. A counter whose window has passed restarts at 1.
func (c *LRUCache) IncrementCounter(ctx context.Context, familyID string, key string, windowSize time.Duration) (int64, error) {
	if familyID == "" {
		return 0, fmt.Errorf("familyID is required")
	}

	sk := scopedKey{familyID, "counter:" + key}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if len(c.counters) > c.capacity {
		c.sweepCounters(now)
	}

	w, ok := c.counters[sk]
	if !ok || now.After(w.expiresAt) {
		c.counters[sk] = &window{count: 1, expiresAt: now.Add(windowSize)}
		return 1, nil
	}

	w.count++
	return w.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close discards all entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[scopedKey]*list.Element)
	c.recency = list.New()
	c.counters = make(map[scopedKey]*window)
	return nil
}

// Stats returns the current entry count and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recency.Len(), c.capacity
}

// drop removes an element from both the recency list and the index.
// Callers hold the write lock.
func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*record).key)
}

// sweepCounters discards counters whose windows have passed so stale
// rate-limit keys do not accumulate. Callers hold the write lock.
func (c *LRUCache) sweepCounters(now time.Time) {
	for k, w := range c.counters {
		if now.After(w.expiresAt) {
			delete(c.counters, k)
		}
	}
}
