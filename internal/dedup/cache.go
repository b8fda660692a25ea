package dedup

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Strategy selects how a dedup key is derived from a message.
type Strategy string

const (
	StrategyContent   Strategy = "content"
	StrategyTimestamp Strategy = "timestamp"
	StrategyHybrid    Strategy = "hybrid"
)

var ErrInvalidSettings = errors.New("invalid dedup settings")

type (
	Settings struct {
		Strategy    Strategy
		CacheExpiry time.Duration
		// MaxEntries bounds the cache; zero means unbounded.
		MaxEntries int
	}

	// KeyOptions carries the message attributes that take part in a key.
	KeyOptions struct {
		GroupID string
	}

	Stats struct {
		Entries   int
		Hits      uint64
		Misses    uint64
		Evictions uint64
	}

	Cache struct {
		mu      sync.Mutex
		entries map[string]*entry
		order   entryHeap

		strategy    Strategy
		cacheExpiry time.Duration
		maxEntries  int
		now         func() time.Time

		hits      uint64
		misses    uint64
		evictions uint64
	}

	CacheOption func(*Cache)
)

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(settings Settings, opts ...CacheOption) (*Cache, error) {
	switch settings.Strategy {
	case StrategyContent, StrategyTimestamp, StrategyHybrid:
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidSettings, settings.Strategy)
	}

	if settings.CacheExpiry <= 0 {
		return nil, fmt.Errorf("%w: cache expiry must be positive, got %s", ErrInvalidSettings, settings.CacheExpiry)
	}

	if settings.MaxEntries < 0 {
		return nil, fmt.Errorf("%w: max entries must not be negative, got %d", ErrInvalidSettings, settings.MaxEntries)
	}

	c := &Cache{
		entries:     make(map[string]*entry),
		strategy:    settings.Strategy,
		cacheExpiry: settings.CacheExpiry,
		maxEntries:  settings.MaxEntries,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// GenerateKey derives the dedup key of body with the configured strategy.
//
// content hashes the body and group id only, so identical publishes within the
// expiry window collide. timestamp hashes the current unix millisecond. hybrid
// hashes the content hash, the millisecond and the group id.
func (c *Cache) GenerateKey(body []byte, opts KeyOptions) string {
	switch c.strategy {
	case StrategyTimestamp:
		return hashString(c.millis())
	case StrategyHybrid:
		return hashString(contentHash(body, opts.GroupID) + "-" + c.millis() + "-" + opts.GroupID)
	default:
		return contentHash(body, opts.GroupID)
	}
}

// IsDuplicate reports whether key was seen within the expiry window. A key not seen
// is recorded, so the first call for a key returns false and the next returns true.
func (c *Cache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpired(now)

	if _, ok := c.entries[key]; ok {
		c.hits++

		return true
	}

	c.misses++

	if c.maxEntries > 0 {
		for len(c.entries) >= c.maxEntries {
			c.removeOldest()
		}
	}

	e := &entry{key: key, insertedAt: now}
	heap.Push(&c.order, e)
	c.entries[key] = e

	return false
}

// Remove forgets key so a later publish with the same key is accepted.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}

	heap.Remove(&c.order, e.index)
	delete(c.entries, key)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.order = nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictExpired must be called with mu held.
func (c *Cache) evictExpired(now time.Time) {
	for len(c.order) > 0 && now.Sub(c.order[0].insertedAt) > c.cacheExpiry {
		c.removeOldest()
	}
}

func (c *Cache) removeOldest() {
	e := heap.Pop(&c.order).(*entry)
	delete(c.entries, e.key)
	c.evictions++
}

func (c *Cache) millis() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

func contentHash(body []byte, groupID string) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte{0})
	h.Write([]byte(groupID))

	return hex.EncodeToString(h.Sum(nil))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}
