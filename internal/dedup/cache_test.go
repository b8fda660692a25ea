package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type CacheTestSuite struct {
	suite.Suite

	clock *manualClock
}

func TestCacheTestSuite(t *testing.T) {
	t.Parallel()

	suite.Run(t, new(CacheTestSuite))
}

func (s *CacheTestSuite) SetupTest() {
	s.clock = &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *CacheTestSuite) newCache(settings Settings) *Cache {
	cache, err := NewCache(settings, WithClock(s.clock.Now))
	s.Require().NoError(err)

	return cache
}

func (s *CacheTestSuite) TestTimestampStrategyRepeatWithinWindow() {
	cache := s.newCache(Settings{Strategy: StrategyTimestamp, CacheExpiry: time.Minute})

	key := cache.GenerateKey([]byte("payload"), KeyOptions{})
	s.False(cache.IsDuplicate(key))
	s.True(cache.IsDuplicate(key))
}

func (s *CacheTestSuite) TestEntryExpires() {
	cache := s.newCache(Settings{Strategy: StrategyContent, CacheExpiry: time.Minute})

	s.False(cache.IsDuplicate("k"))

	s.clock.Advance(time.Minute)
	s.True(cache.IsDuplicate("k"), "an entry exactly as old as the expiry is still live")

	s.clock.Advance(time.Minute + time.Millisecond)
	s.False(cache.IsDuplicate("k"))
	s.True(cache.IsDuplicate("k"))
}

func (s *CacheTestSuite) TestExpiredEntriesAreEvicted() {
	cache := s.newCache(Settings{Strategy: StrategyContent, CacheExpiry: time.Second})

	for i := range 10 {
		cache.IsDuplicate(strconv.Itoa(i))
	}
	s.Equal(10, cache.Len())

	s.clock.Advance(2 * time.Second)
	s.False(cache.IsDuplicate("fresh"))

	stats := cache.Stats()
	s.Equal(1, stats.Entries)
	s.Equal(uint64(10), stats.Evictions)
	s.Equal(uint64(11), stats.Misses)
	s.Zero(stats.Hits)
}

func (s *CacheTestSuite) TestContentStrategyIgnoresTime() {
	cache := s.newCache(Settings{Strategy: StrategyContent, CacheExpiry: time.Minute})

	first := cache.GenerateKey([]byte(`{"id":1}`), KeyOptions{GroupID: "g1"})
	s.clock.Advance(10 * time.Second)
	second := cache.GenerateKey([]byte(`{"id":1}`), KeyOptions{GroupID: "g1"})

	s.Equal(first, second)
	s.NotEqual(first, cache.GenerateKey([]byte(`{"id":1}`), KeyOptions{GroupID: "g2"}))
	s.NotEqual(first, cache.GenerateKey([]byte(`{"id":2}`), KeyOptions{GroupID: "g1"}))

	s.False(cache.IsDuplicate(first))
	s.True(cache.IsDuplicate(second))
}

func (s *CacheTestSuite) TestTimestampStrategyKeyFormat() {
	cache := s.newCache(Settings{Strategy: StrategyTimestamp, CacheExpiry: time.Minute})

	sum := sha256.Sum256([]byte(strconv.FormatInt(s.clock.Now().UnixMilli(), 10)))
	s.Equal(hex.EncodeToString(sum[:]), cache.GenerateKey([]byte("ignored"), KeyOptions{GroupID: "ignored"}))

	before := cache.GenerateKey(nil, KeyOptions{})
	s.clock.Advance(time.Millisecond)
	s.NotEqual(before, cache.GenerateKey(nil, KeyOptions{}))
}

func (s *CacheTestSuite) TestHybridStrategy() {
	cache := s.newCache(Settings{Strategy: StrategyHybrid, CacheExpiry: time.Minute})

	body := []byte("order-1")
	first := cache.GenerateKey(body, KeyOptions{GroupID: "g"})
	s.Equal(first, cache.GenerateKey(body, KeyOptions{GroupID: "g"}), "same content in the same millisecond")
	s.NotEqual(first, cache.GenerateKey([]byte("order-2"), KeyOptions{GroupID: "g"}))

	expected := sha256.Sum256(fmt.Appendf(nil, "%s-%d-%s", contentHash(body, "g"), s.clock.Now().UnixMilli(), "g"))
	s.Equal(hex.EncodeToString(expected[:]), first)

	s.clock.Advance(time.Millisecond)
	s.NotEqual(first, cache.GenerateKey(body, KeyOptions{GroupID: "g"}))
}

func (s *CacheTestSuite) TestRemoveAndClear() {
	cache := s.newCache(Settings{Strategy: StrategyContent, CacheExpiry: time.Minute})

	cache.IsDuplicate("a")
	cache.IsDuplicate("b")
	cache.IsDuplicate("c")

	cache.Remove("b")
	cache.Remove("missing")
	s.Equal(2, cache.Len())
	s.False(cache.IsDuplicate("b"))
	s.True(cache.IsDuplicate("a"))

	cache.Clear()
	s.Zero(cache.Len())
	s.False(cache.IsDuplicate("a"))
}

func (s *CacheTestSuite) TestMaxEntriesEvictsOldest() {
	cache := s.newCache(Settings{Strategy: StrategyContent, CacheExpiry: time.Hour, MaxEntries: 2})

	cache.IsDuplicate("first")
	s.clock.Advance(time.Millisecond)
	cache.IsDuplicate("second")
	s.clock.Advance(time.Millisecond)
	cache.IsDuplicate("third")

	s.Equal(2, cache.Len())
	s.True(cache.IsDuplicate("third"))
	s.True(cache.IsDuplicate("second"))
	s.False(cache.IsDuplicate("first"))
}

func TestNewCache_InvalidSettings(t *testing.T) {
	t.Parallel()

	_, err := NewCache(Settings{Strategy: "random", CacheExpiry: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewCache(Settings{Strategy: StrategyContent})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewCache(Settings{Strategy: StrategyContent, CacheExpiry: time.Minute, MaxEntries: -1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestCache_ConcurrentIsDuplicate(t *testing.T) {
	t.Parallel()

	cache, err := NewCache(Settings{Strategy: StrategyContent, CacheExpiry: time.Minute})
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		firstSeens int
	)

	for range 32 {
		wg.Go(func() {
			if !cache.IsDuplicate("shared") {
				mu.Lock()
				firstSeens++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, firstSeens)
	assert.Equal(t, 1, cache.Len())
}
