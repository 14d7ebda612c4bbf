package cache

import (
	"time"

	"github.com/kjstillabower/cnweather/internal/models"
)

// DefaultTTL is how long a fetched result stays fresh.
const DefaultTTL = 600 * time.Second

// ResultCache stores the last WeatherResult per selection key with a fixed TTL.
// Expired entries read as misses but stay in place until overwritten or cleared.
// Not thread-safe; the orchestrator serializes all access.
type ResultCache struct {
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

// cacheEntry stores a cached result with the time it was fetched.
type cacheEntry struct {
	result    models.WeatherResult
	fetchedAt time.Time
}

// NewResultCache creates an empty cache. A non-positive ttl selects DefaultTTL.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetClock replaces the time source. For tests.
func (c *ResultCache) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the configured freshness window.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the result for key if present and younger than the TTL.
func (c *ResultCache) Get(key string) (models.WeatherResult, bool) {
	entry, ok := c.data[key]
	if !ok {
		return models.WeatherResult{}, false
	}
	if c.now().Sub(entry.fetchedAt) >= c.ttl {
		return models.WeatherResult{}, false
	}
	return entry.result, true
}

// Put stores or overwrites the result for key, stamped with the current time.
func (c *ResultCache) Put(key string, result models.WeatherResult) {
	c.data[key] = cacheEntry{
		result:    result,
		fetchedAt: c.now(),
	}
}

// Clear removes all entries.
func (c *ResultCache) Clear() {
	clear(c.data)
}

// Size returns the number of stored entries, expired ones included.
func (c *ResultCache) Size() int {
	return len(c.data)
}
