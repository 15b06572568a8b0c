package resilience

import (
	"sync"
	"time"
)

type cacheEntry struct {
	price float64
	at    time.Time
}

// PriceCache is a short-TTL last-price cache keyed by instrument. Entries
// are invalidated by age only; a Get after the TTL misses even if no newer
// price was written.
type PriceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewPriceCache creates a cache whose entries expire after ttl.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached price for instrument if it is younger than the
// TTL.
func (c *PriceCache) Get(instrument string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[instrument]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		return 0, false
	}
	return e.price, true
}

// Put stores the current price for instrument.
func (c *PriceCache) Put(instrument string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[instrument] = cacheEntry{price: price, at: c.now()}
}

// Last returns the most recent price regardless of age. Used for forced
// exits at shutdown where any last available price is acceptable.
func (c *PriceCache) Last(instrument string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[instrument]
	return e.price, ok
}
