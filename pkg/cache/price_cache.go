package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// PriceCache keeps the last streamed price and its timestamp per symbol,
// sharded to keep the feed writer and the engine's stale-price readers off
// a single lock.
type PriceCache struct {
	shards [numShards]*priceShard
	now    func() time.Time
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

// NewPriceCache creates an empty cache using the wall clock.
func NewPriceCache() *PriceCache {
	c := &PriceCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[string]priceEntry),
		}
	}
	return c
}

// SetClock overrides the clock; tests only.
func (c *PriceCache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *PriceCache) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for a symbol stamped with the current time.
func (c *PriceCache) Set(symbol string, price float64) {
	c.SetAt(symbol, price, c.now())
}

// SetAt stores a price observed at t. Older observations never overwrite
// newer ones.
func (c *PriceCache) SetAt(symbol string, price float64, t time.Time) {
	if price <= 0 {
		return
	}
	shard := c.getShard(symbol)
	shard.mu.Lock()
	if cur, ok := shard.items[symbol]; !ok || !t.Before(cur.updatedAt) {
		shard.items[symbol] = priceEntry{price: price, updatedAt: t}
	}
	shard.mu.Unlock()
}

// GetWithAge retrieves price and its age.
func (c *PriceCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return entry.price, c.now().Sub(entry.updatedAt), true
}

// Fresh returns the price only if it is younger than maxAge.
func (c *PriceCache) Fresh(symbol string, maxAge time.Duration) (float64, bool) {
	price, age, ok := c.GetWithAge(symbol)
	if !ok || age > maxAge {
		return 0, false
	}
	return price, true
}
