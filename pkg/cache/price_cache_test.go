package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCacheAgeAndFreshness(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewPriceCache()
	c.SetClock(func() time.Time { return now })

	c.Set("BTCUSDT", 100)
	now = now.Add(3 * time.Second)

	price, age, ok := c.GetWithAge("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 3*time.Second, age)

	_, ok = c.Fresh("BTCUSDT", 5*time.Second)
	assert.True(t, ok)
	_, ok = c.Fresh("BTCUSDT", 2*time.Second)
	assert.False(t, ok)
	_, ok = c.Fresh("ETHUSDT", time.Hour)
	assert.False(t, ok)
}

func TestPriceCacheIgnoresOlderAndInvalid(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewPriceCache()

	c.SetAt("BTCUSDT", 101, base.Add(time.Second))
	c.SetAt("BTCUSDT", 99, base)
	c.SetAt("BTCUSDT", 0, base.Add(time.Minute))

	price, _, ok := c.GetWithAge("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 101.0, price)
}
