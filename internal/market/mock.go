package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/pkg/cache"
)

// MockFeed generates a random-walk market for paper mode and local
// development. It satisfies View and publishes ticks like Feed.
type MockFeed struct {
	Symbol     string
	Intervals  []string
	StartPrice float64
	// StepPct is the maximum move per tick, in percent.
	StepPct  float64
	Interval time.Duration
	Seed     int64

	Bus    *events.Bus
	Prices *cache.PriceCache
	Log    *zap.Logger

	once   sync.Once
	mu     sync.RWMutex
	rng    *rand.Rand
	price  float64
	series map[string]*Series
	book   Book
}

func (m *MockFeed) init() {
	m.once.Do(func() {
		if m.Symbol == "" {
			m.Symbol = "BTCUSDT"
		}
		if len(m.Intervals) == 0 {
			m.Intervals = []string{"1m"}
		}
		if m.StartPrice <= 0 {
			m.StartPrice = 100
		}
		if m.StepPct <= 0 {
			m.StepPct = 0.05
		}
		if m.Interval <= 0 {
			m.Interval = time.Second
		}
		if m.Seed == 0 {
			m.Seed = time.Now().UnixNano()
		}
		if m.Log == nil {
			m.Log = zap.NewNop()
		}
		m.rng = rand.New(rand.NewSource(m.Seed))
		m.price = m.StartPrice
		m.series = make(map[string]*Series, len(m.Intervals))
		for _, iv := range m.Intervals {
			m.series[iv] = NewSeries(200)
		}
	})
}

// Start emits one tick per Interval until ctx is done.
func (m *MockFeed) Start(ctx context.Context) {
	m.init()
	m.Log.Info("mock feed started", zap.String("symbol", m.Symbol), zap.Float64("start_price", m.StartPrice))
	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				m.Step(now)
			}
		}
	}()
}

// Step advances the walk once at time now and publishes the tick.
func (m *MockFeed) Step(now time.Time) Tick {
	m.init()
	m.mu.Lock()
	move := (m.rng.Float64()*2 - 1) * m.StepPct / 100
	m.price *= 1 + move
	price := m.price
	half := price * 0.00005
	m.book = Book{
		Symbol:  m.Symbol,
		BestBid: price - half,
		BestAsk: price + half,
		Time:    now,
	}
	for i := 0; i < 10; i++ {
		gap := float64(i) * price * 0.0001
		m.book.Bids = append(m.book.Bids, Level{Price: price - half - gap, Qty: 1 + m.rng.Float64()*5})
		m.book.Asks = append(m.book.Asks, Level{Price: price + half + gap, Qty: 1 + m.rng.Float64()*5})
	}
	for iv, s := range m.series {
		m.updateCandle(s, intervalDuration(iv), now, price)
	}
	m.mu.Unlock()

	if m.Prices != nil {
		m.Prices.SetAt(m.Symbol, price, now)
	}
	tick := Tick{Symbol: m.Symbol, Price: price, Time: now}
	m.Bus.Publish(events.EventPriceTick, tick)
	return tick
}

func (m *MockFeed) updateCandle(s *Series, d time.Duration, now time.Time, price float64) {
	open := now.Truncate(d)
	cs := s.Candles()
	if n := len(cs); n > 0 && cs[n-1].OpenTime.Equal(open) {
		c := cs[n-1]
		c.Close = price
		c.High = max(c.High, price)
		c.Low = min(c.Low, price)
		c.Volume += m.rng.Float64()
		s.Update(c)
		return
	}
	if n := len(cs); n > 0 {
		prev := cs[n-1]
		prev.Closed = true
		s.Update(prev)
	}
	s.Update(Candle{OpenTime: open, Open: price, High: price, Low: price, Close: price, Volume: m.rng.Float64()})
}

// Candles returns a copy of the interval's window.
func (m *MockFeed) Candles(interval string) []Candle {
	m.init()
	s, ok := m.series[interval]
	if !ok {
		return nil
	}
	return s.Candles()
}

// Book returns the synthetic top of book.
func (m *MockFeed) Book() Book {
	m.init()
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.book
	b.Bids = append([]Level(nil), m.book.Bids...)
	b.Asks = append([]Level(nil), m.book.Asks...)
	return b
}

// Healthy is always true for the mock.
func (m *MockFeed) Healthy() bool { return true }

// Price is the current walk price.
func (m *MockFeed) Price() float64 {
	m.init()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.price
}

func intervalDuration(iv string) time.Duration {
	d, err := time.ParseDuration(iv)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}
