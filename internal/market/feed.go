package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/pkg/cache"
	binance "scalp-core/pkg/market/binance"
)

// View is the read side of a market data source used by the engine.
type View interface {
	Candles(interval string) []Candle
	Book() Book
	Healthy() bool
}

// KlineSource fetches historical candles for warm-up.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
}

// DepthSource returns an order book snapshot. When the kline source also
// implements it, Warmup seeds the book before the first depth update.
type DepthSource interface {
	Depth(ctx context.Context, symbol string, limit int) (binance.Depth, error)
}

// Streamer opens a combined market stream.
type Streamer interface {
	Subscribe(ctx context.Context, streams []string) (<-chan binance.Message, func(), error)
}

// FeedConfig selects what a Feed streams.
type FeedConfig struct {
	Symbol      string
	Intervals   []string
	History     int
	DepthLevels int
	// StaleAfter marks the feed unhealthy when no message arrived for this long.
	StaleAfter time.Duration
}

// Feed streams one symbol's book ticker, partial depth and candles from
// Binance, keeps them in memory and publishes price ticks on the bus.
type Feed struct {
	cfg    FeedConfig
	rest   KlineSource
	stream Streamer
	bus    *events.Bus
	prices *cache.PriceCache
	log    *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	series map[string]*Series
	book   Book

	connected atomic.Bool
	lastMsg   atomic.Int64
	reconnect atomic.Uint64
}

// NewFeed wires a feed. prices may be nil.
func NewFeed(cfg FeedConfig, rest KlineSource, stream Streamer, bus *events.Bus, prices *cache.PriceCache, log *zap.Logger) *Feed {
	if cfg.History <= 0 {
		cfg.History = 200
	}
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 20
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Second
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = []string{"1m"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	f := &Feed{
		cfg:    cfg,
		rest:   rest,
		stream: stream,
		bus:    bus,
		prices: prices,
		log:    log,
		now:    time.Now,
		series: make(map[string]*Series, len(cfg.Intervals)),
		book:   Book{Symbol: cfg.Symbol},
	}
	for _, iv := range cfg.Intervals {
		f.series[iv] = NewSeries(cfg.History)
	}
	return f
}

// Warmup loads History candles per interval over REST.
func (f *Feed) Warmup(ctx context.Context) error {
	if f.rest == nil {
		return nil
	}
	for _, iv := range f.cfg.Intervals {
		klines, err := f.rest.GetKlines(ctx, f.cfg.Symbol, iv, f.cfg.History)
		if err != nil {
			return fmt.Errorf("warm up %s %s: %w", f.cfg.Symbol, iv, err)
		}
		s := f.series[iv]
		for _, k := range klines {
			s.Update(FromKline(k))
		}
		f.log.Info("candles warmed up", zap.String("symbol", f.cfg.Symbol), zap.String("interval", iv), zap.Int("count", len(klines)))
	}
	if ds, ok := f.rest.(DepthSource); ok {
		d, err := ds.Depth(ctx, f.cfg.Symbol, f.cfg.DepthLevels)
		if err != nil {
			f.log.Warn("depth snapshot failed", zap.Error(err))
			return nil
		}
		f.mu.Lock()
		f.book = applyDepth(f.book, d)
		f.mu.Unlock()
	}
	return nil
}

// Start runs the stream loop until ctx is done, reconnecting with backoff.
func (f *Feed) Start(ctx context.Context) {
	if f.stream == nil {
		f.log.Warn("market feed has no stream client; skipping start")
		return
	}
	go f.run(ctx)
}

func (f *Feed) streams() []string {
	out := []string{
		binance.BookTickerStream(f.cfg.Symbol),
		binance.DepthStream(f.cfg.Symbol, f.cfg.DepthLevels),
	}
	for _, iv := range f.cfg.Intervals {
		out = append(out, binance.KlineStream(f.cfg.Symbol, iv))
	}
	return out
}

func (f *Feed) run(ctx context.Context) {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for ctx.Err() == nil {
		ch, stop, err := f.stream.Subscribe(ctx, f.streams())
		if err != nil {
			wait := b.Duration()
			f.log.Warn("market stream subscribe failed", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		f.setConnected(true)
		received := false
		for msg := range ch {
			if !received {
				received = true
				b.Reset()
			}
			f.apply(msg)
		}
		stop()
		f.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		f.reconnect.Add(1)
		wait := b.Duration()
		f.log.Warn("market stream dropped; reconnecting", zap.Duration("retry_in", wait))
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (f *Feed) setConnected(v bool) {
	if f.connected.Swap(v) != v {
		f.bus.Publish(events.EventFeedStatus, v)
	}
}

// apply folds one stream message into feed state.
func (f *Feed) apply(msg binance.Message) {
	now := f.now()
	f.lastMsg.Store(now.UnixNano())

	switch msg.Kind {
	case binance.KindBookTicker:
		f.mu.Lock()
		f.book.BestBid = msg.Book.BidPrice
		f.book.BestAsk = msg.Book.AskPrice
		f.book.Time = now
		f.mu.Unlock()
		f.publish(msg.Book.Mid(), now)
	case binance.KindDepth:
		f.mu.Lock()
		f.book = applyDepth(f.book, msg.Depth)
		f.book.Time = now
		f.mu.Unlock()
	case binance.KindKline:
		s, ok := f.series[msg.Kline.Interval]
		if !ok {
			return
		}
		s.Update(FromKline(msg.Kline))
	}
}

func (f *Feed) publish(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	if f.prices != nil {
		f.prices.SetAt(f.cfg.Symbol, price, at)
	}
	f.bus.Publish(events.EventPriceTick, Tick{Symbol: f.cfg.Symbol, Price: price, Time: at})
}

// Candles returns a copy of the interval's window.
func (f *Feed) Candles(interval string) []Candle {
	s, ok := f.series[interval]
	if !ok {
		return nil
	}
	return s.Candles()
}

// Book returns the latest top of book.
func (f *Feed) Book() Book {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b := f.book
	b.Bids = append([]Level(nil), f.book.Bids...)
	b.Asks = append([]Level(nil), f.book.Asks...)
	return b
}

// Healthy is true while connected and messages keep arriving.
func (f *Feed) Healthy() bool {
	if !f.connected.Load() {
		return false
	}
	last := f.lastMsg.Load()
	if last == 0 {
		return false
	}
	return f.now().Sub(time.Unix(0, last)) <= f.cfg.StaleAfter
}

// Reconnects counts stream drops since start.
func (f *Feed) Reconnects() uint64 { return f.reconnect.Load() }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
