package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/internal/events"
	"scalp-core/pkg/cache"
	binance "scalp-core/pkg/market/binance"
)

type fakeKlines struct {
	klines map[string][]binance.Kline
	err    error
}

func (f fakeKlines) GetKlines(_ context.Context, _, interval string, _ int) ([]binance.Kline, error) {
	return f.klines[interval], f.err
}

type fakeDepthKlines struct {
	fakeKlines
	depth binance.Depth
}

func (f fakeDepthKlines) Depth(context.Context, string, int) (binance.Depth, error) {
	return f.depth, nil
}

type fakeStream struct {
	mu      sync.Mutex
	calls   int
	streams []string
	ch      chan binance.Message
}

func (f *fakeStream) Subscribe(_ context.Context, streams []string) (<-chan binance.Message, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.streams = streams
	return f.ch, func() {}, nil
}

func kline(iv string, openMs int64, closePx float64, closed bool) binance.Kline {
	return binance.Kline{Symbol: "BTCUSDT", Interval: iv, OpenTime: openMs, Open: closePx, High: closePx, Low: closePx, Close: closePx, Closed: closed}
}

func TestSeriesUpdateReplacesAndTrims(t *testing.T) {
	s := NewSeries(3)
	base := time.Unix(0, 0).UTC()
	for i := 0; i < 4; i++ {
		s.Update(Candle{OpenTime: base.Add(time.Duration(i) * time.Minute), Close: float64(i)})
	}
	s.Update(Candle{OpenTime: base.Add(3 * time.Minute), Close: 30})
	s.Update(Candle{OpenTime: base, Close: -1})

	cs := s.Candles()
	require.Len(t, cs, 3)
	assert.Equal(t, []float64{1, 2, 30}, Closes(cs))

	h, l, c := HLC(cs)
	assert.Len(t, h, 3)
	assert.Len(t, l, 3)
	assert.Equal(t, 30.0, c[2])
}

func TestFeedWarmupSeedsBook(t *testing.T) {
	rest := fakeDepthKlines{
		fakeKlines: fakeKlines{klines: map[string][]binance.Kline{"1m": {kline("1m", 0, 100, true)}}},
		depth: binance.Depth{
			Symbol: "BTCUSDT",
			Bids:   [][2]float64{{99.9, 2}, {99.8, 3}},
			Asks:   [][2]float64{{100.1, 1}},
		},
	}
	f := NewFeed(FeedConfig{Symbol: "BTCUSDT", Intervals: []string{"1m"}}, rest, nil, nil, nil, nil)
	require.NoError(t, f.Warmup(context.Background()))

	book := f.Book()
	assert.Equal(t, 99.9, book.BestBid)
	assert.Equal(t, 100.1, book.BestAsk)
	bid, ask := book.DepthQty(5)
	assert.Equal(t, 5.0, bid)
	assert.Equal(t, 1.0, ask)
}

func TestFeedWarmupAndApply(t *testing.T) {
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 4)
	defer unsub()
	prices := cache.NewPriceCache()

	rest := fakeKlines{klines: map[string][]binance.Kline{
		"1m": {kline("1m", 0, 100, true), kline("1m", 60_000, 101, false)},
	}}
	f := NewFeed(FeedConfig{Symbol: "BTCUSDT", Intervals: []string{"1m", "5m"}}, rest, nil, bus, prices, nil)
	require.NoError(t, f.Warmup(context.Background()))
	assert.Equal(t, []float64{100, 101}, Closes(f.Candles("1m")))
	assert.Empty(t, f.Candles("5m"))
	assert.Nil(t, f.Candles("1h"))

	f.apply(binance.Message{Kind: binance.KindKline, Kline: kline("1m", 60_000, 102, true)})
	assert.Equal(t, []float64{100, 102}, Closes(f.Candles("1m")))

	f.apply(binance.Message{Kind: binance.KindDepth, Depth: binance.Depth{
		Bids: [][2]float64{{99.9, 2}, {99.8, 3}},
		Asks: [][2]float64{{100.1, 1}},
	}})
	f.apply(binance.Message{Kind: binance.KindBookTicker, Book: binance.BookTicker{BidPrice: 100, AskPrice: 100.2}})

	book := f.Book()
	assert.Equal(t, 100.0, book.BestBid)
	assert.Equal(t, 100.2, book.BestAsk)
	assert.InDelta(t, 100.1, book.Mid(), 1e-9)
	bid, ask := book.DepthQty(5)
	assert.Equal(t, 5.0, bid)
	assert.Equal(t, 1.0, ask)

	select {
	case v := <-ticks:
		tick := v.(Tick)
		assert.Equal(t, "BTCUSDT", tick.Symbol)
		assert.InDelta(t, 100.1, tick.Price, 1e-9)
	default:
		t.Fatal("expected a price tick")
	}
	px, _, ok := prices.GetWithAge("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 100.1, px, 1e-9)
}

func TestFeedWarmupError(t *testing.T) {
	f := NewFeed(FeedConfig{Symbol: "BTCUSDT"}, fakeKlines{err: errors.New("boom")}, nil, nil, nil, nil)
	err := f.Warmup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFeedHealthTracksStream(t *testing.T) {
	stream := &fakeStream{ch: make(chan binance.Message, 1)}
	f := NewFeed(FeedConfig{Symbol: "BTCUSDT", Intervals: []string{"1m"}, StaleAfter: time.Minute}, nil, stream, nil, nil, nil)
	assert.False(t, f.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	stream.ch <- binance.Message{Kind: binance.KindBookTicker, Book: binance.BookTicker{BidPrice: 1, AskPrice: 1}}
	require.Eventually(t, f.Healthy, time.Second, 5*time.Millisecond)

	stream.mu.Lock()
	assert.Equal(t, []string{"btcusdt@bookTicker", "btcusdt@depth20@100ms", "btcusdt@kline_1m"}, stream.streams)
	stream.mu.Unlock()

	now := time.Now().Add(2 * time.Minute)
	f.now = func() time.Time { return now }
	assert.False(t, f.Healthy())
}

func TestMockFeedStep(t *testing.T) {
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 8)
	defer unsub()

	m := &MockFeed{Symbol: "ETHUSDT", StartPrice: 2000, StepPct: 0.1, Seed: 7, Bus: bus, Intervals: []string{"1m"}}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Step(base)
	m.Step(base.Add(30 * time.Second))
	tick := m.Step(base.Add(61 * time.Second))

	assert.InDelta(t, 2000, tick.Price, 2000*0.003+1e-9)
	cs := m.Candles("1m")
	require.Len(t, cs, 2)
	assert.True(t, cs[0].Closed)
	assert.False(t, cs[1].Closed)
	assert.Equal(t, tick.Price, cs[1].Close)

	b := m.Book()
	assert.Less(t, b.BestBid, b.BestAsk)
	assert.Len(t, b.Bids, 10)
	assert.True(t, m.Healthy())
	assert.Len(t, ticks, 3)
}
