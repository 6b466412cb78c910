package exit

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/internal/events"
	"scalp-core/internal/order"
	"scalp-core/internal/position"
	"scalp-core/internal/timers"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/cache"
	"scalp-core/pkg/exchanges/common"
)

const sym = "BTCUSDT"

type flakyMarket struct {
	*order.PaperExchange
	failures  int
	cancelErr error
}

func (f *flakyMarket) CancelAllOrders(ctx context.Context, symbol string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	return f.PaperExchange.CancelAllOrders(ctx, symbol)
}

func (f *flakyMarket) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64, reduceOnly bool) (common.MarketResult, error) {
	if f.failures > 0 {
		f.failures--
		return common.MarketResult{}, errors.New("timeout")
	}
	return f.PaperExchange.PlaceMarketOrder(ctx, symbol, side, qty, reduceOnly)
}

type harness struct {
	clock  *timers.Manual
	paper  *order.PaperExchange
	ex     *flakyMarket
	log    *tradelog.Log
	m      *Monitor
	closed []position.Result
	alerts []events.Alert
}

func newHarness(t *testing.T, cfg Config, side position.Side, lowFill bool) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		clock: timers.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		paper: order.NewPaperExchange(order.DefaultPaperConfig(), nil),
		log:   tradelog.New(200, nil, nil, nil),
	}
	h.ex = &flakyMarket{PaperExchange: h.paper}
	h.paper.OnPrice(sym, 100)
	_, err := h.paper.PlaceMarketOrder(ctx, sym, side.EntrySide(), 10, false)
	require.NoError(t, err)

	h.m = NewMonitor(cfg, Deps{
		Exchange:  h.ex,
		Prices:    h.paper,
		Scheduler: h.clock,
		TradeLog:  h.log,
		Now:       h.clock.Now,
		OnClosed:  func(r position.Result) { h.closed = append(h.closed, r) },
		OnAlert:   func(a events.Alert) { h.alerts = append(h.alerts, a) },
	})
	prec, err := h.paper.GetSymbolPrecision(ctx, sym)
	require.NoError(t, err)
	h.m.Adopt(&position.Position{
		Generation: 1, Symbol: sym, Side: side, Leverage: 10,
		AvgFillPrice: 100, TotalPlannedQty: 10, FilledQty: 10, OpenQty: 10,
		ActivatedAt: h.clock.Now(), Phase: position.PhaseActive, IsLowFillBreakeven: lowFill,
	}, prec)
	return h
}

// tick moves the paper venue and the monitor to price.
func (h *harness) tick(price float64) {
	h.paper.OnPrice(sym, price)
	h.m.OnPrice(context.Background(), price)
}

func (h *harness) held(t *testing.T) float64 {
	t.Helper()
	list, err := h.paper.GetPositions(context.Background(), sym)
	require.NoError(t, err)
	return common.NetPosition(list, sym).Quantity
}

func (h *harness) openOrders(t *testing.T) []common.OpenOrder {
	t.Helper()
	open, err := h.paper.GetOpenOrders(context.Background(), sym)
	require.NoError(t, err)
	return open
}

func TestAdoptSetsInitialStop(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	assert.InDelta(t, 99.5, h.m.Position().StopLossPrice, 1e-9)

	hs := newHarness(t, DefaultConfig(), position.Short, false)
	assert.InDelta(t, 100.5, hs.m.Position().StopLossPrice, 1e-9)
}

func TestScenarioLowFillBreakevenClosesAsTakeProfit(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, true)

	h.tick(99.85) // -0.15%: still a guaranteed loss
	assert.True(t, h.m.Active())

	h.tick(99.95) // -0.05% >= -0.1%
	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonTakeProfit, h.closed[0].Reason)
	assert.Zero(t, h.held(t))
	assert.False(t, h.m.Active())
}

func TestLowFillSkipsLadder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FeeBufferPct = 0
	h := newHarness(t, cfg, position.Long, true)
	h.tick(100.5)
	require.Len(t, h.closed, 1)
	assert.Empty(t, h.openOrders(t))
	assert.InDelta(t, 10, h.closed[0].ExitQty, 1e-9)
}

func TestStopLoss(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(99.6)
	assert.True(t, h.m.Active())
	h.tick(99.4)

	require.Len(t, h.closed, 1)
	r := h.closed[0]
	assert.Equal(t, position.ReasonStopLoss, r.Reason)
	assert.InDelta(t, -6, r.GrossPnL, 1e-9)
	fees := 10*99.4*0.0005 + 10*100*0.0002
	assert.InDelta(t, fees, r.Fees, 1e-9)
	assert.InDelta(t, -6-fees, r.RealizedPnL, 1e-9)
	assert.Zero(t, h.clock.Pending())
}

func TestScenarioTimeStopBeatsStopLoss(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(99.8) // negative, above the stop

	h.clock.Advance(5 * time.Minute)

	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonTimeout, h.closed[0].Reason)
	assert.Less(t, h.closed[0].GrossPnL, 0.0)
	assert.Equal(t, 5*time.Minute, h.closed[0].HoldTime)
}

func TestTimeStopUsesRestPriceWhenStale(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Short, false)
	h.tick(100.1)
	h.paper.OnPrice(sym, 100.2) // stream went quiet

	h.clock.Advance(5 * time.Minute)
	require.Len(t, h.closed, 1)
	price, _ := h.m.LastPrice()
	assert.InDelta(t, 100.2, price, 1e-9)
	assert.InDelta(t, 100.2, h.closed[0].ExitPrice, 1e-9)
}

func TestScenarioLadderTimeout(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(100.2) // 10 × 0.2 = 2 quote

	p := h.m.Position()
	assert.Equal(t, position.PhaseClosing, p.Phase)
	assert.InDelta(t, 8, p.OpenQty, 1e-9)
	assert.InDelta(t, 8, h.held(t), 1e-9)

	open := h.openOrders(t)
	require.Len(t, open, 4)
	sort.Slice(open, func(i, j int) bool { return open[i].Price < open[j].Price })
	want := []float64{100.25, 100.30, 100.35, 100.40}
	for i, o := range open {
		assert.Equal(t, common.SideSell, o.Side)
		assert.True(t, o.ReduceOnly)
		assert.InDelta(t, 2, o.OrigQty, 1e-9)
		assert.InDelta(t, want[i], o.Price, 1e-9)
	}

	// Guard: a second trigger tick does not re-enter the ladder.
	h.tick(100.21)
	assert.Len(t, h.openOrders(t), 4)
	assert.Len(t, h.paper.Fills(), 2)

	h.clock.Advance(10 * time.Second)
	require.Len(t, h.closed, 1)
	r := h.closed[0]
	assert.Equal(t, position.ReasonTakeProfit, r.Reason)
	assert.InDelta(t, 10, r.ExitQty, 1e-9)
	assert.Zero(t, h.held(t))
	assert.Empty(t, h.openOrders(t))
}

func TestLadderPartialFillsBookedAsMaker(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(100.2)
	h.tick(100.32) // fills 100.25 and 100.30

	h.clock.Advance(10 * time.Second)
	require.Len(t, h.closed, 1)
	r := h.closed[0]
	assert.InDelta(t, 10, r.ExitQty, 1e-9)

	gross := 2*0.2 + 2*0.25 + 2*0.30 + 4*0.32
	assert.InDelta(t, gross, r.GrossPnL, 1e-9)
	fees := 2*100.2*0.0005 + (2*100.25+2*100.30)*0.0002 + 4*100.32*0.0005 + 10*100*0.0002
	assert.InDelta(t, fees, r.Fees, 1e-9)
	assert.Zero(t, h.held(t))
}

func TestLadderExhaustedClosesEarly(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(100.2)
	h.tick(100.45)

	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonTakeProfit, h.closed[0].Reason)
	assert.Zero(t, h.clock.Pending())
}

func TestStopLossDuringLadder(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(100.2)
	h.tick(99.4)

	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonStopLoss, h.closed[0].Reason)
	assert.Empty(t, h.openOrders(t))
	assert.Zero(t, h.held(t))
}

func TestRatchetOnlyTightens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeProfitQuote = 1e9
	h := newHarness(t, cfg, position.Long, false)

	stops := []float64{h.m.Position().StopLossPrice}
	for _, px := range []float64{100.35, 100.2, 100.7, 100.4, 100.31} {
		h.tick(px)
		stops = append(stops, h.m.Position().StopLossPrice)
	}
	for i := 1; i < len(stops); i++ {
		assert.GreaterOrEqual(t, stops[i], stops[i-1])
	}
	assert.InDelta(t, 100.3, stops[len(stops)-1], 1e-9)

	h.tick(100.29)
	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonStopLoss, h.closed[0].Reason)
	assert.Greater(t, h.closed[0].GrossPnL, 0.0)
}

func TestExitRetriesOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.ex.failures = 1
	h.tick(99.4)

	require.Len(t, h.closed, 1)
	assert.Empty(t, h.alerts)
}

func TestExitFailureEscalatesAndRetriesNextTick(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.ex.failures = 2
	h.tick(99.4)

	assert.Empty(t, h.closed)
	require.Len(t, h.alerts, 1)
	assert.Equal(t, "fatal", h.alerts[0].Severity)
	assert.Equal(t, position.PhaseActive, h.m.Position().Phase)
	assert.NotEmpty(t, h.m.LastError())
	assert.InDelta(t, 10, h.held(t), 1e-9)

	var fatal int
	for _, e := range h.log.Recent(0) {
		if e.Kind == tradelog.KindFatal {
			fatal++
		}
	}
	assert.Equal(t, 1, fatal)

	h.tick(99.3)
	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonStopLoss, h.closed[0].Reason)
	assert.Empty(t, h.m.LastError())
}

func TestManualClose(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Short, false)
	h.tick(99.9)
	require.NoError(t, h.m.ManualClose(context.Background()))
	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonManual, h.closed[0].Reason)
	assert.InDelta(t, 1, h.closed[0].GrossPnL, 1e-9)

	assert.ErrorIs(t, h.m.ManualClose(context.Background()), ErrNoPosition)
}

func TestSettledExternally(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	_, err := h.paper.PlaceMarketOrder(context.Background(), sym, common.SideSell, 10, true)
	require.NoError(t, err)

	h.m.Settled(context.Background(), 101)
	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonExternal, h.closed[0].Reason)
	assert.InDelta(t, 10, h.closed[0].GrossPnL, 1e-9)
	assert.Zero(t, h.clock.Pending())
}

func TestSettledDuringLadderLogsCancelFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(100.2)
	require.Equal(t, position.PhaseClosing, h.m.Position().Phase)
	_, err := h.paper.PlaceMarketOrder(context.Background(), sym, common.SideSell, 8, true)
	require.NoError(t, err)

	h.ex.cancelErr = errors.New("service unavailable")
	h.m.Settled(context.Background(), 100.2)

	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonExternal, h.closed[0].Reason)
	var msgs []string
	for _, e := range h.log.Recent(0) {
		if e.Kind == tradelog.KindError {
			msgs = append(msgs, e.Message)
		}
	}
	assert.Contains(t, msgs, "cancel after settlement failed")
}

func TestCurrentPricePrefersFreshCache(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Short, false)
	prices := cache.NewPriceCache()
	prices.SetClock(h.clock.Now)
	h.m.deps.Cache = prices
	h.tick(100.1)
	h.paper.OnPrice(sym, 100.2) // REST would answer this

	h.clock.Advance(5*time.Minute - 2*time.Second)
	prices.Set(sym, 100.15)
	h.clock.Advance(2 * time.Second)

	require.Len(t, h.closed, 1)
	assert.Equal(t, position.ReasonTimeout, h.closed[0].Reason)
	price, _ := h.m.LastPrice()
	assert.InDelta(t, 100.15, price, 1e-9)
}

func TestStaleTimersAreNoOps(t *testing.T) {
	h := newHarness(t, DefaultConfig(), position.Long, false)
	h.tick(99.4)
	require.Len(t, h.closed, 1)

	h.m.onHoldTimeout(context.Background(), 1)
	h.m.onLadderTimeout(context.Background(), 1)
	assert.Len(t, h.closed, 1)
}
