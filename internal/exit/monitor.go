// Package exit watches an active position and closes it: low-fill
// breakeven, stop-loss, time-stop, then take-profit through a partial
// market close and a reduce-only limit ladder.
package exit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/internal/order"
	"scalp-core/internal/position"
	"scalp-core/internal/risk"
	"scalp-core/internal/sizing"
	"scalp-core/internal/timers"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/exchanges/common"
)

// ErrNoPosition is returned by commands when nothing is being monitored.
var ErrNoPosition = errors.New("no position")

// Config holds the exit policy.
type Config struct {
	StopLossPct float64 // initial stop distance from entry, percent of price
	Ratchet     risk.Ratchet
	MaxHold     time.Duration

	TakeProfitQuote  float64 // unrealized PnL in quote currency that starts the exit
	PartialFraction  float64 // share closed at market when TP triggers
	LadderCount      int
	LadderFirstPct   float64 // first ladder target, percent beyond trigger price
	LadderSpacingPct float64
	LadderTimeout    time.Duration

	FeeBufferPct float64 // low-fill breakeven closes once PnL% >= -FeeBufferPct
	Fees         position.Fees

	Parallel   int
	StaleAfter time.Duration // last price older than this is refreshed over REST
	OpTimeout  time.Duration
}

// DefaultConfig returns the scalp defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPct: 0.5,
		Ratchet: risk.NewRatchet([]risk.Step{
			{TriggerPct: 0.3, LockPct: 0.05},
			{TriggerPct: 0.6, LockPct: 0.3},
			{TriggerPct: 1.0, LockPct: 0.6},
		}),
		MaxHold:          5 * time.Minute,
		TakeProfitQuote:  2,
		PartialFraction:  0.2,
		LadderCount:      4,
		LadderFirstPct:   0.05,
		LadderSpacingPct: 0.05,
		LadderTimeout:    10 * time.Second,
		FeeBufferPct:     0.1,
		Fees:             position.Fees{Maker: 0.0002, Taker: 0.0005},
		Parallel:         4,
		StaleAfter:       5 * time.Second,
		OpTimeout:        5 * time.Second,
	}
}

// Deps are the monitor collaborators.
type Deps struct {
	Exchange common.Exchange
	// Cache is consulted first when the monitor's last price is stale, then
	// Prices over REST. Both optional.
	Cache     common.LastPrices
	Prices    common.PriceSource
	Scheduler timers.Scheduler
	TradeLog  *tradelog.Log
	Logger    *zap.Logger
	Now       func() time.Time

	OnClosed func(res position.Result)
	OnAlert  func(a events.Alert)
}

// Monitor is not safe for concurrent use; the engine serializes every call
// and every timer callback.
type Monitor struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	pos         *position.Position
	prec        common.SymbolPrecision
	exits       []position.Fill
	lastPrice   float64
	lastPriceAt time.Time
	lastErr     string

	ladderTimer *timers.Timer
	holdTimer   *timers.Timer
}

func NewMonitor(cfg Config, deps Deps) *Monitor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Scheduler == nil {
		deps.Scheduler = timers.Real{}
	}
	if deps.TradeLog == nil {
		deps.TradeLog = tradelog.New(100, nil, nil, deps.Logger)
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if cfg.LadderCount < 1 {
		cfg.LadderCount = 1
	}
	return &Monitor{
		cfg:         cfg,
		deps:        deps,
		log:         deps.Logger,
		ladderTimer: timers.New("tp-ladder", deps.Scheduler),
		holdTimer:   timers.New("time-stop", deps.Scheduler),
	}
}

// Active reports whether a position is being monitored.
func (m *Monitor) Active() bool { return m.pos != nil }

// Position returns a copy of the monitored position.
func (m *Monitor) Position() *position.Position { return m.pos.Clone() }

// LastPrice returns the last price seen and when.
func (m *Monitor) LastPrice() (float64, time.Time) { return m.lastPrice, m.lastPriceAt }

// LastError is the last exit-path failure, cleared on close.
func (m *Monitor) LastError() string { return m.lastErr }

// Config returns the exit policy.
func (m *Monitor) Config() Config { return m.cfg }

// Adopt starts monitoring an active position. The initial stop is set here
// unless the position already carries one (restart recovery).
func (m *Monitor) Adopt(p *position.Position, prec common.SymbolPrecision) {
	m.stopTimers()
	m.pos = p
	m.prec = prec
	m.exits = nil
	m.lastErr = ""
	p.Phase = position.PhaseActive
	if p.StopLossPrice <= 0 {
		p.StopLossPrice = sizing.RoundPrice(risk.InitialStop(p.AvgFillPrice, p.Side.Sign(), m.cfg.StopLossPct), prec.TickSize)
	}
	m.deps.TradeLog.Add(tradelog.KindStop, p.Symbol, "stop-loss set", map[string]any{
		"stop": p.StopLossPrice, "avg_price": p.AvgFillPrice, "max_hold": m.cfg.MaxHold.String(),
	})
	m.armHoldTimer()
}

// OnPrice evaluates the exit rules for one tick.
func (m *Monitor) OnPrice(ctx context.Context, price float64) {
	if m.pos == nil || price <= 0 {
		return
	}
	m.lastPrice = price
	m.lastPriceAt = m.deps.Now()
	p := m.pos

	m.ratchet(price)

	switch p.Phase {
	case position.PhaseActive:
		pnlPct := p.PnLPct(price)
		switch {
		case p.IsLowFillBreakeven && pnlPct >= -m.cfg.FeeBufferPct:
			m.deps.TradeLog.Add(tradelog.KindExit, p.Symbol, "low-fill breakeven reached", map[string]any{"pnl_pct": round4(pnlPct)})
			m.closeAll(ctx, position.ReasonTakeProfit, price)
		case p.StopCrossed(price):
			m.deps.TradeLog.Add(tradelog.KindExit, p.Symbol, "stop-loss hit", map[string]any{"price": price, "stop": p.StopLossPrice})
			m.closeAll(ctx, position.ReasonStopLoss, price)
		case m.holdExpired():
			m.deps.TradeLog.Add(tradelog.KindExit, p.Symbol, "max hold reached", map[string]any{"pnl_pct": round4(pnlPct)})
			m.closeAll(ctx, position.ReasonTimeout, price)
		case !p.IsLowFillBreakeven && p.PnLQuote(price) >= m.cfg.TakeProfitQuote:
			m.startLadder(ctx, price)
		}
	case position.PhaseClosing:
		if p.StopCrossed(price) {
			m.deps.TradeLog.Add(tradelog.KindExit, p.Symbol, "stop-loss hit during ladder", map[string]any{"price": price, "stop": p.StopLossPrice})
			m.ladderTimer.Stop()
			m.collectLadder(ctx)
			m.closeAll(ctx, position.ReasonStopLoss, price)
			return
		}
		if m.ladderExhausted(price) {
			m.ladderTimer.Stop()
			m.collectLadder(ctx)
			m.closeAll(ctx, position.ReasonTakeProfit, price)
		}
	}
}

// ManualClose closes the position at market with reason manual.
func (m *Monitor) ManualClose(ctx context.Context) error {
	if m.pos == nil {
		return ErrNoPosition
	}
	m.deps.TradeLog.Add(tradelog.KindExit, m.pos.Symbol, "manual close requested", nil)
	if m.pos.Phase == position.PhaseClosing {
		m.ladderTimer.Stop()
		m.collectLadder(ctx)
	}
	price := m.currentPrice(ctx)
	if !m.closeAll(ctx, position.ReasonManual, price) {
		return fmt.Errorf("manual close failed: %s", m.lastErr)
	}
	return nil
}

// Settled finalizes a position that went flat on the exchange without the
// monitor closing it.
func (m *Monitor) Settled(ctx context.Context, exitPrice float64) {
	if m.pos == nil {
		return
	}
	if m.pos.Phase == position.PhaseClosing {
		m.ladderTimer.Stop()
		m.collectLadder(ctx)
		if err := m.deps.Exchange.CancelAllOrders(ctx, m.pos.Symbol); err != nil {
			m.deps.TradeLog.Add(tradelog.KindError, m.pos.Symbol, "cancel after settlement failed", map[string]any{"error": err.Error()})
		}
	}
	if exitPrice <= 0 {
		exitPrice = m.currentPrice(ctx)
	}
	m.deps.TradeLog.Add(tradelog.KindExit, m.pos.Symbol, "position settled outside the engine", map[string]any{"price": exitPrice})
	m.finalize(position.ReasonExternal, exitPrice)
}

// ratchet tracks peak PnL% and tightens the stop through the ratchet steps.
func (m *Monitor) ratchet(price float64) {
	p := m.pos
	if pct := p.PnLPct(price); pct > p.PeakPnLPct {
		p.PeakPnLPct = pct
	}
	next := m.cfg.Ratchet.StopPrice(p.AvgFillPrice, p.Side.Sign(), p.PeakPnLPct, p.StopLossPrice)
	next = sizing.RoundPrice(next, m.prec.TickSize)
	if next != p.StopLossPrice && risk.Tighter(next, p.StopLossPrice, p.Side.Sign()) {
		m.deps.TradeLog.Add(tradelog.KindStop, p.Symbol, "stop-loss tightened", map[string]any{
			"from": p.StopLossPrice, "to": next, "peak_pnl_pct": round4(p.PeakPnLPct),
		})
		p.StopLossPrice = next
	}
}

func (m *Monitor) holdExpired() bool {
	return m.cfg.MaxHold > 0 && m.deps.Now().Sub(m.pos.ActivatedAt) >= m.cfg.MaxHold
}

// startLadder market-closes the partial fraction and rests the remainder as
// reduce-only limits at increasing profit targets.
func (m *Monitor) startLadder(ctx context.Context, price float64) {
	p := m.pos
	p.Phase = position.PhaseClosing
	m.deps.TradeLog.Add(tradelog.KindExit, p.Symbol, "take-profit triggered", map[string]any{
		"price": price, "pnl_quote": round4(p.PnLQuote(price)),
	})

	partial := sizing.RoundQty(p.OpenQty*m.cfg.PartialFraction, m.prec.StepSize)
	if partial > 0 && partial < p.OpenQty {
		res, err := m.marketClose(ctx, partial)
		if err != nil {
			m.fail(ctx, "partial take-profit close failed", err)
			return
		}
		m.recordMarket(res, price)
	}

	remaining := p.OpenQty
	if remaining <= 0 {
		m.confirmClose(ctx, position.ReasonTakeProfit, price)
		return
	}
	targets := sizing.TargetPrices(price, p.Side.EntrySide(), m.cfg.LadderCount, m.cfg.LadderFirstPct, m.cfg.LadderSpacingPct, m.prec.TickSize)
	clips, err := sizing.Split(remaining, m.cfg.LadderCount, sizing.LowestPrice(targets), m.prec)
	if err != nil {
		clips = []float64{remaining}
	}
	targets = targets[:len(clips)]
	reqs := make([]order.LimitRequest, len(clips))
	for i := range clips {
		reqs[i] = order.LimitRequest{
			Symbol:     p.Symbol,
			Side:       p.Side.ExitSide(),
			Qty:        clips[i],
			Price:      targets[i],
			ReduceOnly: true,
			Purpose:    order.PurposeTakeProfit,
		}
	}
	placements := order.PlaceLimits(ctx, m.deps.Exchange, reqs, m.cfg.Parallel, m.deps.Now())
	for i, pl := range placements {
		if pl.Err != nil {
			m.deps.TradeLog.Add(tradelog.KindError, p.Symbol, "ladder order rejected", map[string]any{
				"clip": i, "price": pl.Request.Price, "error": pl.Err.Error(),
			})
		}
	}
	p.TakeProfitOrders = order.Accepted(placements)
	if len(p.TakeProfitOrders) == 0 {
		m.closeAll(ctx, position.ReasonTakeProfit, price)
		return
	}

	m.deps.TradeLog.Add(tradelog.KindExit, p.Symbol, "take-profit ladder placed", map[string]any{
		"orders": len(p.TakeProfitOrders), "remaining": remaining, "targets": targets,
	})
	gen := p.Generation
	m.ladderTimer.Reset(m.cfg.LadderTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*m.cfg.OpTimeout)
		defer cancel()
		m.onLadderTimeout(ctx, gen)
	})
}

func (m *Monitor) onLadderTimeout(ctx context.Context, gen uint64) {
	if m.pos == nil || m.pos.Generation != gen || m.pos.Phase != position.PhaseClosing {
		return
	}
	m.deps.TradeLog.Add(tradelog.KindExit, m.pos.Symbol, "ladder timeout, closing remainder", nil)
	m.collectLadder(ctx)
	m.closeAll(ctx, position.ReasonTakeProfit, m.currentPrice(ctx))
}

// ladderExhausted reports whether price traded through the farthest target.
func (m *Monitor) ladderExhausted(price float64) bool {
	var far float64
	for _, o := range m.pos.TakeProfitOrders {
		if far == 0 || (m.pos.Side == position.Long && o.Price > far) || (m.pos.Side == position.Short && o.Price < far) {
			far = o.Price
		}
	}
	if far == 0 {
		return false
	}
	if m.pos.Side == position.Long {
		return price > far
	}
	return price < far
}

// collectLadder syncs ladder fills, cancels the rest and books the fills.
func (m *Monitor) collectLadder(ctx context.Context) {
	p := m.pos
	if len(p.TakeProfitOrders) == 0 {
		return
	}
	before := make([]float64, len(p.TakeProfitOrders))
	for i, o := range p.TakeProfitOrders {
		before[i] = o.FilledQty
	}
	if open, err := m.deps.Exchange.GetOpenOrders(ctx, p.Symbol); err == nil {
		order.SyncFromBook(p.TakeProfitOrders, open)
	} else {
		m.log.Warn("ladder sync failed", zap.String("symbol", p.Symbol), zap.Error(err))
	}
	if err := m.deps.Exchange.CancelAllOrders(ctx, p.Symbol); err != nil {
		m.deps.TradeLog.Add(tradelog.KindError, p.Symbol, "ladder cancel failed", map[string]any{"error": err.Error()})
	}
	for i := range p.TakeProfitOrders {
		o := &p.TakeProfitOrders[i]
		if d := o.FilledQty - before[i]; d > 0 {
			m.exits = append(m.exits, position.Fill{Qty: d, Price: o.Price, Maker: true})
			p.OpenQty = math.Max(0, p.OpenQty-d)
		}
		o.MarkCanceled()
	}
}

// closeAll market-closes whatever is open and confirms flat. It returns
// false when the close failed and the position went back to active.
func (m *Monitor) closeAll(ctx context.Context, reason position.Reason, price float64) bool {
	p := m.pos
	p.Phase = position.PhaseClosing
	if p.OpenQty > 0 {
		res, err := m.marketClose(ctx, p.OpenQty)
		if err != nil {
			if m.flatOnExchange(ctx) {
				m.finalize(reason, price)
				return true
			}
			m.fail(ctx, "market close failed", err)
			return false
		}
		m.recordMarket(res, price)
	}
	return m.confirmClose(ctx, reason, price)
}

// confirmClose queries the exchange; one market retry covers a residual.
func (m *Monitor) confirmClose(ctx context.Context, reason position.Reason, price float64) bool {
	p := m.pos
	for attempt := 0; attempt < 2; attempt++ {
		held, err := m.heldQty(ctx)
		if err != nil {
			m.fail(ctx, "close confirmation failed", err)
			return false
		}
		if held < m.dust() {
			m.finalize(reason, price)
			return true
		}
		p.OpenQty = held
		if attempt == 1 {
			break
		}
		m.deps.TradeLog.Add(tradelog.KindError, p.Symbol, "residual position after close", map[string]any{"qty": held})
		res, err := m.marketClose(ctx, held)
		if err != nil {
			m.fail(ctx, "residual close failed", err)
			return false
		}
		m.recordMarket(res, price)
	}
	m.fail(ctx, "position still open after close", fmt.Errorf("residual %v", p.OpenQty))
	return false
}

// marketClose places a reduce-only market order, retrying once.
func (m *Monitor) marketClose(ctx context.Context, qty float64) (common.MarketResult, error) {
	p := m.pos
	res, err := m.deps.Exchange.PlaceMarketOrder(ctx, p.Symbol, p.Side.ExitSide(), qty, true)
	if err == nil {
		return res, nil
	}
	m.deps.TradeLog.Add(tradelog.KindError, p.Symbol, "market close failed, retrying", map[string]any{"qty": qty, "error": err.Error()})
	return m.deps.Exchange.PlaceMarketOrder(ctx, p.Symbol, p.Side.ExitSide(), qty, true)
}

func (m *Monitor) recordMarket(res common.MarketResult, fallback float64) {
	if res.ExecutedQty <= 0 {
		return
	}
	price := res.AvgPrice
	if price <= 0 {
		price = fallback
	}
	m.exits = append(m.exits, position.Fill{Qty: res.ExecutedQty, Price: price})
	m.pos.OpenQty = math.Max(0, m.pos.OpenQty-res.ExecutedQty)
}

// fail escalates an exit failure and returns the position to active so the
// next tick retries.
func (m *Monitor) fail(ctx context.Context, msg string, err error) {
	p := m.pos
	m.lastErr = fmt.Sprintf("%s: %v", msg, err)
	m.deps.TradeLog.Add(tradelog.KindFatal, p.Symbol, msg, map[string]any{"error": err.Error(), "open_qty": p.OpenQty})
	if m.deps.OnAlert != nil {
		m.deps.OnAlert(events.Alert{Severity: "fatal", Symbol: p.Symbol, Message: m.lastErr})
	}
	if p.Phase == position.PhaseClosing && len(p.TakeProfitOrders) > 0 {
		m.collectLadder(ctx)
		p.TakeProfitOrders = nil
	}
	m.ladderTimer.Stop()
	p.Phase = position.PhaseActive
}

func (m *Monitor) heldQty(ctx context.Context) (float64, error) {
	list, err := m.deps.Exchange.GetPositions(ctx, m.pos.Symbol)
	if err != nil {
		return 0, fmt.Errorf("query position: %w", err)
	}
	net := common.NetPosition(list, m.pos.Symbol)
	held := net.Quantity * m.pos.Side.Sign()
	if held < 0 {
		// Flipped to the other side: nothing of ours is left.
		return 0, nil
	}
	return held, nil
}

func (m *Monitor) flatOnExchange(ctx context.Context) bool {
	held, err := m.heldQty(ctx)
	return err == nil && held < m.dust()
}

func (m *Monitor) dust() float64 {
	if m.prec.StepSize > 0 {
		return m.prec.StepSize / 2
	}
	return 1e-12
}

// finalize books the close and hands the result over.
func (m *Monitor) finalize(reason position.Reason, price float64) {
	p := m.pos
	m.stopTimers()

	booked := 0.0
	for _, f := range m.exits {
		booked += f.Qty
	}
	if rest := p.FilledQty - booked; rest > m.dust() {
		// Exits not observed by the monitor (external close) are booked at
		// the last known price as taker.
		m.exits = append(m.exits, position.Fill{Qty: rest, Price: price})
	}
	exitPrice, qty, gross, fee := position.Settle(p, m.exits, m.cfg.Fees)

	now := m.deps.Now()
	p.Phase = position.PhaseClosed
	p.OpenQty = 0
	res := position.Result{
		Position:    p,
		Reason:      reason,
		ExitPrice:   exitPrice,
		ExitQty:     qty,
		GrossPnL:    gross,
		Fees:        fee,
		RealizedPnL: gross - fee,
		ClosedAt:    now,
		HoldTime:    now.Sub(p.ActivatedAt),
	}
	m.deps.TradeLog.Add(tradelog.KindExit, p.Symbol, "position closed", map[string]any{
		"reason": string(reason), "exit_price": round4(exitPrice), "qty": qty,
		"gross": round4(gross), "fees": round4(fee), "pnl": round4(res.RealizedPnL),
	})

	m.pos = nil
	m.exits = nil
	m.lastErr = ""
	if m.deps.OnClosed != nil {
		m.deps.OnClosed(res)
	}
}

func (m *Monitor) armHoldTimer() {
	if m.cfg.MaxHold <= 0 {
		return
	}
	gen := m.pos.Generation
	wait := m.cfg.MaxHold - m.deps.Now().Sub(m.pos.ActivatedAt)
	if wait < 0 {
		wait = 0
	}
	m.holdTimer.Reset(wait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*m.cfg.OpTimeout)
		defer cancel()
		m.onHoldTimeout(ctx, gen)
	})
}

// onHoldTimeout closes the position even when ticks have stopped.
func (m *Monitor) onHoldTimeout(ctx context.Context, gen uint64) {
	if m.pos == nil || m.pos.Generation != gen {
		return
	}
	if m.pos.Phase != position.PhaseActive {
		// The ladder owns the exit; check again once it had time to finish.
		m.retryHold(gen)
		return
	}
	price := m.currentPrice(ctx)
	m.deps.TradeLog.Add(tradelog.KindExit, m.pos.Symbol, "max hold reached", map[string]any{"price": price})
	if !m.closeAll(ctx, position.ReasonTimeout, price) {
		m.retryHold(gen)
	}
}

func (m *Monitor) retryHold(gen uint64) {
	m.holdTimer.Reset(m.cfg.OpTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*m.cfg.OpTimeout)
		defer cancel()
		m.onHoldTimeout(ctx, gen)
	})
}

// currentPrice returns the last stream price, refreshed over REST when stale.
func (m *Monitor) currentPrice(ctx context.Context) float64 {
	stale := m.lastPrice <= 0 || (m.cfg.StaleAfter > 0 && m.deps.Now().Sub(m.lastPriceAt) > m.cfg.StaleAfter)
	if stale && m.deps.Cache != nil && m.pos != nil {
		if px, ok := m.deps.Cache.Fresh(m.pos.Symbol, m.cfg.StaleAfter); ok {
			m.lastPrice = px
			m.lastPriceAt = m.deps.Now()
			stale = false
		}
	}
	if stale && m.deps.Prices != nil && m.pos != nil {
		if px, err := m.deps.Prices.TickerPrice(ctx, m.pos.Symbol); err == nil && px > 0 {
			m.lastPrice = px
			m.lastPriceAt = m.deps.Now()
		} else if err != nil {
			m.log.Warn("rest price fallback failed", zap.String("symbol", m.pos.Symbol), zap.Error(err))
		}
	}
	if m.lastPrice <= 0 && m.pos != nil {
		return m.pos.AvgFillPrice
	}
	return m.lastPrice
}

func (m *Monitor) stopTimers() {
	m.ladderTimer.Stop()
	m.holdTimer.Stop()
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
