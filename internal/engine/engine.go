package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/entry"
	"scalp-core/internal/events"
	"scalp-core/internal/exit"
	"scalp-core/internal/journal"
	"scalp-core/internal/market"
	"scalp-core/internal/position"
	"scalp-core/internal/risk"
	"scalp-core/internal/state"
	"scalp-core/internal/timers"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/db"
	"scalp-core/pkg/exchanges/common"
)

const snapshotLogs = 50

// Engine is the single owner of one account's trading state. Ticks, timer
// callbacks and commands all run under one lock; the processing flag is set
// while that lock is held so a tick arriving meanwhile is dropped instead
// of queued behind an exchange round trip.
type Engine struct {
	settings Settings
	deps     Deps
	log      *zap.Logger
	metrics  Metrics

	mu         sync.Mutex
	processing atomic.Bool
	dropped    atomic.Uint64

	enabled      bool
	pending      *PendingSignal
	gen          uint64
	prec         common.SymbolPrecision
	lastPrice    float64
	lastTickAt   time.Time
	lastErr      string
	entryBlocked string

	entry *entry.Controller
	exit  *exit.Monitor

	snap atomic.Pointer[Snapshot]
}

// lockGuard lets timer callbacks take the engine lock with the processing
// flag raised, and republishes the snapshot when they are done.
type lockGuard struct{ e *Engine }

func (g lockGuard) Lock() { g.e.lock() }

func (g lockGuard) Unlock() {
	g.e.publishLocked()
	g.e.unlock()
}

// New wires an engine. It starts disabled; call SetEnabled or Toggle.
func New(settings Settings, deps Deps) (*Engine, error) {
	if deps.Exchange == nil {
		return nil, fmt.Errorf("engine: exchange is required")
	}
	if settings.Symbol == "" {
		return nil, fmt.Errorf("engine: symbol is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Scheduler == nil {
		deps.Scheduler = timers.Real{}
	}
	if deps.Balance == nil {
		deps.Balance = deps.Exchange
	}
	if deps.Prices == nil {
		if ps, ok := deps.Exchange.(common.PriceSource); ok {
			deps.Prices = ps
		}
	}
	if deps.TradeLog == nil {
		deps.TradeLog = tradelog.New(500, deps.Bus, nil, deps.Logger)
	}
	if deps.Risk == nil {
		deps.Risk = risk.NewInMemory(settings.Risk)
		deps.Risk.SetClock(deps.Now)
	}
	if deps.Journal == nil {
		deps.Journal = journal.New(nil, settings.Preset, deps.Logger)
	}
	if deps.State == nil {
		deps.State = state.NewManager(nil, deps.Logger)
	}
	if settings.StaleAfter <= 0 {
		settings.StaleAfter = 5 * time.Second
	}

	e := &Engine{
		settings: settings,
		deps:     deps,
		log:      deps.Logger,
		metrics:  deps.Metrics,
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}

	sched := timers.Guarded(deps.Scheduler, lockGuard{e})
	e.entry = entry.NewController(settings.Entry, entry.Deps{
		Exchange:    deps.Exchange,
		Scheduler:   sched,
		TradeLog:    deps.TradeLog,
		Logger:      deps.Logger.Named("entry"),
		Now:         deps.Now,
		OnActivated: e.onActivated,
		OnAborted:   e.onAborted,
	})
	e.exit = exit.NewMonitor(settings.Exit, exit.Deps{
		Exchange:  deps.Exchange,
		Cache:     deps.Cache,
		Prices:    deps.Prices,
		Scheduler: sched,
		TradeLog:  deps.TradeLog,
		Logger:    deps.Logger.Named("exit"),
		Now:       deps.Now,
		OnClosed:  e.onClosed,
		OnAlert:   e.onAlert,
	})
	e.publishLocked()
	return e, nil
}

func (e *Engine) lock() {
	e.mu.Lock()
	e.processing.Store(true)
}

func (e *Engine) unlock() {
	e.processing.Store(false)
	e.mu.Unlock()
}

func (e *Engine) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	d := 3 * e.settings.Exit.OpTimeout
	if d <= 0 {
		d = 15 * time.Second
	}
	return context.WithTimeout(parent, d)
}

// Run consumes price ticks from the bus until ctx is done. While a position
// is active and ticks stop, it prices the position over REST.
func (e *Engine) Run(ctx context.Context) error {
	if e.deps.Bus == nil {
		return fmt.Errorf("engine: bus is required to run")
	}
	ticks, unsub := e.deps.Bus.Subscribe(events.EventPriceTick, 256)
	defer unsub()

	watchdog := time.NewTicker(time.Second)
	defer watchdog.Stop()

	e.log.Info("engine running", zap.String("symbol", e.settings.Symbol), zap.String("preset", e.settings.Preset))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ticks:
			if !ok {
				return nil
			}
			if t, ok := msg.(market.Tick); ok {
				opCtx, cancel := e.opContext(ctx)
				e.OnTick(opCtx, t)
				cancel()
			}
		case <-watchdog.C:
			opCtx, cancel := e.opContext(ctx)
			e.CheckStale(opCtx)
			cancel()
		}
	}
}

// OnTick processes one price tick. A tick arriving while the engine is
// busy is dropped.
func (e *Engine) OnTick(ctx context.Context, t market.Tick) {
	if t.Symbol != e.settings.Symbol || t.Price <= 0 {
		return
	}
	if e.deps.TickObserver != nil {
		e.deps.TickObserver(t.Symbol, t.Price)
	}
	if e.processing.Load() {
		e.dropped.Add(1)
		e.metrics.TickDropped()
		return
	}
	e.lock()
	defer e.unlock()
	e.handlePriceLocked(ctx, t.Price)
	e.publishLocked()
}

// CheckStale prices an active position when the engine has seen no tick
// for longer than StaleAfter: from the stream cache when it holds a fresh
// price (ticks dropped while busy), otherwise over REST.
func (e *Engine) CheckStale(ctx context.Context) {
	if e.processing.Load() || (e.deps.Prices == nil && e.deps.Cache == nil) {
		return
	}
	e.lock()
	defer e.unlock()
	if !e.exit.Active() || e.deps.Now().Sub(e.lastTickAt) < e.settings.StaleAfter {
		return
	}
	if e.deps.Cache != nil {
		if price, ok := e.deps.Cache.Fresh(e.settings.Symbol, e.settings.StaleAfter); ok {
			e.log.Debug("stale ticks, priced from cache", zap.Float64("price", price))
			e.handlePriceLocked(ctx, price)
			e.publishLocked()
			return
		}
	}
	if e.deps.Prices == nil {
		return
	}
	price, err := e.deps.Prices.TickerPrice(ctx, e.settings.Symbol)
	if err != nil {
		e.log.Warn("stale feed, rest price failed", zap.Error(err))
		return
	}
	e.log.Debug("stale feed, priced over rest", zap.Float64("price", price))
	e.handlePriceLocked(ctx, price)
	e.publishLocked()
}

func (e *Engine) handlePriceLocked(ctx context.Context, price float64) {
	now := e.deps.Now()
	e.lastPrice = price
	e.lastTickAt = now

	switch {
	case e.exit.Active():
		e.exit.OnPrice(ctx, price)
		if e.exit.Active() {
			e.checkpointLocked(ctx)
		}
	case e.entry.State() != entry.StateIdle:
		// Waiting for fills: no TP/SL and no new signals.
	default:
		e.evaluateLocked(ctx, price, now)
	}
}

// Toggle flips the enabled flag and returns the new value.
func (e *Engine) Toggle(ctx context.Context) (bool, error) {
	e.lock()
	defer e.unlock()
	e.setEnabledLocked(ctx, !e.enabled)
	e.publishLocked()
	return e.enabled, nil
}

// SetEnabled enables or disables signal processing. Disabling cancels the
// pending signal and any entry still waiting for fills; an active position
// keeps being monitored until it closes.
func (e *Engine) SetEnabled(ctx context.Context, on bool) {
	e.lock()
	defer e.unlock()
	e.setEnabledLocked(ctx, on)
	e.publishLocked()
}

func (e *Engine) setEnabledLocked(ctx context.Context, on bool) {
	if e.enabled == on {
		return
	}
	e.enabled = on
	if on {
		e.deps.TradeLog.Add(tradelog.KindInfo, e.settings.Symbol, "engine enabled", map[string]any{"preset": e.settings.Preset})
		return
	}
	e.deps.TradeLog.Add(tradelog.KindInfo, e.settings.Symbol, "engine disabled", nil)
	if e.pending != nil {
		e.dropPendingLocked("engine disabled")
	}
	if e.entry.State() != entry.StateIdle {
		e.entry.Cancel(ctx, "engine disabled")
	}
}

// ManualClose closes the active position at market.
func (e *Engine) ManualClose(ctx context.Context) error {
	e.lock()
	defer e.unlock()
	defer e.publishLocked()
	if !e.exit.Active() {
		return ErrNoPosition
	}
	if err := e.exit.ManualClose(ctx); err != nil {
		e.lastErr = err.Error()
		return err
	}
	return nil
}

// CancelPendingEntry stops an entry that is still waiting for fills. Any
// filled quantity becomes a low-fill breakeven position.
func (e *Engine) CancelPendingEntry(ctx context.Context) error {
	e.lock()
	defer e.unlock()
	defer e.publishLocked()
	if e.entry.State() == entry.StateIdle {
		return ErrNoPendingEntry
	}
	e.entry.Cancel(ctx, "manual cancel")
	return nil
}

// SkipPendingSignal discards the pending signal.
func (e *Engine) SkipPendingSignal(_ context.Context) error {
	e.lock()
	defer e.unlock()
	defer e.publishLocked()
	if e.pending == nil {
		return ErrNoPendingSignal
	}
	e.dropPendingLocked("skipped")
	return nil
}

// Snapshot returns the last published state without taking the engine lock.
func (e *Engine) Snapshot() Snapshot {
	if s := e.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Stats returns today's risk statistics.
func (e *Engine) Stats() risk.DailyStats { return e.deps.Risk.Stats() }

// Logs returns the newest n trade log entries, oldest first.
func (e *Engine) Logs(n int) []tradelog.Entry { return e.deps.TradeLog.Recent(n) }

// RecentTrades returns journaled trades, newest first.
func (e *Engine) RecentTrades(ctx context.Context, limit int) ([]db.Trade, error) {
	return e.deps.Journal.Recent(ctx, limit)
}

// Dropped counts ticks dropped while the engine was busy.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// Settings returns the policy the engine was built with.
func (e *Engine) Settings() Settings { return e.settings }

// onActivated runs under the engine lock, called by the entry controller.
func (e *Engine) onActivated(p *position.Position, prec common.SymbolPrecision) {
	e.prec = prec
	e.exit.Adopt(p, prec)
	outcome := "filled"
	if p.IsLowFillBreakeven {
		outcome = "low_fill"
	}
	e.metrics.EntryOutcome(outcome)
	e.metrics.PositionOpen(true)
	e.checkpointLocked(context.Background())
	e.deps.Bus.Publish(events.EventPositionChange, p.Clone())
}

func (e *Engine) onAborted(p *position.Position, reason string) {
	e.metrics.EntryOutcome("aborted")
	e.deps.Bus.Publish(events.EventPositionChange, p.Clone())
}

// onClosed books a closed position: daily stats, journal, checkpoint.
func (e *Engine) onClosed(res position.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := e.deps.Risk.Record(ctx, risk.TradeResult{
		Symbol:   res.Position.Symbol,
		PnL:      res.RealizedPnL,
		Fee:      res.Fees,
		ClosedAt: res.ClosedAt,
	}); err != nil {
		e.log.Error("record daily stats failed", zap.Error(err))
	}
	if _, err := e.deps.Journal.Record(ctx, res); err != nil {
		e.log.Error("journal trade failed", zap.Error(err))
	}
	if err := e.deps.State.Clear(ctx, res.Position.Symbol); err != nil {
		e.log.Warn("clear checkpoint failed", zap.Error(err))
	}
	e.entry.TouchCooldown(res.ClosedAt)

	e.metrics.TradeClosed(string(res.Reason), res.RealizedPnL)
	e.metrics.PositionOpen(false)
	e.metrics.DailyPnL(e.deps.Risk.Stats().TotalPnL)
	e.deps.Bus.Publish(events.EventTradeCompleted, res)
	e.deps.Bus.Publish(events.EventPositionChange, res.Position.Clone())
}

func (e *Engine) onAlert(a events.Alert) {
	e.lastErr = a.Message
	e.log.Error("exit alert", zap.String("severity", a.Severity), zap.String("message", a.Message))
	e.deps.Bus.Publish(events.EventRiskAlert, a)
}

func (e *Engine) checkpointLocked(ctx context.Context) {
	if err := e.deps.State.Save(ctx, e.exit.Position()); err != nil {
		e.log.Warn("checkpoint failed", zap.Error(err))
	}
}

// publishLocked rebuilds the snapshot and announces it.
func (e *Engine) publishLocked() {
	now := e.deps.Now()
	s := &Snapshot{
		Enabled:      e.enabled,
		Symbol:       e.settings.Symbol,
		Preset:       e.settings.Preset,
		FeedHealthy:  e.feedHealthy(),
		Price:        e.lastPrice,
		PriceAt:      e.lastTickAt,
		EntryState:   e.entry.State(),
		Stats:        e.deps.Risk.Stats(),
		EntryBlocked: e.entryBlocked,
		LastError:    e.lastErr,
		DroppedTicks: e.dropped.Load(),
		Logs:         e.deps.TradeLog.Recent(snapshotLogs),
		UpdatedAt:    now,
	}
	if e.pending != nil {
		p := *e.pending
		s.Pending = &p
	}
	if p := e.exit.Position(); p != nil {
		s.Position = e.view(p, now)
		if msg := e.exit.LastError(); msg != "" {
			s.LastError = msg
		}
	} else if p := e.entry.Position(); p != nil {
		s.Position = e.view(p, now)
	}
	e.snap.Store(s)
	e.deps.Bus.Publish(events.EventEngineState, *s)
}

func (e *Engine) view(p *position.Position, now time.Time) *PositionView {
	v := &PositionView{
		Generation:       p.Generation,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Phase:            string(p.Phase),
		Leverage:         p.Leverage,
		PlannedQty:       p.TotalPlannedQty,
		FilledQty:        p.FilledQty,
		OpenQty:          p.OpenQty,
		FillRatio:        p.FillRatio(),
		AvgPrice:         p.AvgFillPrice,
		StopLoss:         p.StopLossPrice,
		LowFill:          p.IsLowFillBreakeven,
		EntryOrders:      len(p.Entries),
		TakeProfitOrders: len(p.TakeProfitOrders),
		StartedAt:        p.StartTime,
		ActivatedAt:      p.ActivatedAt,
	}
	if !p.ActivatedAt.IsZero() {
		v.HoldTime = now.Sub(p.ActivatedAt).Truncate(time.Second).String()
		if e.lastPrice > 0 {
			v.UnrealizedPnL = p.PnLQuote(e.lastPrice)
			v.PnLPct = p.PnLPct(e.lastPrice)
		}
	}
	return v
}

func (e *Engine) feedHealthy() bool {
	if e.deps.Market == nil {
		return true
	}
	return e.deps.Market.Healthy()
}
