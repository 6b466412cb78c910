// Package entry drives a position from signal to activation: size, split
// into limit clips, wait for fills, then hand the filled position over or
// abort. The exchange position is the only source of truth for fills.
package entry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/order"
	"scalp-core/internal/position"
	"scalp-core/internal/sizing"
	"scalp-core/internal/timers"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/exchanges/common"
)

// Command errors.
var (
	ErrBusy     = errors.New("entry already in progress")
	ErrCooldown = errors.New("entry cooldown active")
	ErrNoOrders = errors.New("no entry order accepted")
)

// State of the controller.
type State string

const (
	StateIdle     State = "idle"
	StateOrdering State = "ordering"
	StateWaiting  State = "waiting"
)

// Config tunes entry placement and fill waiting.
type Config struct {
	Leverage   int
	Fraction   float64 // share of balance committed, capped by sizing.MaxFraction
	SplitCount int
	// Clip i rests OffsetPct + i*SpacingPct percent from the signal price.
	OffsetPct  float64
	SpacingPct float64

	FillTimeout      time.Duration
	GraceTimeout     time.Duration
	LowFillThreshold float64 // fill ratio below which the position is a low-fill breakeven
	Cooldown         time.Duration
	Parallel         int // concurrent clip submissions
	OpTimeout        time.Duration
}

// DefaultConfig returns the scalp defaults.
func DefaultConfig() Config {
	return Config{
		Leverage:         10,
		Fraction:         0.95,
		SplitCount:       5,
		OffsetPct:        0.02,
		SpacingPct:       0.02,
		FillTimeout:      8 * time.Second,
		GraceTimeout:     4 * time.Second,
		LowFillThreshold: 0.3,
		Cooldown:         30 * time.Second,
		Parallel:         5,
		OpTimeout:        5 * time.Second,
	}
}

// Request asks for a new entry.
type Request struct {
	Symbol     string
	Side       position.Side
	Price      float64
	Balance    float64
	Generation uint64
}

// Deps are the controller collaborators.
type Deps struct {
	Exchange  common.Exchange
	Scheduler timers.Scheduler
	TradeLog  *tradelog.Log
	Logger    *zap.Logger
	Now       func() time.Time

	// OnActivated receives ownership of an active position.
	OnActivated func(p *position.Position, prec common.SymbolPrecision)
	// OnAborted is told about an entry that ended flat.
	OnAborted func(p *position.Position, reason string)
}

// Controller is not safe for concurrent use; the engine serializes every
// call and every timer callback.
type Controller struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	state       State
	pos         *position.Position
	prec        common.SymbolPrecision
	timer       *timers.Timer
	checkSeq    uint64 // stamp of the armed fill check
	graceUsed   bool
	lastAttempt time.Time
}

func NewController(cfg Config, deps Deps) *Controller {
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
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger,
		state: StateIdle,
		timer: timers.New("entry-fill", deps.Scheduler),
	}
}

// State returns the controller phase.
func (c *Controller) State() State { return c.state }

// Position returns a copy of the in-flight entry, nil when idle.
func (c *Controller) Position() *position.Position { return c.pos.Clone() }

// Config returns the active configuration.
func (c *Controller) Config() Config { return c.cfg }

// InCooldown reports whether a new attempt at now would be refused.
func (c *Controller) InCooldown(now time.Time) bool {
	return !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.cfg.Cooldown
}

// TouchCooldown restarts the cooldown window, e.g. after a position closes.
func (c *Controller) TouchCooldown(t time.Time) { c.lastAttempt = t }

// Start sizes and places the entry clips. Sizing failures return a typed
// sizing error and leave the controller idle.
func (c *Controller) Start(ctx context.Context, req Request) error {
	if c.state != StateIdle {
		return ErrBusy
	}
	now := c.deps.Now()
	if c.InCooldown(now) {
		return ErrCooldown
	}

	prec, err := c.deps.Exchange.GetSymbolPrecision(ctx, req.Symbol)
	if err != nil {
		return fmt.Errorf("symbol precision: %w", err)
	}
	qty, err := sizing.Quantity(sizing.Input{
		Balance:  req.Balance,
		Leverage: c.cfg.Leverage,
		Price:    req.Price,
		Fraction: c.cfg.Fraction,
	}, prec)
	if err != nil {
		return err
	}
	levels := sizing.LevelPrices(req.Price, req.Side.EntrySide(), c.cfg.SplitCount, c.cfg.OffsetPct, c.cfg.SpacingPct, prec.TickSize)
	clips, err := sizing.Split(qty, c.cfg.SplitCount, sizing.LowestPrice(levels), prec)
	if err != nil {
		return err
	}
	prices := levels[:len(clips)]

	c.state = StateOrdering
	c.lastAttempt = now
	c.graceUsed = false
	c.prec = prec
	c.pos = &position.Position{
		Generation:      req.Generation,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Leverage:        c.cfg.Leverage,
		TotalPlannedQty: qty,
		StartTime:       now,
		Phase:           position.PhaseOrdering,
	}

	if err := c.deps.Exchange.SetLeverage(ctx, req.Symbol, c.cfg.Leverage); err != nil {
		c.deps.TradeLog.Add(tradelog.KindError, req.Symbol, "set leverage failed", map[string]any{"error": err.Error()})
	}

	reqs := make([]order.LimitRequest, len(clips))
	for i := range clips {
		reqs[i] = order.LimitRequest{
			Symbol:  req.Symbol,
			Side:    req.Side.EntrySide(),
			Qty:     clips[i],
			Price:   prices[i],
			Purpose: order.PurposeEntry,
		}
	}
	placements := order.PlaceLimits(ctx, c.deps.Exchange, reqs, c.cfg.Parallel, now)
	for i, p := range placements {
		if p.Err != nil {
			c.deps.TradeLog.Add(tradelog.KindError, req.Symbol, "entry clip rejected", map[string]any{
				"clip": i, "qty": p.Request.Qty, "price": p.Request.Price, "error": p.Err.Error(),
			})
		}
	}
	c.pos.Entries = order.Accepted(placements)

	if len(c.pos.Entries) == 0 {
		// A clip can fill even though its placement reported an error.
		filled, avg, qerr := c.queryFill(ctx)
		if qerr == nil && filled > 0 {
			c.activate(filled, avg, "filled despite placement errors")
			return nil
		}
		c.deps.TradeLog.Add(tradelog.KindError, req.Symbol, "entry aborted", map[string]any{"reason": "no order accepted"})
		c.abort("no order accepted")
		return ErrNoOrders
	}

	c.state = StateWaiting
	c.pos.Phase = position.PhaseWaiting
	c.deps.TradeLog.Add(tradelog.KindEntry, req.Symbol, "entry orders placed", map[string]any{
		"side": string(req.Side), "planned_qty": qty, "clips": len(c.pos.Entries), "of": len(clips),
		"price": req.Price, "generation": req.Generation,
	})
	c.arm(c.cfg.FillTimeout)
	return nil
}

// CheckSeq returns the stamp of the currently armed fill check.
func (c *Controller) CheckSeq() uint64 { return c.checkSeq }

// CheckFill is the fill-timeout handler for the check stamped seq. A call
// for another generation or an already handled check does nothing, so a
// duplicate firing of the same timeout leaves the state unchanged.
func (c *Controller) CheckFill(ctx context.Context, gen, seq uint64) {
	if c.state != StateWaiting || c.pos == nil || c.pos.Generation != gen || c.checkSeq != seq {
		return
	}
	c.timer.Stop()
	c.checkSeq++
	symbol := c.pos.Symbol

	filled, avg, err := c.queryFill(ctx)
	if err != nil {
		c.deps.TradeLog.Add(tradelog.KindError, symbol, "fill check failed, retrying", map[string]any{"error": err.Error()})
		c.arm(c.cfg.GraceTimeout)
		return
	}
	c.syncEntries(ctx)

	if filled <= 0 {
		c.cancelEntries(ctx)
		// The fill may have raced the cancel.
		filled, avg, err = c.queryFill(ctx)
		if err != nil {
			c.deps.TradeLog.Add(tradelog.KindError, symbol, "post-cancel fill check failed, retrying", map[string]any{"error": err.Error()})
			c.arm(c.cfg.GraceTimeout)
			return
		}
		if filled <= 0 {
			c.deps.TradeLog.Add(tradelog.KindCancel, symbol, "entry canceled", map[string]any{"reason": "no fill"})
			c.abort("no fill")
			return
		}
		c.activate(filled, avg, "filled during cancel")
		return
	}

	ratio := filled / c.pos.TotalPlannedQty
	if ratio < 1 && !c.graceUsed {
		c.graceUsed = true
		c.deps.TradeLog.Add(tradelog.KindFill, symbol, "partial fill, extending wait", map[string]any{
			"filled": filled, "planned": c.pos.TotalPlannedQty, "ratio": round4(ratio),
		})
		c.arm(c.cfg.GraceTimeout)
		return
	}

	c.cancelEntries(ctx)
	if f, a, err := c.queryFill(ctx); err == nil && f > 0 {
		filled, avg = f, a
	}
	c.activate(filled, avg, "fill timeout")
}

// Cancel stops a waiting entry. Anything already filled is activated as a
// low-fill breakeven position instead of being abandoned. Returns true when
// a position was activated.
func (c *Controller) Cancel(ctx context.Context, reason string) bool {
	if c.state == StateIdle || c.pos == nil {
		return false
	}
	c.timer.Stop()
	c.checkSeq++
	c.cancelEntries(ctx)

	filled, avg, err := c.queryFill(ctx)
	if err != nil {
		// Unknown exposure: keep waiting so the next check reconciles it.
		c.deps.TradeLog.Add(tradelog.KindError, c.pos.Symbol, "cancel could not verify fills", map[string]any{"error": err.Error()})
		c.state = StateWaiting
		c.pos.Phase = position.PhaseWaiting
		c.arm(c.cfg.GraceTimeout)
		return false
	}
	if filled > 0 {
		c.activateAs(filled, avg, true, reason)
		return true
	}
	c.deps.TradeLog.Add(tradelog.KindCancel, c.pos.Symbol, "entry canceled", map[string]any{"reason": reason})
	c.abort(reason)
	return false
}

func (c *Controller) arm(d time.Duration) {
	c.checkSeq++
	gen, seq := c.pos.Generation, c.checkSeq
	c.timer.Reset(d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*c.cfg.OpTimeout)
		defer cancel()
		c.CheckFill(ctx, gen, seq)
	})
}

// queryFill returns the exchange-reported quantity held on the entry side
// and its average entry price.
func (c *Controller) queryFill(ctx context.Context) (float64, float64, error) {
	list, err := c.deps.Exchange.GetPositions(ctx, c.pos.Symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("query position: %w", err)
	}
	net := common.NetPosition(list, c.pos.Symbol)
	held := net.Quantity * c.pos.Side.Sign()
	if held <= 0 {
		return 0, 0, nil
	}
	return held, net.EntryPrice, nil
}

func (c *Controller) syncEntries(ctx context.Context) {
	open, err := c.deps.Exchange.GetOpenOrders(ctx, c.pos.Symbol)
	if err != nil {
		c.log.Debug("open orders unavailable", zap.Error(err))
		return
	}
	order.SyncFromBook(c.pos.Entries, open)
}

func (c *Controller) cancelEntries(ctx context.Context) {
	if err := c.deps.Exchange.CancelAllOrders(ctx, c.pos.Symbol); err != nil {
		c.deps.TradeLog.Add(tradelog.KindError, c.pos.Symbol, "cancel entry orders failed", map[string]any{"error": err.Error()})
	}
	for i := range c.pos.Entries {
		c.pos.Entries[i].MarkCanceled()
	}
}

func (c *Controller) activate(filled, avg float64, why string) {
	lowFill := filled/c.pos.TotalPlannedQty < c.cfg.LowFillThreshold
	c.activateAs(filled, avg, lowFill, why)
}

func (c *Controller) activateAs(filled, avg float64, lowFill bool, why string) {
	p := c.pos
	if filled > p.TotalPlannedQty {
		c.log.Warn("exchange reports more than planned",
			zap.String("symbol", p.Symbol), zap.Float64("filled", filled), zap.Float64("planned", p.TotalPlannedQty))
		p.TotalPlannedQty = filled
	}
	if avg <= 0 {
		avg = weightedEntry(p.Entries)
	}
	now := c.deps.Now()
	p.FilledQty = filled
	p.OpenQty = filled
	p.AvgFillPrice = avg
	p.ActivatedAt = now
	p.Phase = position.PhaseActive
	p.IsLowFillBreakeven = lowFill

	c.deps.TradeLog.Add(tradelog.KindActivate, p.Symbol, "position active", map[string]any{
		"side": string(p.Side), "qty": filled, "avg_price": avg, "fill_ratio": round4(p.FillRatio()),
		"low_fill": lowFill, "why": why,
	})

	prec := c.prec
	c.reset()
	if c.deps.OnActivated != nil {
		c.deps.OnActivated(p, prec)
	}
}

func (c *Controller) abort(reason string) {
	p := c.pos
	p.Phase = position.PhaseAborted
	c.log.Info("entry aborted", zap.String("symbol", p.Symbol), zap.String("reason", reason))
	c.reset()
	if c.deps.OnAborted != nil {
		c.deps.OnAborted(p, reason)
	}
}

func (c *Controller) reset() {
	c.timer.Stop()
	c.state = StateIdle
	c.pos = nil
	c.graceUsed = false
}

func weightedEntry(orders []order.Order) float64 {
	var qty, notional float64
	for _, o := range orders {
		qty += o.FilledQty
		notional += o.FilledQty * o.Price
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
