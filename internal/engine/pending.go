package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/entry"
	"scalp-core/internal/events"
	"scalp-core/internal/market"
	"scalp-core/internal/signal"
	"scalp-core/internal/sizing"
	"scalp-core/internal/tradelog"
)

// evaluateLocked runs the signal chain and drives the pending signal:
// detect, confirm on repeated agreement, drop on timeout, drift or an
// opposite signal.
func (e *Engine) evaluateLocked(ctx context.Context, price float64, now time.Time) {
	if e.pending != nil && e.expirePendingLocked(price, now) {
		return
	}
	if !e.enabled {
		return
	}

	dec := e.settings.Chain.Evaluate(e.input(price))
	if e.pending == nil {
		e.detectLocked(ctx, dec, price, now)
		return
	}
	if !dec.Fired {
		return
	}
	if dec.Candidate.Direction != e.pending.Direction {
		e.dropPendingLocked("opposite signal")
		return
	}
	if !dec.Accepted() {
		return
	}

	e.pending.WaitCount++
	if dec.Candidate.Strength > e.pending.Strength {
		e.pending.Strength = dec.Candidate.Strength
	}
	if e.pending.WaitCount >= e.settings.Confirm.ConfirmTicks {
		e.confirmLocked(ctx, price, now)
	}
}

func (e *Engine) detectLocked(ctx context.Context, dec signal.Decision, price float64, now time.Time) {
	if !dec.Fired {
		return
	}
	c := dec.Candidate
	if !dec.Accepted() {
		e.log.Debug("signal filtered", zap.String("filter", dec.BlockedBy), zap.String("reason", dec.Reason))
		return
	}
	if c.Strength < e.settings.Confirm.MinStrength {
		return
	}
	if reason := e.entryBlockReason(now); reason != "" {
		if reason != e.entryBlocked {
			e.deps.TradeLog.Add(tradelog.KindSignal, e.settings.Symbol, "signal ignored", map[string]any{
				"direction": string(c.Direction), "reason": reason,
			})
		}
		e.entryBlocked = reason
		return
	}
	e.entryBlocked = ""

	e.pending = &PendingSignal{
		Symbol:        e.settings.Symbol,
		Direction:     c.Direction,
		Strength:      c.Strength,
		DetectedPrice: price,
		DetectedAt:    now,
		Reason:        c.Reason,
	}
	e.deps.TradeLog.Add(tradelog.KindSignal, e.settings.Symbol, "signal detected", map[string]any{
		"direction": string(c.Direction), "strength": math.Round(c.Strength*1000) / 1000,
		"price": price, "reason": c.Reason,
	})
	e.deps.Bus.Publish(events.EventStrategySignal, *e.pending)

	if e.settings.Confirm.ConfirmTicks <= 0 {
		e.confirmLocked(ctx, price, now)
	}
}

// expirePendingLocked drops the pending signal on timeout or price drift.
func (e *Engine) expirePendingLocked(price float64, now time.Time) bool {
	p := e.pending
	cfg := e.settings.Confirm
	if cfg.PendingTimeout > 0 && now.Sub(p.DetectedAt) >= cfg.PendingTimeout {
		e.dropPendingLocked("timeout")
		return true
	}
	if cfg.MaxDriftPct > 0 && p.DetectedPrice > 0 {
		if drift := math.Abs(price-p.DetectedPrice) / p.DetectedPrice * 100; drift > cfg.MaxDriftPct {
			e.dropPendingLocked("price drift")
			return true
		}
	}
	return false
}

func (e *Engine) dropPendingLocked(reason string) {
	p := e.pending
	e.pending = nil
	e.deps.TradeLog.Add(tradelog.KindCancel, p.Symbol, "pending signal dropped", map[string]any{
		"direction": string(p.Direction), "reason": reason, "wait_count": p.WaitCount,
	})
}

// confirmLocked turns the pending signal into an entry.
func (e *Engine) confirmLocked(ctx context.Context, price float64, now time.Time) {
	p := e.pending
	e.pending = nil
	if reason := e.entryBlockReason(now); reason != "" {
		e.entryBlocked = reason
		e.deps.TradeLog.Add(tradelog.KindCancel, p.Symbol, "pending signal dropped", map[string]any{
			"direction": string(p.Direction), "reason": reason,
		})
		return
	}

	bal, err := e.deps.Balance.GetBalance(ctx)
	if err != nil {
		e.lastErr = err.Error()
		e.metrics.EntryOutcome("error")
		e.deps.TradeLog.Add(tradelog.KindError, p.Symbol, "balance unavailable, signal discarded", map[string]any{"error": err.Error()})
		return
	}

	e.deps.TradeLog.Add(tradelog.KindSignal, p.Symbol, "signal confirmed", map[string]any{
		"direction": string(p.Direction), "wait_count": p.WaitCount, "price": price,
	})
	e.gen++
	err = e.entry.Start(ctx, entry.Request{
		Symbol:     p.Symbol,
		Side:       p.Direction,
		Price:      price,
		Balance:    bal.Available,
		Generation: e.gen,
	})

	var minNotional *sizing.MinNotionalError
	var precision *sizing.PrecisionError
	switch {
	case err == nil:
		e.metrics.EntryOutcome("placed")
	case errors.As(err, &minNotional), errors.As(err, &precision):
		e.metrics.EntryOutcome("rejected")
		e.deps.TradeLog.Add(tradelog.KindError, p.Symbol, "signal discarded, sizing failed", map[string]any{"error": err.Error()})
	case errors.Is(err, entry.ErrNoOrders):
		e.lastErr = err.Error()
	case errors.Is(err, entry.ErrBusy), errors.Is(err, entry.ErrCooldown):
		e.log.Debug("entry refused", zap.Error(err))
	default:
		e.lastErr = err.Error()
		e.metrics.EntryOutcome("error")
		e.deps.TradeLog.Add(tradelog.KindError, p.Symbol, "entry failed", map[string]any{"error": err.Error()})
	}
}

// entryBlockReason is empty when a new entry may start.
func (e *Engine) entryBlockReason(now time.Time) string {
	switch {
	case !e.enabled:
		return "engine disabled"
	case !e.feedHealthy():
		return "market feed unhealthy"
	case e.exit.Active():
		return "position open"
	case e.entry.State() != entry.StateIdle:
		return "entry in progress"
	case e.entry.InCooldown(now):
		return "cooldown"
	}
	if err := e.deps.Risk.Allow(); err != nil {
		return err.Error()
	}
	return ""
}

func (e *Engine) input(price float64) signal.Input {
	in := signal.Input{Symbol: e.settings.Symbol, Price: price}
	if e.deps.Market == nil {
		return in
	}
	in.Book = e.deps.Market.Book()
	in.Candles = make(map[string][]market.Candle)
	for _, iv := range e.settings.Chain.Intervals() {
		in.Candles[iv] = e.deps.Market.Candles(iv)
	}
	return in
}
