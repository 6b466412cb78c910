package engine

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/internal/position"
	"scalp-core/internal/reconciliation"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/exchanges/common"
)

// Recover resumes monitoring a position left open by a previous run. The
// exchange decides whether a position exists; the checkpoint only restores
// what the exchange cannot tell (stop, low-fill flag, peak, generation).
func (e *Engine) Recover(ctx context.Context) error {
	e.lock()
	defer e.unlock()
	defer e.publishLocked()

	symbol := e.settings.Symbol
	list, err := e.deps.Exchange.GetPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("recover positions: %w", err)
	}
	net := common.NetPosition(list, symbol)

	cp, err := e.deps.State.Load(ctx, symbol)
	if err != nil {
		e.log.Warn("load checkpoint failed", zap.Error(err))
	}

	if net.Quantity == 0 {
		if cp != nil {
			e.deps.TradeLog.Add(tradelog.KindInfo, symbol, "stale checkpoint discarded", map[string]any{"generation": cp.Generation})
			if err := e.deps.State.Clear(ctx, symbol); err != nil {
				e.log.Warn("clear checkpoint failed", zap.Error(err))
			}
		}
		return nil
	}

	prec, err := e.deps.Exchange.GetSymbolPrecision(ctx, symbol)
	if err != nil {
		return fmt.Errorf("recover precision: %w", err)
	}

	side := position.Long
	if net.Quantity < 0 {
		side = position.Short
	}
	qty := math.Abs(net.Quantity)
	now := e.deps.Now()

	p := cp
	if p == nil || p.Side != side {
		p = &position.Position{
			Symbol:      symbol,
			Side:        side,
			Leverage:    e.settings.Entry.Leverage,
			StartTime:   now,
			ActivatedAt: now,
		}
		e.gen++
		p.Generation = e.gen
	} else if p.Generation > e.gen {
		e.gen = p.Generation
	}
	p.AvgFillPrice = net.EntryPrice
	p.FilledQty = qty
	p.OpenQty = qty
	if p.TotalPlannedQty < qty {
		p.TotalPlannedQty = qty
	}

	e.prec = prec
	e.exit.Adopt(p, prec)
	e.checkpointLocked(ctx)
	e.metrics.PositionOpen(true)
	e.deps.TradeLog.Add(tradelog.KindActivate, symbol, "position recovered", map[string]any{
		"side": string(side), "qty": qty, "avg_price": net.EntryPrice,
		"from_checkpoint": cp != nil && cp.Side == side,
	})
	e.log.Info("position recovered",
		zap.String("symbol", symbol), zap.String("side", string(side)),
		zap.Float64("qty", qty), zap.Float64("avg_price", net.EntryPrice))
	return nil
}

// ReconcileOnce compares the tracked position with the exchange. A position
// that went flat on the exchange is finalized as an external close; drift
// and untracked positions raise alerts. Passes are skipped while the engine
// is busy, while an entry waits for fills and while the ladder is working.
func (e *Engine) ReconcileOnce(ctx context.Context) (reconciliation.Report, error) {
	symbol := e.settings.Symbol
	if e.processing.Load() {
		return reconciliation.Report{Symbol: symbol, Skipped: true}, nil
	}
	e.lock()
	defer e.unlock()

	now := e.deps.Now()
	var local float64
	if p := e.exit.Position(); p != nil {
		if p.Phase == position.PhaseClosing {
			return reconciliation.Report{Symbol: symbol, Timestamp: now, Skipped: true}, nil
		}
		local = p.OpenQty * p.Side.Sign()
	} else if e.entry.Position() != nil {
		return reconciliation.Report{Symbol: symbol, Timestamp: now, Skipped: true}, nil
	}

	list, err := e.deps.Exchange.GetPositions(ctx, symbol)
	if err != nil {
		return reconciliation.Report{}, fmt.Errorf("reconcile positions: %w", err)
	}
	remote := common.NetPosition(list, symbol).Quantity

	tolerance := 1e-9
	if e.prec.StepSize > 0 {
		tolerance = e.prec.StepSize / 2
	}
	report := reconciliation.Compare(symbol, local, remote, tolerance, now)

	switch report.Kind {
	case reconciliation.KindSettled:
		e.exit.Settled(ctx, e.lastPrice)
		e.publishLocked()
	case reconciliation.KindDrift, reconciliation.KindOrphan:
		msg := fmt.Sprintf("position mismatch (%s): local %.6f, exchange %.6f", report.Kind, local, remote)
		e.deps.TradeLog.Add(tradelog.KindError, symbol, "position mismatch", map[string]any{
			"kind": string(report.Kind), "local": local, "exchange": remote,
		})
		e.lastErr = msg
		e.deps.Bus.Publish(events.EventRiskAlert, events.Alert{Severity: "warn", Symbol: symbol, Message: msg})
		e.publishLocked()
	}
	return report, nil
}
