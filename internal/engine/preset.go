package engine

import (
	"fmt"
	"time"

	"scalp-core/internal/entry"
	"scalp-core/internal/exit"
	"scalp-core/internal/position"
	"scalp-core/internal/risk"
	"scalp-core/internal/signal"
	"scalp-core/pkg/config"
)

// FromPreset resolves a named preset into engine settings for symbol.
func FromPreset(p config.Preset, symbol string, loc *time.Location) (Settings, error) {
	if err := p.Validate(); err != nil {
		return Settings{}, fmt.Errorf("preset %q: %w", p.Name, err)
	}
	chain, err := signal.Build(p.Signal)
	if err != nil {
		return Settings{}, fmt.Errorf("preset %q: %w", p.Name, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	ec := entry.DefaultConfig()
	ec.Leverage = p.Entry.Leverage
	ec.Fraction = p.Entry.Fraction
	ec.SplitCount = p.Entry.SplitCount
	ec.OffsetPct = p.Entry.OffsetPct
	ec.SpacingPct = p.Entry.SpacingPct
	ec.FillTimeout = p.Entry.FillTimeout
	ec.GraceTimeout = p.Entry.GraceTimeout
	ec.LowFillThreshold = p.Entry.LowFillThreshold
	ec.Cooldown = p.Entry.Cooldown
	if ec.Parallel > ec.SplitCount {
		ec.Parallel = ec.SplitCount
	}

	steps := make([]risk.Step, len(p.Exit.Ratchet))
	for i, s := range p.Exit.Ratchet {
		steps[i] = risk.Step{TriggerPct: s.TriggerPct, LockPct: s.LockPct}
	}
	xc := exit.DefaultConfig()
	xc.StopLossPct = p.Exit.StopLossPct
	xc.Ratchet = risk.NewRatchet(steps)
	xc.MaxHold = p.Exit.MaxHold
	xc.TakeProfitQuote = p.Exit.TakeProfitQuote
	xc.PartialFraction = p.Exit.PartialFraction
	xc.LadderCount = p.Exit.LadderCount
	xc.LadderFirstPct = p.Exit.LadderFirstPct
	xc.LadderSpacingPct = p.Exit.LadderSpacingPct
	xc.LadderTimeout = p.Exit.LadderTimeout
	xc.FeeBufferPct = p.Exit.FeeBufferPct
	xc.Fees = position.Fees{Maker: p.Exit.MakerFee, Taker: p.Exit.TakerFee}

	return Settings{
		Symbol: symbol,
		Preset: p.Name,
		Entry:  ec,
		Exit:   xc,
		Risk: risk.Config{
			MaxDailyTrades: p.Risk.MaxDailyTrades,
			MaxDailyLoss:   p.Risk.MaxDailyLoss,
			Location:       loc,
		},
		Confirm: ConfirmConfig{
			ConfirmTicks:   p.Confirm.ConfirmTicks,
			PendingTimeout: p.Confirm.PendingTimeout,
			MaxDriftPct:    p.Confirm.MaxDriftPct,
			MinStrength:    p.Confirm.MinStrength,
		},
		Chain: chain,
	}, nil
}
