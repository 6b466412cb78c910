package signal

import (
	"fmt"
	"math"

	"scalp-core/internal/indicators"
	"scalp-core/internal/market"
	"scalp-core/internal/position"
)

// MomentumConfig parameterizes Momentum.
type MomentumConfig struct {
	Interval  string  `yaml:"interval"`
	FastEMA   int     `yaml:"fast_ema"`
	SlowEMA   int     `yaml:"slow_ema"`
	ROCPeriod int     `yaml:"roc_period"`
	MinROCPct float64 `yaml:"min_roc_pct"`
	// RSI band for longs; shorts use the mirrored band (100-max, 100-min).
	RSIPeriod   int     `yaml:"rsi_period"`
	RSIMin      float64 `yaml:"rsi_min"`
	RSIMax      float64 `yaml:"rsi_max"`
	MinStrength float64 `yaml:"min_strength"`
}

// DefaultMomentum is a 1m 9/21 EMA alignment with a 0.15% 5-bar ROC.
func DefaultMomentum() MomentumConfig {
	return MomentumConfig{
		Interval:  "1m",
		FastEMA:   9,
		SlowEMA:   21,
		ROCPeriod: 5,
		MinROCPct: 0.15,
		RSIPeriod: 14,
		RSIMin:    50,
		RSIMax:    80,
	}
}

// Momentum fires in the direction of aligned EMAs when the rate of change
// clears a threshold and RSI sits in the trend band without being stretched.
type Momentum struct {
	cfg MomentumConfig
}

// NewMomentum validates cfg.
func NewMomentum(cfg MomentumConfig) (*Momentum, error) {
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.FastEMA < 2 || cfg.SlowEMA <= cfg.FastEMA {
		return nil, fmt.Errorf("momentum: need 2 <= fast_ema < slow_ema, got %d/%d", cfg.FastEMA, cfg.SlowEMA)
	}
	if cfg.ROCPeriod <= 0 || cfg.MinROCPct <= 0 {
		return nil, fmt.Errorf("momentum: roc_period and min_roc_pct must be > 0")
	}
	return &Momentum{cfg: cfg}, nil
}

func (m *Momentum) Name() string {
	return fmt.Sprintf("momentum_%d_%d@%s", m.cfg.FastEMA, m.cfg.SlowEMA, m.cfg.Interval)
}

func (m *Momentum) Intervals() []string { return []string{m.cfg.Interval} }

func (m *Momentum) Evaluate(in Input) (Candidate, bool) {
	closes := market.Closes(in.Candles[m.cfg.Interval])
	fast, ok1 := indicators.EMA(closes, m.cfg.FastEMA)
	slow, ok2 := indicators.EMA(closes, m.cfg.SlowEMA)
	roc, ok3 := indicators.ROC(closes, m.cfg.ROCPeriod)
	if !ok1 || !ok2 || !ok3 {
		return Candidate{}, false
	}

	var side position.Side
	switch {
	case fast > slow && roc >= m.cfg.MinROCPct:
		side = position.Long
	case fast < slow && roc <= -m.cfg.MinROCPct:
		side = position.Short
	default:
		return Candidate{}, false
	}

	var rsi float64
	if m.cfg.RSIPeriod > 0 {
		var ok bool
		rsi, ok = indicators.RSI(closes, m.cfg.RSIPeriod)
		if !ok {
			return Candidate{}, false
		}
		lo, hi := m.cfg.RSIMin, m.cfg.RSIMax
		if side == position.Short {
			lo, hi = 100-m.cfg.RSIMax, 100-m.cfg.RSIMin
		}
		if rsi < lo || rsi > hi {
			return Candidate{}, false
		}
	}

	// the threshold scores 0.5; twice the threshold scores 1.
	excess := (math.Abs(roc) - m.cfg.MinROCPct) / m.cfg.MinROCPct
	strength := clamp01(0.5 + excess*0.5)
	if strength < m.cfg.MinStrength {
		return Candidate{}, false
	}
	price := in.price(m.cfg.Interval)
	return Candidate{
		Direction: side,
		Strength:  strength,
		Price:     price,
		Reason:    describe(m.Name(), side, "ema %.4f/%.4f roc %.3f%% rsi %.1f", fast, slow, roc, rsi),
	}, true
}
