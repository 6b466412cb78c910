package signal

import (
	"fmt"

	"scalp-core/internal/indicators"
	"scalp-core/internal/market"
	"scalp-core/internal/position"
)

// BollingerConfig parameterizes BollingerTouch.
type BollingerConfig struct {
	Interval string  `yaml:"interval"`
	Period   int     `yaml:"period"`
	StdDev   float64 `yaml:"std_dev"`
	// RSIPeriod > 0 requires RSI confirmation: at most RSILongMax for longs,
	// at least RSIShortMin for shorts.
	RSIPeriod   int     `yaml:"rsi_period"`
	RSILongMax  float64 `yaml:"rsi_long_max"`
	RSIShortMin float64 `yaml:"rsi_short_min"`
	MinStrength float64 `yaml:"min_strength"`
}

// DefaultBollinger is a 1m 20/2 band with RSI 14 confirmation.
func DefaultBollinger() BollingerConfig {
	return BollingerConfig{
		Interval:    "1m",
		Period:      20,
		StdDev:      2,
		RSIPeriod:   14,
		RSILongMax:  35,
		RSIShortMin: 65,
	}
}

// BollingerTouch fires long when price touches or pierces the lower band and
// short at the upper band. Strength grows with penetration depth.
type BollingerTouch struct {
	cfg BollingerConfig
}

// NewBollingerTouch validates cfg.
func NewBollingerTouch(cfg BollingerConfig) (*BollingerTouch, error) {
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.Period < 2 {
		return nil, fmt.Errorf("bollinger: period must be >= 2, got %d", cfg.Period)
	}
	if cfg.StdDev <= 0 {
		return nil, fmt.Errorf("bollinger: std_dev must be > 0, got %v", cfg.StdDev)
	}
	return &BollingerTouch{cfg: cfg}, nil
}

func (b *BollingerTouch) Name() string {
	return fmt.Sprintf("bollinger_%d_%.1f@%s", b.cfg.Period, b.cfg.StdDev, b.cfg.Interval)
}

func (b *BollingerTouch) Intervals() []string { return []string{b.cfg.Interval} }

func (b *BollingerTouch) Evaluate(in Input) (Candidate, bool) {
	closes := market.Closes(in.Candles[b.cfg.Interval])
	bands, ok := indicators.BBands(closes, b.cfg.Period, b.cfg.StdDev)
	if !ok {
		return Candidate{}, false
	}
	width := bands.Upper - bands.Lower
	price := in.price(b.cfg.Interval)
	if width <= 0 || price <= 0 {
		return Candidate{}, false
	}

	var side position.Side
	var depth float64
	switch {
	case price <= bands.Lower:
		side, depth = position.Long, bands.Lower-price
	case price >= bands.Upper:
		side, depth = position.Short, price-bands.Upper
	default:
		return Candidate{}, false
	}

	var rsi float64
	if b.cfg.RSIPeriod > 0 {
		rsi, ok = indicators.RSI(closes, b.cfg.RSIPeriod)
		if !ok {
			return Candidate{}, false
		}
		if side == position.Long && rsi > b.cfg.RSILongMax {
			return Candidate{}, false
		}
		if side == position.Short && rsi < b.cfg.RSIShortMin {
			return Candidate{}, false
		}
	}

	// a touch scores 0.5; piercing by a fifth of the band width scores 1.
	strength := clamp01(0.5 + depth/width*2.5)
	if strength < b.cfg.MinStrength {
		return Candidate{}, false
	}
	return Candidate{
		Direction: side,
		Strength:  strength,
		Price:     price,
		Reason:    describe(b.Name(), side, "price %.4f band [%.4f, %.4f] rsi %.1f", price, bands.Lower, bands.Upper, rsi),
	}, true
}
