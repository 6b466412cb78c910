package sizing

import (
	"github.com/shopspring/decimal"

	"scalp-core/pkg/exchanges/common"
)

// Split divides total into at most n step-aligned clips whose notional at
// price each meets the symbol minimum. Pass the lowest price any clip will
// rest at (see LowestPrice). The clip count shrinks when needed; the last
// clip absorbs the rounding remainder so clips sum to total.
func Split(total float64, n int, price float64, prec common.SymbolPrecision) ([]float64, error) {
	if n < 1 {
		n = 1
	}
	if err := CheckNotional(total, price, prec); err != nil {
		return nil, err
	}
	step := decimal.NewFromFloat(prec.StepSize)
	if !step.IsPositive() {
		return nil, &PrecisionError{Symbol: prec.Symbol, Reason: "step size must be positive"}
	}
	tot := floorTo(decimal.NewFromFloat(total), step)

	for ; n > 1; n-- {
		clip := floorTo(tot.Div(decimal.NewFromInt(int64(n))), step)
		if clip.IsPositive() && CheckNotional(clip.InexactFloat64(), price, prec) == nil {
			break
		}
	}

	clip := floorTo(tot.Div(decimal.NewFromInt(int64(n))), step)
	out := make([]float64, 0, n)
	rest := tot
	for i := 0; i < n-1; i++ {
		out = append(out, clip.InexactFloat64())
		rest = rest.Sub(clip)
	}
	return append(out, rest.InexactFloat64()), nil
}

// LowestPrice returns the smallest positive price in prices, the level at
// which a clip's notional is smallest.
func LowestPrice(prices []float64) float64 {
	var low float64
	for _, p := range prices {
		if p > 0 && (low == 0 || p < low) {
			low = p
		}
	}
	return low
}

// LevelPrices returns n limit prices stepping away from price in the
// favorable direction: below for buys, above for sells. Level i sits at
// offsetPct + i*spacingPct percent from price, rounded to tick.
func LevelPrices(price float64, side common.Side, n int, offsetPct, spacingPct, tick float64) []float64 {
	if n < 1 {
		n = 1
	}
	base := decimal.NewFromFloat(price)
	hundred := decimal.NewFromInt(100)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		pct := decimal.NewFromFloat(offsetPct).Add(decimal.NewFromFloat(spacingPct).Mul(decimal.NewFromInt(int64(i)))).Div(hundred)
		var p decimal.Decimal
		if side == common.SideBuy {
			p = base.Mul(decimal.NewFromInt(1).Sub(pct))
		} else {
			p = base.Mul(decimal.NewFromInt(1).Add(pct))
		}
		out[i] = RoundPrice(p.InexactFloat64(), tick)
	}
	return out
}

// TargetPrices returns n exit prices at increasing profit for a position on
// entrySide: above price for long exits, below for short exits.
func TargetPrices(price float64, entrySide common.Side, n int, firstPct, spacingPct, tick float64) []float64 {
	// A long exits with sells resting above; LevelPrices steps sells upward.
	return LevelPrices(price, entrySide.Opposite(), n, firstPct, spacingPct, tick)
}
