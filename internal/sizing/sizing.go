// Package sizing turns balance, leverage and symbol trading rules into
// exchange-valid order quantities and prices. Every function is pure.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"scalp-core/pkg/exchanges/common"
)

// MaxFraction caps the share of balance a single entry may commit; the rest
// is headroom for fees and margin drift.
const MaxFraction = 0.95

// MinNotionalError reports a quantity whose notional is below the symbol minimum.
type MinNotionalError struct {
	Symbol      string
	Quantity    float64
	Price       float64
	Notional    float64
	MinNotional float64
}

func (e *MinNotionalError) Error() string {
	return fmt.Sprintf("notional %.4f (qty %v @ %v) below min notional %.4f for %s",
		e.Notional, e.Quantity, e.Price, e.MinNotional, e.Symbol)
}

// PrecisionError reports inputs that cannot be rounded into a valid order.
type PrecisionError struct {
	Symbol string
	Reason string
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("precision error for %s: %s", e.Symbol, e.Reason)
}

// Input is the sizing request.
type Input struct {
	Balance  float64
	Leverage int
	Price    float64
	// Fraction of balance to commit, clamped to (0, MaxFraction].
	Fraction float64
}

// Quantity computes the rounded order quantity for in under prec.
func Quantity(in Input, prec common.SymbolPrecision) (float64, error) {
	switch {
	case in.Price <= 0:
		return 0, &PrecisionError{Symbol: prec.Symbol, Reason: "price must be positive"}
	case prec.StepSize <= 0:
		return 0, &PrecisionError{Symbol: prec.Symbol, Reason: "step size must be positive"}
	case in.Leverage <= 0:
		return 0, &PrecisionError{Symbol: prec.Symbol, Reason: "leverage must be positive"}
	case in.Balance <= 0:
		return 0, &PrecisionError{Symbol: prec.Symbol, Reason: "balance must be positive"}
	}

	fraction := in.Fraction
	if fraction <= 0 || fraction > MaxFraction {
		fraction = MaxFraction
	}

	margin := decimal.NewFromFloat(in.Balance).Mul(decimal.NewFromFloat(fraction))
	notional := margin.Mul(decimal.NewFromInt(int64(in.Leverage)))
	raw := notional.Div(decimal.NewFromFloat(in.Price))
	qty := floorTo(raw, decimal.NewFromFloat(prec.StepSize))

	if err := CheckNotional(qty.InexactFloat64(), in.Price, prec); err != nil {
		return 0, err
	}
	return qty.InexactFloat64(), nil
}

// CheckNotional returns a *MinNotionalError when qty × price is below the minimum.
func CheckNotional(qty, price float64, prec common.SymbolPrecision) error {
	notional := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	if qty <= 0 || notional.LessThan(decimal.NewFromFloat(prec.MinNotional)) {
		return &MinNotionalError{
			Symbol:      prec.Symbol,
			Quantity:    qty,
			Price:       price,
			Notional:    notional.InexactFloat64(),
			MinNotional: prec.MinNotional,
		}
	}
	return nil
}

// RoundPrice rounds price to the nearest tick.
func RoundPrice(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).InexactFloat64()
}

// RoundQty truncates qty down to a whole number of steps.
func RoundQty(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return floorTo(decimal.NewFromFloat(qty), decimal.NewFromFloat(step)).InexactFloat64()
}

func floorTo(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}
