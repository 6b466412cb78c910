package risk

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Step locks LockPct of profit once the peak PnL% reaches TriggerPct.
// Percentages are price moves from the average entry, not leveraged ROE.
type Step struct {
	TriggerPct float64 `json:"trigger_pct" yaml:"trigger_pct"`
	LockPct    float64 `json:"lock_pct" yaml:"lock_pct"`
}

// Ratchet maps peak-observed profit onto a stop-loss level. The mapping is
// monotonic in the peak, so a pullback never loosens the stop.
type Ratchet struct {
	steps []Step
}

// NewRatchet sorts steps by trigger. Locks are forced non-decreasing.
func NewRatchet(steps []Step) Ratchet {
	sorted := append([]Step(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TriggerPct < sorted[j].TriggerPct })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].LockPct < sorted[i-1].LockPct {
			sorted[i].LockPct = sorted[i-1].LockPct
		}
	}
	return Ratchet{steps: sorted}
}

// Steps returns a copy of the configured steps.
func (r Ratchet) Steps() []Step { return append([]Step(nil), r.steps...) }

// LockFor returns the locked PnL% for a peak, ok=false below the first step.
func (r Ratchet) LockFor(peakPct float64) (float64, bool) {
	lock, ok := 0.0, false
	for _, s := range r.steps {
		if peakPct < s.TriggerPct {
			break
		}
		lock, ok = s.LockPct, true
	}
	return lock, ok
}

// StopPrice returns the stop that locks the level reached by peakPct, or
// current when that would not improve it. sign is +1 for long, -1 for short.
func (r Ratchet) StopPrice(entry float64, sign float64, peakPct, current float64) float64 {
	lock, ok := r.LockFor(peakPct)
	if !ok || entry <= 0 {
		return current
	}
	e := decimal.NewFromFloat(entry)
	move := decimal.NewFromFloat(lock).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(sign))
	candidate := e.Mul(decimal.NewFromInt(1).Add(move))
	if !Tighter(candidate.InexactFloat64(), current, sign) {
		return current
	}
	return candidate.InexactFloat64()
}

// Tighter reports whether candidate is a more favorable stop than current
// for the given side sign. A zero current means no stop yet.
func Tighter(candidate, current, sign float64) bool {
	if current <= 0 {
		return candidate > 0
	}
	c := decimal.NewFromFloat(candidate)
	cur := decimal.NewFromFloat(current)
	if sign > 0 {
		return c.GreaterThan(cur)
	}
	return c.LessThan(cur)
}

// InitialStop is the stop placed at activation, stopPct away from entry
// against the side.
func InitialStop(entry, sign, stopPct float64) float64 {
	if entry <= 0 || stopPct <= 0 {
		return 0
	}
	e := decimal.NewFromFloat(entry)
	move := decimal.NewFromFloat(stopPct).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(sign))
	return e.Mul(decimal.NewFromInt(1).Sub(move)).InexactFloat64()
}
