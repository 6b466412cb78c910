// Package signal turns candles and the order book into directional trade
// candidates. Evaluators are pure over their Input; filters veto candidates.
package signal

import (
	"fmt"

	"scalp-core/internal/market"
	"scalp-core/internal/position"
)

// Candidate is a directional trade idea with a strength in [0,1].
type Candidate struct {
	Direction position.Side
	Strength  float64
	Price     float64
	Reason    string
}

// Input is everything an evaluator may look at.
type Input struct {
	Symbol string
	// Price is the latest tick; evaluators fall back to the last close.
	Price   float64
	Candles map[string][]market.Candle
	Book    market.Book
}

func (in Input) price(interval string) float64 {
	if in.Price > 0 {
		return in.Price
	}
	cs := in.Candles[interval]
	if len(cs) == 0 {
		return 0
	}
	return cs[len(cs)-1].Close
}

// Evaluator produces at most one candidate per call.
type Evaluator interface {
	Name() string
	Evaluate(in Input) (Candidate, bool)
}

// Filter may veto a candidate; reason explains a veto.
type Filter interface {
	Name() string
	Allow(in Input, c Candidate) (ok bool, reason string)
}

// Decision is the outcome of running a Chain.
type Decision struct {
	Candidate Candidate
	Fired     bool
	// BlockedBy names the filter that vetoed a fired candidate.
	BlockedBy string
	Reason    string
}

// Chain runs an evaluator and then each filter in order.
type Chain struct {
	Evaluator Evaluator
	Filters   []Filter
}

// Evaluate returns the evaluator's candidate unless a filter vetoes it.
func (c Chain) Evaluate(in Input) Decision {
	if c.Evaluator == nil {
		return Decision{}
	}
	cand, ok := c.Evaluator.Evaluate(in)
	if !ok {
		return Decision{}
	}
	d := Decision{Candidate: cand, Fired: true}
	for _, f := range c.Filters {
		if allowed, reason := f.Allow(in, cand); !allowed {
			d.BlockedBy = f.Name()
			d.Reason = reason
			return d
		}
	}
	return d
}

// Accepted reports a fired, unvetoed candidate.
func (d Decision) Accepted() bool { return d.Fired && d.BlockedBy == "" }

// Intervals lists every candle interval the chain reads.
func (c Chain) Intervals() []string {
	seen := map[string]bool{}
	var out []string
	add := func(ivs ...string) {
		for _, iv := range ivs {
			if iv != "" && !seen[iv] {
				seen[iv] = true
				out = append(out, iv)
			}
		}
	}
	if n, ok := c.Evaluator.(interface{ Intervals() []string }); ok {
		add(n.Intervals()...)
	}
	for _, f := range c.Filters {
		if n, ok := f.(interface{ Intervals() []string }); ok {
			add(n.Intervals()...)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func describe(name string, side position.Side, format string, args ...any) string {
	return fmt.Sprintf("%s %s: ", name, side) + fmt.Sprintf(format, args...)
}
