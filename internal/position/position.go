// Package position holds the state of the single open position an engine
// trades, shared by the entry controller and the exit monitor.
package position

import (
	"time"

	"scalp-core/internal/order"
	"scalp-core/pkg/exchanges/common"
)

// Side is the position direction.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// EntrySide is the order side that opens a position of side s.
func (s Side) EntrySide() common.Side {
	if s == Short {
		return common.SideSell
	}
	return common.SideBuy
}

// ExitSide is the order side that reduces a position of side s.
func (s Side) ExitSide() common.Side { return s.EntrySide().Opposite() }

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Phase is the lifecycle discriminator.
type Phase string

const (
	PhaseOrdering Phase = "ordering"
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseClosing  Phase = "closing"
	PhaseClosed   Phase = "closed"
	PhaseAborted  Phase = "aborted"
)

// Reason explains why a position was closed.
type Reason string

const (
	ReasonTakeProfit Reason = "tp"
	ReasonStopLoss   Reason = "sl"
	ReasonTimeout    Reason = "timeout"
	ReasonManual     Reason = "manual"
	ReasonExternal   Reason = "external"
)

// Position is one trade from first entry clip to final exit.
type Position struct {
	// Generation increases for every position an engine opens; timers carry
	// it so a callback for an older position is ignored.
	Generation uint64
	Symbol     string
	Side       Side
	Leverage   int

	Entries          []order.Order
	TakeProfitOrders []order.Order

	AvgFillPrice    float64
	TotalPlannedQty float64
	FilledQty       float64
	// OpenQty is what is still held; it falls as exits fill.
	OpenQty float64

	StartTime   time.Time
	ActivatedAt time.Time
	Phase       Phase

	StopLossPrice      float64
	IsLowFillBreakeven bool
	// PeakPnLPct is the best unrealized PnL% observed while active.
	PeakPnLPct float64
}

// FillRatio is filled ÷ planned, zero when nothing was planned.
func (p *Position) FillRatio() float64 {
	if p.TotalPlannedQty <= 0 {
		return 0
	}
	return p.FilledQty / p.TotalPlannedQty
}

// PnLPct is the unrealized move from the average fill, in percent, signed
// for the position side.
func (p *Position) PnLPct(price float64) float64 {
	if p.AvgFillPrice <= 0 {
		return 0
	}
	return (price - p.AvgFillPrice) / p.AvgFillPrice * 100 * p.Side.Sign()
}

// PnLQuote is the unrealized PnL of the open quantity in quote currency.
func (p *Position) PnLQuote(price float64) float64 {
	if p.AvgFillPrice <= 0 {
		return 0
	}
	return (price - p.AvgFillPrice) * p.OpenQty * p.Side.Sign()
}

// StopCrossed reports whether price is at or through the stop against the side.
func (p *Position) StopCrossed(price float64) bool {
	if p.StopLossPrice <= 0 || price <= 0 {
		return false
	}
	if p.Side == Long {
		return price <= p.StopLossPrice
	}
	return price >= p.StopLossPrice
}

// Clone returns a deep copy safe to hand to readers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Entries = append([]order.Order(nil), p.Entries...)
	cp.TakeProfitOrders = append([]order.Order(nil), p.TakeProfitOrders...)
	return &cp
}

// Fill is one exit execution used for realized PnL.
type Fill struct {
	Qty   float64
	Price float64
	Maker bool
}

// Result describes a finished position.
type Result struct {
	Position    *Position
	Reason      Reason
	ExitPrice   float64
	ExitQty     float64
	GrossPnL    float64
	Fees        float64
	RealizedPnL float64
	ClosedAt    time.Time
	HoldTime    time.Duration
}

// Fees holds maker/taker rates as decimals (0.0002 = 2 bps).
type Fees struct {
	Maker float64
	Taker float64
}

// Settle computes gross and net PnL for exits against p. Entries are limit
// clips and pay maker fees.
func Settle(p *Position, exits []Fill, fees Fees) (exitPrice, qty, gross, fee float64) {
	var notional float64
	for _, f := range exits {
		if f.Qty <= 0 {
			continue
		}
		qty += f.Qty
		notional += f.Qty * f.Price
		gross += (f.Price - p.AvgFillPrice) * f.Qty * p.Side.Sign()
		rate := fees.Taker
		if f.Maker {
			rate = fees.Maker
		}
		fee += f.Qty * f.Price * rate
	}
	fee += p.FilledQty * p.AvgFillPrice * fees.Maker
	if qty > 0 {
		exitPrice = notional / qty
	}
	return exitPrice, qty, gross, fee
}
