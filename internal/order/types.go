package order

import (
	"time"

	"scalp-core/pkg/exchanges/common"
)

// Purpose tags why an order exists.
type Purpose string

const (
	PurposeEntry      Purpose = "entry"
	PurposeTakeProfit Purpose = "take_profit"
	PurposeExit       Purpose = "exit"
)

// Order is an order the engine placed and still tracks.
type Order struct {
	ID         string
	Symbol     string
	Side       common.Side
	Type       common.OrderType
	Purpose    Purpose
	Price      float64
	Qty        float64
	FilledQty  float64 // cumulative filled quantity
	ReduceOnly bool
	Status     common.OrderStatus
	PlacedAt   time.Time
}

// IsFullyFilled checks if order is fully filled
func (o *Order) IsFullyFilled() bool {
	return o.Qty > 0 && o.FilledQty >= o.Qty
}

// IsPartiallyFilled checks if order is partially filled
func (o *Order) IsPartiallyFilled() bool {
	return o.FilledQty > 0 && o.FilledQty < o.Qty
}

// RemainingQty returns unfilled quantity
func (o *Order) RemainingQty() float64 {
	if r := o.Qty - o.FilledQty; r > 0 {
		return r
	}
	return 0
}

// Done reports whether the order can no longer fill.
func (o *Order) Done() bool {
	switch o.Status {
	case common.StatusFilled, common.StatusCanceled, common.StatusRejected, common.StatusExpired:
		return true
	}
	return false
}

// UpdateFill raises the filled quantity and derives the status. Fills never
// go backwards.
func (o *Order) UpdateFill(filledQty float64) {
	if filledQty > o.Qty {
		filledQty = o.Qty
	}
	if filledQty > o.FilledQty {
		o.FilledQty = filledQty
	}

	switch {
	case o.IsFullyFilled():
		o.Status = common.StatusFilled
	case o.IsPartiallyFilled() && !o.Done():
		o.Status = common.StatusPartial
	}
}

// MarkCanceled closes an order that did not fully fill.
func (o *Order) MarkCanceled() {
	if !o.IsFullyFilled() {
		o.Status = common.StatusCanceled
	}
}

// SyncFromBook reconciles tracked orders against the venue's open orders:
// an order still open takes the venue's executed quantity, an order that
// disappeared without being canceled by us counts as filled.
func SyncFromBook(orders []Order, open []common.OpenOrder) {
	byID := make(map[string]common.OpenOrder, len(open))
	for _, o := range open {
		byID[o.OrderID] = o
	}
	for i := range orders {
		o := &orders[i]
		if o.Done() {
			continue
		}
		if live, ok := byID[o.ID]; ok {
			o.UpdateFill(live.ExecutedQty)
			continue
		}
		o.UpdateFill(o.Qty)
	}
}

// TotalFilled sums filled quantity across orders.
func TotalFilled(orders []Order) float64 {
	var sum float64
	for _, o := range orders {
		sum += o.FilledQty
	}
	return sum
}
