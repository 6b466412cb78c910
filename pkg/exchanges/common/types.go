package common

import (
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide normalizes free-form input ("buy", "SELL") into a Side.
func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	}
	return "", false
}

// OrderType denotes the order types the core uses.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// NormalizeStatus maps venue specific strings onto OrderStatus.
func NormalizeStatus(v string) OrderStatus {
	switch strings.ToUpper(v) {
	case "NEW":
		return StatusNew
	case "PARTIALLY_FILLED", "PARTIAL":
		return StatusPartial
	case "FILLED":
		return StatusFilled
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	case "REJECTED":
		return StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

// MarketResult is the venue answer to a market order.
type MarketResult struct {
	OrderID     string
	ExecutedQty float64
	AvgPrice    float64
}

// LimitResult is the venue acknowledgement of a resting limit order.
type LimitResult struct {
	OrderID string
}

// OpenOrder is an order still resting on the book.
type OpenOrder struct {
	OrderID     string
	Symbol      string
	Side        Side
	Type        OrderType
	Price       float64
	OrigQty     float64
	ExecutedQty float64
	ReduceOnly  bool
	Status      OrderStatus
	Time        time.Time
}

// PositionInfo is the exchange view of a position. Quantity is signed:
// positive for long, negative for short.
type PositionInfo struct {
	Symbol        string
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// SymbolPrecision carries the trading rules of a symbol.
type SymbolPrecision struct {
	Symbol            string
	TickSize          float64
	StepSize          float64
	MinNotional       float64
	PricePrecision    int
	QuantityPrecision int
}

// Balance is the quote-asset wallet view used for sizing.
type Balance struct {
	Asset     string
	Total     float64
	Available float64
}

// NetPosition folds a position list (one-way or hedge mode) into a single
// signed quantity and quantity-weighted entry price for symbol.
func NetPosition(list []PositionInfo, symbol string) PositionInfo {
	out := PositionInfo{Symbol: symbol}
	var notional float64
	for _, p := range list {
		if p.Symbol != symbol || p.Quantity == 0 {
			continue
		}
		out.Quantity += p.Quantity
		notional += abs(p.Quantity) * p.EntryPrice
		if p.MarkPrice > 0 {
			out.MarkPrice = p.MarkPrice
		}
		out.UnrealizedPnL += p.UnrealizedPnL
	}
	if q := abs(out.Quantity); q > 0 {
		out.EntryPrice = notional / q
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
