package common

import (
	"context"
	"time"
)

// Exchange abstracts the futures venue the engine trades on.
type Exchange interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64, reduceOnly bool) (MarketResult, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price float64, reduceOnly bool) (LimitResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	// GetPositions returns positions for symbol, or all positions when symbol is empty.
	GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error)
	GetSymbolPrecision(ctx context.Context, symbol string) (SymbolPrecision, error)
	// SetLeverage is idempotent; an "already set" answer is not an error.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetBalance(ctx context.Context) (Balance, error)
}

// PriceSource answers a last-traded price over REST.
type PriceSource interface {
	TickerPrice(ctx context.Context, symbol string) (float64, error)
}

// LastPrices answers the last streamed price when it is younger than maxAge.
type LastPrices interface {
	Fresh(symbol string, maxAge time.Duration) (float64, bool)
}
