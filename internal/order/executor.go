package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/pkg/db"
	"scalp-core/pkg/exchanges/common"
)

// Store persists order rows. *db.Database satisfies it.
type Store interface {
	SaveOrder(ctx context.Context, o db.Order) error
	UpdateOrderStatus(ctx context.Context, id, status string) error
}

// Recorder observes exchange round trips.
type Recorder interface {
	ObserveExchangeCall(op string, d time.Duration, err error)
}

// Executor wraps an Exchange: every order it forwards is persisted, timed,
// and announced on the bus. Store, Bus and Recorder are optional.
type Executor struct {
	next  common.Exchange
	venue string

	Bus      *events.Bus
	Store    Store
	Recorder Recorder
	log      *zap.Logger
}

var (
	_ common.Exchange    = (*Executor)(nil)
	_ common.PriceSource = (*Executor)(nil)
)

// ErrNoPriceSource is returned by TickerPrice when the wrapped venue has no
// REST price endpoint.
var ErrNoPriceSource = errors.New("executor: venue has no price source")

func NewExecutor(next common.Exchange, venue string, bus *events.Bus, store Store, rec Recorder, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{next: next, venue: venue, Bus: bus, Store: store, Recorder: rec, log: log}
}

// Venue returns the name the executor tags orders with.
func (e *Executor) Venue() string { return e.venue }

func (e *Executor) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64, reduceOnly bool) (common.MarketResult, error) {
	ev := events.OrderEvent{Venue: e.venue, Symbol: symbol, Side: string(side), Type: string(common.OrderTypeMarket), Qty: qty, ReduceOnly: reduceOnly}
	e.Bus.Publish(events.EventOrderSubmitted, ev)

	start := time.Now()
	res, err := e.next.PlaceMarketOrder(ctx, symbol, side, qty, reduceOnly)
	e.observe("place_market", start, err)
	if err != nil {
		e.reject(ctx, ev, err)
		return res, err
	}

	ev.OrderID = res.OrderID
	ev.Price = res.AvgPrice
	status := common.StatusNew
	if res.ExecutedQty > 0 {
		status = common.StatusFilled
	}
	e.save(ctx, ev, status, "")
	e.Bus.Publish(events.EventOrderAccepted, ev)
	if status == common.StatusFilled {
		filled := ev
		filled.Qty = res.ExecutedQty
		e.Bus.Publish(events.EventOrderFilled, filled)
	}
	return res, nil
}

func (e *Executor) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64, reduceOnly bool) (common.LimitResult, error) {
	ev := events.OrderEvent{Venue: e.venue, Symbol: symbol, Side: string(side), Type: string(common.OrderTypeLimit), Qty: qty, Price: price, ReduceOnly: reduceOnly}
	e.Bus.Publish(events.EventOrderSubmitted, ev)

	start := time.Now()
	res, err := e.next.PlaceLimitOrder(ctx, symbol, side, qty, price, reduceOnly)
	e.observe("place_limit", start, err)
	if err != nil {
		e.reject(ctx, ev, err)
		return res, err
	}

	ev.OrderID = res.OrderID
	e.save(ctx, ev, common.StatusNew, "")
	e.Bus.Publish(events.EventOrderAccepted, ev)
	return res, nil
}

func (e *Executor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	start := time.Now()
	err := e.next.CancelOrder(ctx, symbol, orderID)
	e.observe("cancel", start, err)
	if err != nil {
		return err
	}
	e.updateStatus(ctx, orderID, common.StatusCanceled)
	e.Bus.Publish(events.EventOrderCanceled, events.OrderEvent{Venue: e.venue, OrderID: orderID, Symbol: symbol})
	return nil
}

func (e *Executor) CancelAllOrders(ctx context.Context, symbol string) error {
	start := time.Now()
	err := e.next.CancelAllOrders(ctx, symbol)
	e.observe("cancel_all", start, err)
	if err == nil {
		e.Bus.Publish(events.EventOrderCanceled, events.OrderEvent{Venue: e.venue, Symbol: symbol})
	}
	return err
}

func (e *Executor) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	start := time.Now()
	out, err := e.next.GetOpenOrders(ctx, symbol)
	e.observe("open_orders", start, err)
	return out, err
}

func (e *Executor) GetPositions(ctx context.Context, symbol string) ([]common.PositionInfo, error) {
	start := time.Now()
	out, err := e.next.GetPositions(ctx, symbol)
	e.observe("positions", start, err)
	return out, err
}

func (e *Executor) GetSymbolPrecision(ctx context.Context, symbol string) (common.SymbolPrecision, error) {
	return e.next.GetSymbolPrecision(ctx, symbol)
}

func (e *Executor) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	start := time.Now()
	err := e.next.SetLeverage(ctx, symbol, leverage)
	e.observe("set_leverage", start, err)
	return err
}

func (e *Executor) GetBalance(ctx context.Context) (common.Balance, error) {
	start := time.Now()
	out, err := e.next.GetBalance(ctx)
	e.observe("balance", start, err)
	return out, err
}

func (e *Executor) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	ps, ok := e.next.(common.PriceSource)
	if !ok {
		return 0, ErrNoPriceSource
	}
	start := time.Now()
	p, err := ps.TickerPrice(ctx, symbol)
	e.observe("ticker", start, err)
	return p, err
}

func (e *Executor) observe(op string, start time.Time, err error) {
	if e.Recorder != nil {
		e.Recorder.ObserveExchangeCall(op, time.Since(start), err)
	}
}

func (e *Executor) reject(ctx context.Context, ev events.OrderEvent, err error) {
	e.log.Warn("order rejected",
		zap.String("symbol", ev.Symbol), zap.String("side", ev.Side), zap.String("type", ev.Type),
		zap.Float64("qty", ev.Qty), zap.Float64("price", ev.Price), zap.Error(err))
	ev.Error = err.Error()
	ev.OrderID = "rejected-" + uuid.NewString()
	e.save(ctx, ev, common.StatusRejected, ev.Error)
	e.Bus.Publish(events.EventOrderRejected, ev)
}

func (e *Executor) save(ctx context.Context, ev events.OrderEvent, status common.OrderStatus, errText string) {
	if e.Store == nil {
		return
	}
	row := db.Order{
		ID:         e.rowID(ev.OrderID),
		Venue:      e.venue,
		Symbol:     ev.Symbol,
		Side:       ev.Side,
		Type:       ev.Type,
		Price:      ev.Price,
		Qty:        ev.Qty,
		ReduceOnly: ev.ReduceOnly,
		Status:     string(status),
		Error:      errText,
		CreatedAt:  time.Now(),
	}
	if err := e.Store.SaveOrder(ctx, row); err != nil {
		e.log.Warn("store order failed", zap.String("id", row.ID), zap.Error(err))
	}
}

func (e *Executor) updateStatus(ctx context.Context, orderID string, status common.OrderStatus) {
	if e.Store == nil {
		return
	}
	err := e.Store.UpdateOrderStatus(ctx, e.rowID(orderID), string(status))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		e.log.Warn("update order status failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (e *Executor) rowID(orderID string) string {
	return e.venue + ":" + orderID
}
