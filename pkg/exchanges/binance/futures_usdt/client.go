package futures_usdt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	bncommon "github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"scalp-core/pkg/exchanges/common"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// WeightPerMinute caps REST usage; defaults to the venue's 2400.
	WeightPerMinute int
}

// Client implements common.Exchange on Binance USDT-M futures.
type Client struct {
	api         *futures.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         *zap.Logger

	mu        sync.RWMutex
	precision map[string]common.SymbolPrecision
}

var _ common.Exchange = (*Client)(nil)

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	futures.UseTestnet = cfg.Testnet
	api := futures.NewClient(cfg.APIKey, cfg.APISecret)

	c := &Client{
		api:       api,
		log:       log,
		precision: make(map[string]common.SymbolPrecision),
	}
	c.timeSync = common.NewTimeSync(
		func(ctx context.Context) (int64, error) { return api.NewServerTimeService().Do(ctx) },
		func(offset int64) { api.TimeOffset = offset },
		log,
	)
	c.rateLimiter = common.NewRateLimiter(cfg.WeightPerMinute, time.Minute, log)
	return c
}

// Start keeps the request clock aligned with the server and warms the
// exchange-info cache.
func (c *Client) Start(ctx context.Context) {
	c.timeSync.Start(ctx)
	if err := c.loadExchangeInfo(ctx); err != nil {
		c.log.Warn("exchange info warm-up failed", zap.Error(err))
	}
}

// PlaceMarketOrder sends a MARKET order and waits for the RESULT response.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64, reduceOnly bool) (common.MarketResult, error) {
	prec, err := c.GetSymbolPrecision(ctx, symbol)
	if err != nil {
		return common.MarketResult{}, err
	}
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return common.MarketResult{}, err
	}
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatDecimal(qty, prec.QuantityPrecision)).
		NewClientOrderID(clientOrderID()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return common.MarketResult{}, fmt.Errorf("market order %s %s: %w", symbol, side, err)
	}
	return common.MarketResult{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
		AvgPrice:    parseFloat(res.AvgPrice),
	}, nil
}

// PlaceLimitOrder rests a GTC LIMIT order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64, reduceOnly bool) (common.LimitResult, error) {
	prec, err := c.GetSymbolPrecision(ctx, symbol)
	if err != nil {
		return common.LimitResult{}, err
	}
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return common.LimitResult{}, err
	}
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatDecimal(qty, prec.QuantityPrecision)).
		Price(formatDecimal(price, prec.PricePrecision)).
		NewClientOrderID(clientOrderID())
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return common.LimitResult{}, fmt.Errorf("limit order %s %s @%v: %w", symbol, side, price, err)
	}
	return common.LimitResult{OrderID: strconv.FormatInt(res.OrderID, 10)}, nil
}

// CancelOrder cancels one order; an already-gone order is not an error.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return err
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		if isAPICode(err, -2011) { // Unknown order sent.
			return nil
		}
		return fmt.Errorf("cancel order %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

// CancelAllOrders cancels every open order on symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return err
	}
	if err := c.api.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("cancel all %s: %w", symbol, err)
	}
	return nil
}

// GetOpenOrders lists resting orders on symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return nil, err
	}
	orders, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}
	out := make([]common.OpenOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, common.OpenOrder{
			OrderID:     strconv.FormatInt(o.OrderID, 10),
			Symbol:      o.Symbol,
			Side:        common.Side(o.Side),
			Type:        common.OrderType(o.Type),
			Price:       parseFloat(o.Price),
			OrigQty:     parseFloat(o.OrigQuantity),
			ExecutedQty: parseFloat(o.ExecutedQuantity),
			ReduceOnly:  o.ReduceOnly,
			Status:      common.NormalizeStatus(string(o.Status)),
			Time:        time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

// GetPositions returns non-flat positions for symbol (all symbols when empty).
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]common.PositionInfo, error) {
	weight := 1
	if symbol == "" {
		weight = 5
	}
	if err := c.rateLimiter.Wait(ctx, weight); err != nil {
		return nil, err
	}
	svc := c.api.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk %s: %w", symbol, err)
	}
	out := make([]common.PositionInfo, 0, len(risks))
	for _, p := range risks {
		qty := parseFloat(p.PositionAmt)
		if qty == 0 {
			continue
		}
		out = append(out, common.PositionInfo{
			Symbol:        p.Symbol,
			Quantity:      qty,
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnRealizedProfit),
		})
	}
	return out, nil
}

// GetSymbolPrecision returns cached trading rules, loading exchange info on miss.
func (c *Client) GetSymbolPrecision(ctx context.Context, symbol string) (common.SymbolPrecision, error) {
	c.mu.RLock()
	p, ok := c.precision[symbol]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	if err := c.loadExchangeInfo(ctx); err != nil {
		return common.SymbolPrecision{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.precision[symbol]; ok {
		return p, nil
	}
	return common.SymbolPrecision{}, fmt.Errorf("symbol %s not listed", symbol)
}

// SetLeverage changes leverage; Binance answers "no need to change" when it is already set.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return err
	}
	if _, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no need to change") {
			return nil
		}
		return fmt.Errorf("set leverage %s x%d: %w", symbol, leverage, err)
	}
	return nil
}

// GetBalance returns the USDT wallet.
func (c *Client) GetBalance(ctx context.Context) (common.Balance, error) {
	if err := c.rateLimiter.Wait(ctx, 5); err != nil {
		return common.Balance{}, err
	}
	balances, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return common.Balance{}, fmt.Errorf("balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return common.Balance{
				Asset:     b.Asset,
				Total:     parseFloat(b.Balance),
				Available: parseFloat(b.AvailableBalance),
			}, nil
		}
	}
	return common.Balance{Asset: "USDT"}, nil
}

// TickerPrice returns the last traded price; used when the stream is stale.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return 0, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("ticker price %s: empty response", symbol)
}

func (c *Client) loadExchangeInfo(ctx context.Context) error {
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return err
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}

	loaded := make(map[string]common.SymbolPrecision, len(info.Symbols))
	for _, s := range info.Symbols {
		p := common.SymbolPrecision{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				p.TickSize = filterFloat(f, "tickSize")
			case "LOT_SIZE":
				p.StepSize = filterFloat(f, "stepSize")
			case "MIN_NOTIONAL":
				p.MinNotional = filterFloat(f, "notional")
			}
		}
		loaded[s.Symbol] = p
	}

	c.mu.Lock()
	c.precision = loaded
	c.mu.Unlock()
	c.log.Info("exchange info loaded", zap.Int("symbols", len(loaded)))
	return nil
}

func filterFloat(f map[string]interface{}, key string) float64 {
	switch v := f[key].(type) {
	case string:
		return parseFloat(v)
	case float64:
		return v
	}
	return 0
}

func isAPICode(err error, code int64) bool {
	var apiErr *bncommon.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func clientOrderID() string {
	return "sc-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func formatDecimal(v float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}
