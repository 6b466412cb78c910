// venue_check exercises the USDT-M futures client the service trades with:
// precision, balance, positions, open orders and the ticker. With
// VENUE_CHECK_PLACE_ORDERS=true it also rests one minimum-size limit order
// 5% away from the market and cancels it.
//
// Usage (use the testnet or an empty account first):
//
//	BINANCE_TESTNET=true go run ./scripts/venue_check
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/sizing"
	"scalp-core/pkg/config"
	exfutusdt "scalp-core/pkg/exchanges/binance/futures_usdt"
	"scalp-core/pkg/exchanges/common"
	marketbinance "scalp-core/pkg/market/binance"
)

func main() {
	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load", zap.Error(err))
	}
	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Fatal("BINANCE_API_KEY/BINANCE_API_SECRET are empty")
	}
	placeOrders := os.Getenv("VENUE_CHECK_PLACE_ORDERS") == "true"
	symbol := cfg.Symbol
	log.Info("venue check starting",
		zap.String("symbol", symbol), zap.Bool("testnet", cfg.BinanceTestnet), zap.Bool("place_orders", placeOrders))

	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	}, log.Named("binance"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	public := marketbinance.NewClient(cfg.BinanceTestnet)
	if err := public.Ping(ctx); err != nil {
		log.Fatal("market data unreachable", zap.Error(err))
	}
	if serverMs, err := public.GetServerTime(ctx); err == nil {
		skew := time.Duration(time.Now().UnixMilli()-serverMs) * time.Millisecond
		log.Info("server time", zap.Duration("local_skew", skew))
	}

	client.Start(ctx)

	prec, err := client.GetSymbolPrecision(ctx, symbol)
	if err != nil {
		log.Fatal("GetSymbolPrecision", zap.Error(err))
	}
	log.Info("precision", zap.Float64("tick", prec.TickSize), zap.Float64("step", prec.StepSize), zap.Float64("min_notional", prec.MinNotional))

	if bal, err := client.GetBalance(ctx); err != nil {
		log.Error("GetBalance", zap.Error(err))
	} else {
		log.Info("balance", zap.String("asset", bal.Asset), zap.Float64("total", bal.Total), zap.Float64("available", bal.Available))
	}

	if list, err := client.GetPositions(ctx, symbol); err != nil {
		log.Error("GetPositions", zap.Error(err))
	} else {
		net := common.NetPosition(list, symbol)
		log.Info("position", zap.Float64("qty", net.Quantity), zap.Float64("entry", net.EntryPrice), zap.Float64("upnl", net.UnrealizedPnL))
	}

	if orders, err := client.GetOpenOrders(ctx, symbol); err != nil {
		log.Error("GetOpenOrders", zap.Error(err))
	} else {
		log.Info("open orders", zap.Int("count", len(orders)))
	}

	price, err := client.TickerPrice(ctx, symbol)
	if err != nil {
		log.Fatal("TickerPrice", zap.Error(err))
	}
	log.Info("ticker", zap.Float64("price", price))

	if !placeOrders {
		log.Info("skip placing orders (VENUE_CHECK_PLACE_ORDERS=false)")
		return
	}

	limit := sizing.RoundPrice(price*0.95, prec.TickSize)
	qty := sizing.RoundQty(prec.MinNotional*1.2/limit, prec.StepSize) + prec.StepSize
	if err := sizing.CheckNotional(qty, limit, prec); err != nil {
		log.Fatal("test order too small", zap.Error(err))
	}
	res, err := client.PlaceLimitOrder(ctx, symbol, common.SideBuy, qty, limit, false)
	if err != nil {
		log.Error("PlaceLimitOrder", zap.Error(err))
		return
	}
	log.Info("limit order resting", zap.String("order_id", res.OrderID), zap.Float64("qty", qty), zap.Float64("price", limit))

	if err := client.CancelOrder(ctx, symbol, res.OrderID); err != nil {
		log.Error("CancelOrder", zap.Error(err))
		return
	}
	log.Info("venue check finished")
}
