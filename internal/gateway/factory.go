// Package gateway builds the venue the engine trades on: the in-memory
// paper exchange or Binance USDT-M futures, wrapped in the order executor.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/internal/order"
	"scalp-core/pkg/config"
	exfutusdt "scalp-core/pkg/exchanges/binance/futures_usdt"
	exchange "scalp-core/pkg/exchanges/common"
)

// Venue is a ready-to-use exchange plus its REST price source.
type Venue struct {
	Name     string
	Exchange *order.Executor
	// Paper is set in paper mode; it must see every tick to fill orders.
	Paper *order.PaperExchange
	// start begins background maintenance (time sync, exchange info).
	start func(ctx context.Context)
}

// Start runs the venue's background maintenance, if any.
func (v Venue) Start(ctx context.Context) {
	if v.start != nil {
		v.start(ctx)
	}
}

// Prices returns the REST ticker source.
func (v Venue) Prices() exchange.PriceSource { return v.Exchange }

// Build selects the venue from cfg.
func Build(cfg config.Config, bus *events.Bus, store order.Store, rec order.Recorder, log *zap.Logger) (Venue, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Paper {
		pc := order.DefaultPaperConfig()
		pc.InitialBalance = cfg.PaperBalance
		pc.SlippageBps = cfg.PaperSlippageBps
		paper := order.NewPaperExchange(pc, log.Named("paper"))
		return Venue{
			Name:     "paper",
			Exchange: order.NewExecutor(paper, "paper", bus, store, rec, log.Named("executor")),
			Paper:    paper,
		}, nil
	}

	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	}, log.Named("binance"))
	name := "binance-usdtfut"
	if cfg.BinanceTestnet {
		name += "-testnet"
	}
	return Venue{
		Name:     name,
		Exchange: order.NewExecutor(client, name, bus, store, rec, log.Named("executor")),
		start:    client.Start,
	}, nil
}
