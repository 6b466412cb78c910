package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"scalp-core/internal/api"
	"scalp-core/internal/balance"
	"scalp-core/internal/engine"
	"scalp-core/internal/events"
	"scalp-core/internal/gateway"
	"scalp-core/internal/journal"
	"scalp-core/internal/market"
	"scalp-core/internal/monitor"
	"scalp-core/internal/persistence"
	"scalp-core/internal/reconciliation"
	"scalp-core/internal/risk"
	"scalp-core/internal/state"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/cache"
	"scalp-core/pkg/config"
	"scalp-core/pkg/db"
	"scalp-core/pkg/logger"
	marketbinance "scalp-core/pkg/market/binance"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Init(cfg.LogDir, cfg.Debug)
	defer logger.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("scalp-core stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	preset, err := config.SelectPreset(cfg.PresetsPath, cfg.Preset)
	if err != nil {
		return err
	}
	settings, err := engine.FromPreset(preset, cfg.Symbol, loc)
	if err != nil {
		return err
	}
	settings.StaleAfter = cfg.StaleAfter

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)

	logWriter := persistence.NewBatchWriter[db.LogEntry](database.AppendLogs, 100, time.Second, logger.Module("batch"))
	defer func() {
		if err := logWriter.Close(); err != nil {
			log.Warn("flush trade log failed", zap.Error(err))
		}
	}()
	trades := tradelog.New(500, bus, logWriter, logger.Module("tradelog"))

	venue, err := gateway.Build(*cfg, bus, database, metrics, logger.Module("gateway"))
	if err != nil {
		return err
	}
	venue.Start(ctx)

	prices := cache.NewPriceCache()
	feed, err := startFeed(ctx, cfg, settings, bus, prices, log)
	if err != nil {
		return err
	}

	riskMgr, err := risk.NewManager(ctx, settings.Risk, database, logger.Module("risk"))
	if err != nil {
		return err
	}
	wallet := balance.NewManager(venue.Exchange, cfg.BalanceSyncInterval, logger.Module("balance"))
	wallet.Start(ctx, bus)

	deps := engine.Deps{
		Exchange: venue.Exchange,
		Prices:   venue.Prices(),
		Cache:    prices,
		Balance:  wallet,
		Market:   feed,
		Bus:      bus,
		Risk:     riskMgr,
		Journal:  journal.New(database, preset.Name, logger.Module("journal")),
		TradeLog: trades,
		State:    state.NewManager(database, logger.Module("state")),
		Metrics:  metrics,
		Logger:   logger.Module("engine"),
	}
	if venue.Paper != nil {
		deps.TickObserver = venue.Paper.OnPrice
	}
	eng, err := engine.New(settings, deps)
	if err != nil {
		return err
	}
	if err := eng.Recover(ctx); err != nil {
		log.Warn("position recovery failed", zap.Error(err))
	}

	reconciler := reconciliation.NewService(eng.ReconcileOnce, cfg.ReconcileInterval, logger.Module("reconcile"))
	reconciler.Start(ctx)

	mon := &monitor.Monitor{
		Bus:     bus,
		Sinks:   []monitor.AlertSink{monitor.LogSink{Log: logger.Module("alerts")}},
		Metrics: metrics,
		Log:     logger.Module("monitor"),
	}
	mon.Start(ctx)

	if cfg.AutoStart {
		eng.SetEnabled(ctx, true)
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Options{
		Engine:   eng,
		Bus:      bus,
		Balance:  wallet,
		Metrics:  metrics,
		Gatherer: prometheus.DefaultGatherer,
		Meta: api.SystemMeta{
			Paper:       cfg.Paper,
			Venue:       venue.Name,
			Symbol:      cfg.Symbol,
			Preset:      preset.Name,
			UseMockFeed: cfg.UseMockFeed,
			Version:     version,
		},
		RateLimit:   cfg.APIRateLimit,
		Burst:       cfg.APIBurst,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.Module("api"),
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("api listening",
			zap.String("addr", httpServer.Addr),
			zap.String("venue", venue.Name),
			zap.String("symbol", cfg.Symbol),
			zap.String("preset", preset.Name))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serveErr:
		log.Error("api server failed", zap.Error(err))
		stop()
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("engine stopped", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	if snap := eng.Snapshot(); snap.Position != nil {
		log.Warn("exiting with an open position; it will be recovered on restart",
			zap.String("side", string(snap.Position.Side)),
			zap.Float64("qty", snap.Position.OpenQty))
	}
	return nil
}

// startFeed starts either the random-walk feed or the Binance market stream.
// Both publish price ticks on the bus and keep prices current.
func startFeed(ctx context.Context, cfg *config.Config, settings engine.Settings, bus *events.Bus, prices *cache.PriceCache, log *zap.Logger) (market.View, error) {
	intervals := mergeIntervals(cfg.Intervals, settings.Chain.Intervals())
	rest := marketbinance.NewClient(cfg.BinanceTestnet)

	if cfg.UseMockFeed {
		start := 0.0
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if p, err := rest.TickerPrice(pctx, cfg.Symbol); err == nil {
			start = p
		} else {
			log.Warn("mock feed falls back to default start price", zap.Error(err))
		}
		cancel()

		feed := &market.MockFeed{
			Symbol:     cfg.Symbol,
			Intervals:  intervals,
			StartPrice: start,
			Bus:        bus,
			Prices:     prices,
			Log:        logger.Module("mockfeed"),
		}
		feed.Start(ctx)
		return feed, nil
	}

	feed := market.NewFeed(market.FeedConfig{
		Symbol:     cfg.Symbol,
		Intervals:  intervals,
		History:    cfg.History,
		StaleAfter: 2 * cfg.StaleAfter,
	}, rest, marketbinance.NewStreamClient(cfg.BinanceTestnet, logger.Module("stream")), bus, prices, logger.Module("feed"))
	if err := feed.Warmup(ctx); err != nil {
		return nil, err
	}
	feed.Start(ctx)
	return feed, nil
}

func mergeIntervals(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, iv := range list {
			if iv == "" || seen[iv] {
				continue
			}
			seen[iv] = true
			out = append(out, iv)
		}
	}
	return out
}
