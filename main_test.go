package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/internal/api"
	"scalp-core/internal/engine"
	"scalp-core/internal/entry"
	"scalp-core/internal/events"
	"scalp-core/internal/exit"
	"scalp-core/internal/gateway"
	"scalp-core/internal/journal"
	"scalp-core/internal/market"
	"scalp-core/internal/monitor"
	"scalp-core/internal/persistence"
	"scalp-core/internal/position"
	"scalp-core/internal/risk"
	"scalp-core/internal/signal"
	"scalp-core/internal/state"
	"scalp-core/internal/timers"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/config"
	"scalp-core/pkg/db"
)

const testSymbol = "BTCUSDT"

type switchEvaluator struct{ fire bool }

func (s *switchEvaluator) Name() string { return "switch" }

func (s *switchEvaluator) Evaluate(in signal.Input) (signal.Candidate, bool) {
	return signal.Candidate{Direction: position.Long, Strength: 0.9, Price: in.Price, Reason: "switch"}, s.fire
}

// TestFullWorkflow drives one trade through the wired service: paper venue,
// SQLite persistence, engine and HTTP API.
func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	bus := events.NewBus()
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	clock := timers.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	logWriter := persistence.NewBatchWriter[db.LogEntry](database.AppendLogs, 50, time.Hour, nil)
	trades := tradelog.New(200, bus, logWriter, nil)
	trades.SetClock(clock.Now)

	venue, err := gateway.Build(config.Config{Paper: true, PaperBalance: 1000}, bus, database, metrics, nil)
	require.NoError(t, err)
	require.NotNil(t, venue.Paper)
	venue.Paper.OnPrice(testSymbol, 100)

	riskCfg := risk.Config{MaxDailyTrades: 10, MaxDailyLoss: 100, Location: time.UTC}
	riskMgr, err := risk.NewManager(ctx, riskCfg, database, nil)
	require.NoError(t, err)
	riskMgr.SetClock(clock.Now)

	eval := &switchEvaluator{}
	settings := engine.Settings{
		Symbol:  testSymbol,
		Preset:  "test",
		Entry:   entry.DefaultConfig(),
		Exit:    exit.DefaultConfig(),
		Risk:    riskCfg,
		Confirm: engine.ConfirmConfig{ConfirmTicks: 2, PendingTimeout: 15 * time.Second, MaxDriftPct: 0.15, MinStrength: 0.5},
		Chain:   signal.Chain{Evaluator: eval},
	}
	eng, err := engine.New(settings, engine.Deps{
		Exchange:     venue.Exchange,
		Prices:       venue.Prices(),
		Bus:          bus,
		Risk:         riskMgr,
		Journal:      journal.New(database, "test", nil),
		TradeLog:     trades,
		State:        state.NewManager(database, nil),
		Metrics:      metrics,
		TickObserver: venue.Paper.OnPrice,
		Scheduler:    clock,
		Now:          clock.Now,
	})
	require.NoError(t, err)

	server := api.NewServer(api.Options{Engine: eng, Bus: bus, Metrics: metrics, Gatherer: reg})
	call := func(method, path string, out any) int {
		rec := httptest.NewRecorder()
		server.Router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		if out != nil {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
		}
		return rec.Code
	}
	tick := func(price float64) {
		eng.OnTick(ctx, market.Tick{Symbol: testSymbol, Price: price, Time: clock.Now()})
	}

	var toggled struct {
		Enabled bool `json:"enabled"`
	}
	require.Equal(t, http.StatusOK, call(http.MethodPost, "/api/engine/toggle", &toggled))
	require.True(t, toggled.Enabled)

	// Detect, confirm twice, then let the ladder fill.
	eval.fire = true
	tick(100)
	tick(100)
	tick(100)
	eval.fire = false
	require.Equal(t, entry.StateWaiting, eng.Snapshot().EntryState)
	tick(99.8)
	clock.Advance(8 * time.Second)

	var snap engine.Snapshot
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/api/state", &snap))
	require.NotNil(t, snap.Position)
	assert.Equal(t, string(position.PhaseActive), snap.Position.Phase)

	cp, err := database.LoadPosition(ctx, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, "long", cp.Side)

	// Stop loss.
	tick(99.0)
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/api/state", &snap))
	assert.Nil(t, snap.Position)
	assert.Equal(t, 1, snap.Stats.Trades)

	var tradesResp struct {
		Trades []db.Trade `json:"trades"`
	}
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/api/trades", &tradesResp))
	require.Len(t, tradesResp.Trades, 1)
	assert.Equal(t, string(position.ReasonStopLoss), tradesResp.Trades[0].Reason)
	assert.Less(t, tradesResp.Trades[0].RealizedPnL, 0.0)

	daily, err := database.GetDailyStats(ctx, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 1, daily.Trades)
	assert.Equal(t, 1, daily.Losses)

	_, err = database.LoadPosition(ctx, testSymbol)
	assert.ErrorIs(t, err, db.ErrNotFound)

	var count int
	require.NoError(t, database.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count))
	assert.Positive(t, count)

	require.NoError(t, logWriter.Close())
	logs, err := database.RecentLogs(ctx, 500)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	assert.Equal(t, http.StatusConflict, call(http.MethodPost, "/api/position/close", nil))
}
