package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/internal/balance"
	"scalp-core/internal/engine"
	"scalp-core/internal/events"
	"scalp-core/internal/monitor"
	"scalp-core/internal/risk"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/db"
	"scalp-core/pkg/exchanges/common"
)

type fakeEngine struct {
	mu          sync.Mutex
	enabled     bool
	closeErr    error
	cancelErr   error
	skipErr     error
	tradesLimit int
}

func (f *fakeEngine) Toggle(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = !f.enabled
	return f.enabled, nil
}

func (f *fakeEngine) ManualClose(context.Context) error        { return f.closeErr }
func (f *fakeEngine) CancelPendingEntry(context.Context) error { return f.cancelErr }
func (f *fakeEngine) SkipPendingSignal(context.Context) error  { return f.skipErr }

func (f *fakeEngine) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Snapshot{Enabled: f.enabled, Symbol: "BTCUSDT", Preset: "scalp", FeedHealthy: true}
}

func (f *fakeEngine) Stats() risk.DailyStats {
	return risk.DailyStats{Date: "2026-03-02", Trades: 3, Wins: 2, Losses: 1, TotalPnL: 4.5}
}

func (f *fakeEngine) Logs(n int) []tradelog.Entry {
	out := []tradelog.Entry{{Seq: 1, Kind: tradelog.KindSignal, Message: "signal detected"}}
	if n < len(out) {
		out = out[:n]
	}
	return out
}

func (f *fakeEngine) RecentTrades(_ context.Context, limit int) ([]db.Trade, error) {
	f.mu.Lock()
	f.tradesLimit = limit
	f.mu.Unlock()
	return []db.Trade{{ID: "t1", Symbol: "BTCUSDT", Side: "long", RealizedPnL: 1.2}}, nil
}

type staticWallet struct{}

func (staticWallet) GetBalance(context.Context) (common.Balance, error) {
	return common.Balance{Asset: "USDT", Total: 1000, Available: 900}, nil
}

func newTestServer(t *testing.T, eng *fakeEngine, opts Options) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	wallet := balance.NewManager(staticWallet{}, time.Minute, nil)
	require.NoError(t, wallet.Sync(context.Background()))

	opts.Engine = eng
	opts.Balance = wallet
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewMetrics(nil)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	opts.Meta = SystemMeta{Paper: true, Venue: "paper", Symbol: "BTCUSDT", Preset: "scalp", Version: "test"}
	return NewServer(opts)
}

func do(t *testing.T, s *Server, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func TestHealthAndState(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, Options{})

	var health map[string]any
	rec := do(t, s, http.MethodGet, "/health", &health)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", health["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var snap engine.Snapshot
	rec = do(t, s, http.MethodGet, "/api/state", &snap)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, "scalp", snap.Preset)

	var meta SystemMeta
	do(t, s, http.MethodGet, "/api/meta", &meta)
	assert.Equal(t, "paper", meta.Venue)
	assert.True(t, meta.Paper)
}

func TestToggleEngine(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(t, eng, Options{})

	var resp struct {
		Enabled bool `json:"enabled"`
	}
	rec := do(t, s, http.MethodPost, "/api/engine/toggle", &resp)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Enabled)

	do(t, s, http.MethodPost, "/api/engine/toggle", &resp)
	assert.False(t, resp.Enabled)
}

func TestCommandErrorsMapToConflict(t *testing.T) {
	eng := &fakeEngine{
		closeErr:  engine.ErrNoPosition,
		cancelErr: engine.ErrNoPendingEntry,
		skipErr:   engine.ErrNoPendingSignal,
	}
	s := newTestServer(t, eng, Options{})

	cases := map[string]string{
		"/api/position/close": "NO_POSITION",
		"/api/entry/cancel":   "NO_PENDING_ENTRY",
		"/api/signal/skip":    "NO_PENDING_SIGNAL",
	}
	for path, code := range cases {
		var resp struct {
			Code string `json:"code"`
		}
		rec := do(t, s, http.MethodPost, path, &resp)
		assert.Equal(t, http.StatusConflict, rec.Code, path)
		assert.Equal(t, code, resp.Code, path)
	}
}

func TestCommandsSucceed(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, Options{})

	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/position/close", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/entry/cancel", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/signal/skip", nil).Code)
}

func TestTradesLimitIsClamped(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(t, eng, Options{})

	var resp struct {
		Trades []db.Trade `json:"trades"`
		Count  int        `json:"count"`
	}
	rec := do(t, s, http.MethodGet, "/api/trades?limit=10000", &resp)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 500, eng.tradesLimit)

	do(t, s, http.MethodGet, "/api/trades", &resp)
	assert.Equal(t, 50, eng.tradesLimit)

	rec = do(t, s, http.MethodGet, "/api/trades?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndLogs(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, Options{})

	var stats struct {
		Daily   risk.DailyStats         `json:"daily"`
		Balance balance.Snapshot        `json:"balance"`
		Metrics monitor.MetricsSnapshot `json:"metrics"`
	}
	rec := do(t, s, http.MethodGet, "/api/stats", &stats)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, stats.Daily.Trades)
	assert.InDelta(t, 900, stats.Balance.Available, 1e-9)
	assert.NotZero(t, stats.Metrics.GoroutineCount)

	var logs struct {
		Logs  []tradelog.Entry `json:"logs"`
		Count int              `json:"count"`
	}
	do(t, s, http.MethodGet, "/api/logs?limit=5", &logs)
	assert.Equal(t, 1, logs.Count)
	assert.Equal(t, "signal detected", logs.Logs[0].Message)
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	metrics.EntryOutcome("placed")
	s := newTestServer(t, &fakeEngine{}, Options{Metrics: metrics, Gatherer: reg})

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `scalp_entries_total{outcome="placed"} 1`)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, Options{RateLimit: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/health", nil).Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, Options{CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/state", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketStreamsSnapshotAndLogs(t *testing.T) {
	bus := events.NewBus()
	s := newTestServer(t, &fakeEngine{}, Options{Bus: bus})
	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first struct {
		Type string          `json:"type"`
		Data engine.Snapshot `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, string(events.EventEngineState), first.Type)
	assert.Equal(t, "BTCUSDT", first.Data.Symbol)

	// The subscription is set up after the first write; keep publishing
	// until the entry comes through.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(events.EventTradeLog, tradelog.Entry{Seq: 7, Kind: tradelog.KindInfo, Message: "hello"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var next struct {
		Type string         `json:"type"`
		Data tradelog.Entry `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, string(events.EventTradeLog), next.Type)
	assert.Equal(t, "hello", next.Data.Message)
}
