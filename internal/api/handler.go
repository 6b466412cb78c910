package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"scalp-core/internal/balance"
	"scalp-core/internal/engine"
	"scalp-core/internal/events"
	"scalp-core/internal/monitor"
)

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router   *gin.Engine
	Engine   engine.Service
	Bus      *events.Bus
	Balance  *balance.Manager
	Metrics  *monitor.Metrics
	Gatherer prometheus.Gatherer
	Meta     SystemMeta

	log      *zap.Logger
	limiters *ipLimiters
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Paper       bool   `json:"paper"`
	Venue       string `json:"venue"`
	Symbol      string `json:"symbol"`
	Preset      string `json:"preset"`
	UseMockFeed bool   `json:"useMockFeed"`
	Version     string `json:"version"`
}

// Options carries the collaborators and HTTP limits of a Server. Engine is
// required; everything else may be left empty.
type Options struct {
	Engine      engine.Service
	Bus         *events.Bus
	Balance     *balance.Manager
	Metrics     *monitor.Metrics
	Gatherer    prometheus.Gatherer
	Meta        SystemMeta
	RateLimit   float64
	Burst       int
	Timeout     time.Duration
	CORSOrigins []string
	Logger      *zap.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	s := &Server{
		Router:   r,
		Engine:   opts.Engine,
		Bus:      opts.Bus,
		Balance:  opts.Balance,
		Metrics:  opts.Metrics,
		Gatherer: opts.Gatherer,
		Meta:     opts.Meta,
		log:      log,
		limiters: newIPLimiters(opts.RateLimit, opts.Burst),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(s.limiters, log))
	r.Use(TimeoutMiddleware(opts.Timeout, log))
	r.Use(CORSMiddleware(opts.CORSOrigins))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/state", s.getState)
		api.GET("/trades", s.getTrades)
		api.GET("/stats", s.getStats)
		api.GET("/logs", s.getLogs)
		api.GET("/meta", s.getMeta)

		api.POST("/engine/toggle", s.toggleEngine)
		api.POST("/position/close", s.closePosition)
		api.POST("/entry/cancel", s.cancelEntry)
		api.POST("/signal/skip", s.skipSignal)
	}
}

func (s *Server) health(c *gin.Context) {
	snap := s.Engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"feedHealthy": snap.FeedHealthy,
		"enabled":     snap.Enabled,
	})
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.Router
}
