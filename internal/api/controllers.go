package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"scalp-core/internal/engine"
	"scalp-core/internal/entry"
)

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize(def, max int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// commandError maps engine command errors to HTTP responses.
func commandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNoPosition):
		respondError(c, http.StatusConflict, "NO_POSITION", err.Error())
	case errors.Is(err, engine.ErrNoPendingSignal):
		respondError(c, http.StatusConflict, "NO_PENDING_SIGNAL", err.Error())
	case errors.Is(err, engine.ErrNoPendingEntry):
		respondError(c, http.StatusConflict, "NO_PENDING_ENTRY", err.Error())
	case errors.Is(err, entry.ErrBusy), errors.Is(err, entry.ErrCooldown):
		respondError(c, http.StatusConflict, "BUSY", err.Error())
	default:
		respondError(c, http.StatusBadGateway, "ENGINE_ERROR", err.Error())
	}
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Snapshot())
}

func (s *Server) getMeta(c *gin.Context) {
	c.JSON(http.StatusOK, s.Meta)
}

func (s *Server) getTrades(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(50, 500)

	trades, err := s.Engine.RecentTrades(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "TRADES_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) getLogs(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(100, 1000)
	logs := s.Engine.Logs(q.Limit)
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// getStats combines the daily risk counters with balance and runtime metrics.
func (s *Server) getStats(c *gin.Context) {
	resp := gin.H{"daily": s.Engine.Stats()}
	if s.Balance != nil {
		resp["balance"] = s.Balance.Snapshot()
	}
	if s.Metrics != nil {
		resp["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) toggleEngine(c *gin.Context) {
	enabled, err := s.Engine.Toggle(c.Request.Context())
	if err != nil {
		commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (s *Server) closePosition(c *gin.Context) {
	if err := s.Engine.ManualClose(c.Request.Context()); err != nil {
		commandError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "closing"})
}

func (s *Server) cancelEntry(c *gin.Context) {
	if err := s.Engine.CancelPendingEntry(c.Request.Context()); err != nil {
		commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (s *Server) skipSignal(c *gin.Context) {
	if err := s.Engine.SkipPendingSignal(c.Request.Context()); err != nil {
		commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "skipped"})
}
