package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scalp-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

// message is the envelope pushed to websocket clients.
type message struct {
	Type events.Event `json:"type"`
	Data any          `json:"data"`
}

// websocket streams engine snapshots, trade log entries and completed trades.
// The current snapshot is sent first so clients never start blank.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := s.write(conn, message{Type: events.EventEngineState, Data: s.Engine.Snapshot()}); err != nil {
		return
	}
	if s.Bus == nil {
		return
	}

	states, unsubState := s.Bus.Subscribe(events.EventEngineState, 16)
	defer unsubState()
	logs, unsubLogs := s.Bus.Subscribe(events.EventTradeLog, 128)
	defer unsubLogs()
	trades, unsubTrades := s.Bus.Subscribe(events.EventTradeCompleted, 16)
	defer unsubTrades()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var msg message
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		case v, ok := <-states:
			if !ok {
				return
			}
			msg = message{Type: events.EventEngineState, Data: v}
		case v, ok := <-logs:
			if !ok {
				return
			}
			msg = message{Type: events.EventTradeLog, Data: v}
		case v, ok := <-trades:
			if !ok {
				return
			}
			msg = message{Type: events.EventTradeCompleted, Data: v}
		}
		if err := s.write(conn, msg); err != nil {
			s.log.Debug("ws write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}
