package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	futuresStreamHost = "fstream.binance.com"
	testnetStreamHost = "stream.binancefuture.com"
)

// StreamClient manages combined-stream connections to the Binance futures
// public websocket.
type StreamClient struct {
	StreamURL    string
	ReadTimeout  time.Duration
	PingInterval time.Duration

	dialer *websocket.Dialer
	log    *zap.Logger
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, log *zap.Logger) *StreamClient {
	host := futuresStreamHost
	if testnet {
		host = testnetStreamHost
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamClient{
		StreamURL:    (&url.URL{Scheme: "wss", Host: host, Path: "/stream"}).String(),
		ReadTimeout:  60 * time.Second,
		PingInterval: 20 * time.Second,
		dialer:       websocket.DefaultDialer,
		log:          log,
	}
}

// KlineStream names the kline stream of symbol at interval.
func KlineStream(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}

// BookTickerStream names the best bid/ask stream of symbol.
func BookTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}

// DepthStream names the partial book stream (levels 5, 10 or 20) of symbol.
func DepthStream(symbol string, levels int) string {
	return fmt.Sprintf("%s@depth%d@100ms", strings.ToLower(symbol), levels)
}

// Subscribe opens one combined connection for streams and pushes decoded
// messages into the returned channel. The channel is closed when the
// connection drops or stop is called; callers reconnect by subscribing again.
func (c *StreamClient) Subscribe(ctx context.Context, streams []string) (<-chan Message, func(), error) {
	if len(streams) == 0 {
		return nil, nil, errors.New("no streams requested")
	}
	u := c.StreamURL + "?streams=" + strings.Join(streams, "/")

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan Message, 256)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go c.keepAlive(ctx, conn, done)

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
				case <-ctx.Done():
				default:
					c.log.Warn("binance ws read error", zap.Error(err))
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))

			parsed, err := parseCombined(msg)
			if err != nil {
				c.log.Debug("binance ws parse error", zap.Error(err))
				continue
			}
			select {
			case out <- parsed:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return out, stop, nil
}

func (c *StreamClient) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// parseCombined unwraps {"stream": ..., "data": ...} and decodes data by
// stream suffix.
func parseCombined(msg []byte) (Message, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return Message{}, err
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return Message{}, fmt.Errorf("not a combined stream frame: %.64s", msg)
	}
	out := Message{Stream: env.Stream}
	var err error
	switch {
	case strings.Contains(env.Stream, "@kline_"):
		out.Kind = KindKline
		out.Kline, err = parseKlineMessage(env.Data)
	case strings.HasSuffix(env.Stream, "@bookTicker"):
		out.Kind = KindBookTicker
		out.Book, err = parseBookTickerMessage(env.Data)
	case strings.Contains(env.Stream, "@depth"):
		out.Kind = KindDepth
		out.Depth, err = parseDepthMessage(env.Data)
	default:
		err = fmt.Errorf("unsupported stream %q", env.Stream)
	}
	return out, err
}

// parseKlineMessage decodes only the fields we need.
func parseKlineMessage(msg []byte) (Kline, error) {
	var raw struct {
		Data struct {
			StartTime int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			Open      any    `json:"o"`
			Close     any    `json:"c"`
			High      any    `json:"h"`
			Low       any    `json:"l"`
			Volume    any    `json:"v"`
			Quote     any    `json:"q"`
			Trades    any    `json:"n"`
			Closed    bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Kline{}, err
	}
	return Kline{
		Symbol:      raw.Data.Symbol,
		Interval:    raw.Data.Interval,
		OpenTime:    raw.Data.StartTime,
		CloseTime:   raw.Data.CloseTime,
		Open:        toFloat(raw.Data.Open),
		Close:       toFloat(raw.Data.Close),
		High:        toFloat(raw.Data.High),
		Low:         toFloat(raw.Data.Low),
		Volume:      toFloat(raw.Data.Volume),
		QuoteVolume: toFloat(raw.Data.Quote),
		Trades:      toInt(raw.Data.Trades),
		Closed:      raw.Data.Closed,
	}, nil
}

func parseBookTickerMessage(msg []byte) (BookTicker, error) {
	var raw struct {
		Symbol string `json:"s"`
		Bid    any    `json:"b"`
		BidQty any    `json:"B"`
		Ask    any    `json:"a"`
		AskQty any    `json:"A"`
		Time   any    `json:"T"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return BookTicker{}, err
	}
	return BookTicker{
		Symbol:   raw.Symbol,
		BidPrice: toFloat(raw.Bid),
		BidQty:   toFloat(raw.BidQty),
		AskPrice: toFloat(raw.Ask),
		AskQty:   toFloat(raw.AskQty),
		Time:     toInt64(raw.Time),
	}, nil
}

func parseDepthMessage(msg []byte) (Depth, error) {
	var raw struct {
		Symbol string  `json:"s"`
		Time   any     `json:"E"`
		Bids   [][]any `json:"b"`
		Asks   [][]any `json:"a"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Depth{}, err
	}
	return Depth{
		Symbol: raw.Symbol,
		Bids:   levels(raw.Bids),
		Asks:   levels(raw.Asks),
		Time:   toInt64(raw.Time),
	}, nil
}

func levels(raw [][]any) [][2]float64 {
	out := make([][2]float64, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		out = append(out, [2]float64{toFloat(l[0]), toFloat(l[1])})
	}
	return out
}
