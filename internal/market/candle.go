package market

import (
	"sync"
	"time"

	binance "scalp-core/pkg/market/binance"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Closed   bool
}

// FromKline converts a venue kline.
func FromKline(k binance.Kline) Candle {
	return Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     k.Open,
		High:     k.High,
		Low:      k.Low,
		Close:    k.Close,
		Volume:   k.Volume,
		Closed:   k.Closed,
	}
}

// Series is a bounded, time-ordered window of candles for one interval. The
// last candle may still be forming; updates with the same open time replace it.
type Series struct {
	mu      sync.RWMutex
	max     int
	candles []Candle
}

// NewSeries keeps at most max candles.
func NewSeries(max int) *Series {
	if max <= 0 {
		max = 200
	}
	return &Series{max: max, candles: make([]Candle, 0, max)}
}

// Update applies a candle. Candles older than the last one are ignored.
func (s *Series) Update(c Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.candles)
	if n > 0 {
		last := s.candles[n-1]
		switch {
		case c.OpenTime.Equal(last.OpenTime):
			s.candles[n-1] = c
			return
		case c.OpenTime.Before(last.OpenTime):
			return
		}
	}
	s.candles = append(s.candles, c)
	if len(s.candles) > s.max {
		s.candles = append(s.candles[:0], s.candles[len(s.candles)-s.max:]...)
	}
}

// Candles returns a copy of the window, oldest first.
func (s *Series) Candles() []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Candle(nil), s.candles...)
}

// Len is the number of candles held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Closes extracts closing prices.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// HLC extracts highs, lows and closes.
func HLC(cs []Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(cs))
	lows = make([]float64, len(cs))
	closes = make([]float64, len(cs))
	for i, c := range cs {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	return highs, lows, closes
}
