package risk

import (
	"errors"
	"time"
)

// Gate errors returned by Manager.Allow.
var (
	ErrDailyTradeLimit = errors.New("daily trade limit reached")
	ErrDailyLossLimit  = errors.New("daily loss limit reached")
)

// Config defines the daily risk gate.
type Config struct {
	// MaxDailyTrades blocks new entries once reached; 0 disables the check.
	MaxDailyTrades int `json:"max_daily_trades" yaml:"max_daily_trades"`
	// MaxDailyLoss is a positive quote amount; 0 disables the check.
	MaxDailyLoss float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	// Location decides where the trading day starts.
	Location *time.Location `json:"-" yaml:"-"`
}

// DefaultConfig returns default risk configuration
func DefaultConfig() Config {
	return Config{
		MaxDailyTrades: 50,
		MaxDailyLoss:   100,
		Location:       time.UTC,
	}
}

// DailyStats accumulates completed trades for one calendar day.
type DailyStats struct {
	Date     string  `json:"date"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"` // net of fees
	Fees     float64 `json:"fees"`
}

// WinRate is wins ÷ trades, zero before the first trade.
func (s DailyStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

func (s *DailyStats) add(t TradeResult) {
	s.Trades++
	s.TotalPnL += t.PnL
	s.Fees += t.Fee
	if t.PnL > 0 {
		s.Wins++
	} else {
		s.Losses++
	}
}

// TradeResult represents an executed trade result.
type TradeResult struct {
	Symbol   string
	PnL      float64 // net of fees
	Fee      float64
	ClosedAt time.Time
}
