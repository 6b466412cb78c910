package signal

import (
	"fmt"

	"scalp-core/internal/indicators"
	"scalp-core/internal/market"
	"scalp-core/internal/position"
)

// WallConfig parameterizes OrderBookWall.
type WallConfig struct {
	Enabled bool `yaml:"enabled"`
	Levels  int  `yaml:"levels"`
	// MaxRatio is the opposing/supporting depth ratio at which entries are blocked.
	MaxRatio float64 `yaml:"max_ratio"`
}

// OrderBookWall blocks a long when resting asks over the top Levels outweigh
// bids by MaxRatio (and the mirror for shorts). An empty book abstains.
type OrderBookWall struct {
	cfg WallConfig
}

// NewOrderBookWall validates cfg.
func NewOrderBookWall(cfg WallConfig) (*OrderBookWall, error) {
	if cfg.Levels <= 0 {
		cfg.Levels = 10
	}
	if cfg.MaxRatio <= 1 {
		return nil, fmt.Errorf("orderbook wall: max_ratio must be > 1, got %v", cfg.MaxRatio)
	}
	return &OrderBookWall{cfg: cfg}, nil
}

func (w *OrderBookWall) Name() string { return "orderbook_wall" }

func (w *OrderBookWall) Allow(in Input, c Candidate) (bool, string) {
	bid, ask := in.Book.DepthQty(w.cfg.Levels)
	if bid <= 0 || ask <= 0 {
		return true, ""
	}
	against, with := ask, bid
	if c.Direction == position.Short {
		against, with = bid, ask
	}
	if ratio := against / with; ratio >= w.cfg.MaxRatio {
		return false, fmt.Sprintf("opposing depth %.2fx over top %d levels", ratio, w.cfg.Levels)
	}
	return true, ""
}

// TrendConfig parameterizes TrendVote.
type TrendConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Intervals []string `yaml:"intervals"`
	FastEMA   int      `yaml:"fast_ema"`
	SlowEMA   int      `yaml:"slow_ema"`
}

// TrendVote lets each interval vote up or down by EMA alignment and blocks
// candidates the opposing votes outnumber. Intervals without enough data abstain.
type TrendVote struct {
	cfg TrendConfig
}

// NewTrendVote validates cfg.
func NewTrendVote(cfg TrendConfig) (*TrendVote, error) {
	if len(cfg.Intervals) == 0 {
		return nil, fmt.Errorf("trend vote: no intervals")
	}
	if cfg.FastEMA < 2 || cfg.SlowEMA <= cfg.FastEMA {
		return nil, fmt.Errorf("trend vote: need 2 <= fast_ema < slow_ema, got %d/%d", cfg.FastEMA, cfg.SlowEMA)
	}
	return &TrendVote{cfg: cfg}, nil
}

func (t *TrendVote) Name() string { return "trend_vote" }

func (t *TrendVote) Intervals() []string { return t.cfg.Intervals }

func (t *TrendVote) Allow(in Input, c Candidate) (bool, string) {
	var with, against int
	for _, iv := range t.cfg.Intervals {
		closes := market.Closes(in.Candles[iv])
		fast, ok1 := indicators.EMA(closes, t.cfg.FastEMA)
		slow, ok2 := indicators.EMA(closes, t.cfg.SlowEMA)
		if !ok1 || !ok2 || fast == slow {
			continue
		}
		up := fast > slow
		if up == (c.Direction == position.Long) {
			with++
		} else {
			against++
		}
	}
	if against > with {
		return false, fmt.Sprintf("%d of %d trend votes oppose", against, with+against)
	}
	return true, ""
}
