package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/entry"
	"scalp-core/internal/events"
	"scalp-core/internal/exit"
	"scalp-core/internal/journal"
	"scalp-core/internal/market"
	"scalp-core/internal/position"
	"scalp-core/internal/risk"
	"scalp-core/internal/signal"
	"scalp-core/internal/state"
	"scalp-core/internal/timers"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/exchanges/common"
)

// PendingSignal is a detected candidate waiting for confirmation.
type PendingSignal struct {
	Symbol        string        `json:"symbol"`
	Direction     position.Side `json:"direction"`
	Strength      float64       `json:"strength"`
	DetectedPrice float64       `json:"detectedPrice"`
	DetectedAt    time.Time     `json:"detectedAt"`
	WaitCount     int           `json:"waitCount"`
	Reason        string        `json:"reason,omitempty"`
}

// ConfirmConfig governs how a pending signal becomes an entry.
type ConfirmConfig struct {
	// ConfirmTicks agreeing evaluations confirm; 0 enters on detection.
	ConfirmTicks   int
	PendingTimeout time.Duration
	// MaxDriftPct cancels when price moves this far (percent) from detection; 0 disables.
	MaxDriftPct float64
	MinStrength float64
}

// Settings is the resolved policy the engine runs with.
type Settings struct {
	Symbol  string
	Preset  string
	Entry   entry.Config
	Exit    exit.Config
	Risk    risk.Config
	Confirm ConfirmConfig
	Chain   signal.Chain
	// StaleAfter is how long without ticks before an active position is
	// priced over REST.
	StaleAfter time.Duration
}

// BalanceSource reports the wallet used to size entries.
type BalanceSource interface {
	GetBalance(ctx context.Context) (common.Balance, error)
}

// Metrics receives engine outcomes. All methods must be cheap.
type Metrics interface {
	EntryOutcome(outcome string)
	TradeClosed(reason string, pnl float64)
	PositionOpen(open bool)
	DailyPnL(pnl float64)
	TickDropped()
}

type noopMetrics struct{}

func (noopMetrics) EntryOutcome(string)         {}
func (noopMetrics) TradeClosed(string, float64) {}
func (noopMetrics) PositionOpen(bool)           {}
func (noopMetrics) DailyPnL(float64)            {}
func (noopMetrics) TickDropped()                {}

// Deps are the engine collaborators. Only Exchange is required.
type Deps struct {
	Exchange common.Exchange
	Prices   common.PriceSource
	Cache    common.LastPrices // last streamed prices, read before Prices
	Balance  BalanceSource
	Market   market.View
	Bus      *events.Bus
	Risk     *risk.Manager
	Journal  *journal.Journal
	TradeLog *tradelog.Log
	State    *state.Manager
	Metrics  Metrics

	// TickObserver sees every tick before the engine does (paper venue fills).
	TickObserver func(symbol string, price float64)

	Scheduler timers.Scheduler
	Now       func() time.Time
	Logger    *zap.Logger
}

// PositionView is the read model of the in-flight or active position.
type PositionView struct {
	Generation       uint64        `json:"generation"`
	Symbol           string        `json:"symbol"`
	Side             position.Side `json:"side"`
	Phase            string        `json:"phase"`
	Leverage         int           `json:"leverage"`
	PlannedQty       float64       `json:"plannedQty"`
	FilledQty        float64       `json:"filledQty"`
	OpenQty          float64       `json:"openQty"`
	FillRatio        float64       `json:"fillRatio"`
	AvgPrice         float64       `json:"avgPrice"`
	StopLoss         float64       `json:"stopLoss"`
	LowFill          bool          `json:"lowFill"`
	EntryOrders      int           `json:"entryOrders"`
	TakeProfitOrders int           `json:"takeProfitOrders"`
	UnrealizedPnL    float64       `json:"unrealizedPnl"`
	PnLPct           float64       `json:"pnlPct"`
	StartedAt        time.Time     `json:"startedAt"`
	ActivatedAt      time.Time     `json:"activatedAt,omitempty"`
	HoldTime         string        `json:"holdTime,omitempty"`
}

// Snapshot is the immutable engine state published after every change.
type Snapshot struct {
	Enabled      bool             `json:"enabled"`
	Symbol       string           `json:"symbol"`
	Preset       string           `json:"preset"`
	FeedHealthy  bool             `json:"feedHealthy"`
	Price        float64          `json:"price"`
	PriceAt      time.Time        `json:"priceAt"`
	Pending      *PendingSignal   `json:"pending,omitempty"`
	EntryState   entry.State      `json:"entryState"`
	Position     *PositionView    `json:"position,omitempty"`
	Stats        risk.DailyStats  `json:"stats"`
	EntryBlocked string           `json:"entryBlocked,omitempty"`
	LastError    string           `json:"lastError,omitempty"`
	DroppedTicks uint64           `json:"droppedTicks"`
	Logs         []tradelog.Entry `json:"logs"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}
