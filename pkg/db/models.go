package db

import "time"

// Trade is one completed round trip.
type Trade struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Qty         float64   `json:"qty"`
	Leverage    int       `json:"leverage"`
	GrossPnL    float64   `json:"gross_pnl"`
	Fees        float64   `json:"fees"`
	RealizedPnL float64   `json:"realized_pnl"`
	Reason      string    `json:"reason"`
	LowFill     bool      `json:"low_fill"`
	Preset      string    `json:"preset"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
}

// DailyStats is the per-day aggregate row.
type DailyStats struct {
	Date     string  `json:"date"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
	Fees     float64 `json:"fees"`
}

// LogEntry is a persisted trade-log record.
type LogEntry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	Fields  string    `json:"fields,omitempty"` // JSON object
}

// Order is an order row written by the executor.
type Order struct {
	ID         string    `json:"id"`
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Type       string    `json:"type"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	ReduceOnly bool      `json:"reduce_only"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PositionCheckpoint is the persisted state of the active position.
type PositionCheckpoint struct {
	Symbol      string    `json:"symbol"`
	Generation  uint64    `json:"generation"`
	Side        string    `json:"side"`
	Qty         float64   `json:"qty"`
	AvgPrice    float64   `json:"avg_price"`
	PlannedQty  float64   `json:"planned_qty"`
	Leverage    int       `json:"leverage"`
	StopLoss    float64   `json:"stop_loss"`
	LowFill     bool      `json:"low_fill"`
	PeakPnLPct  float64   `json:"peak_pnl_pct"`
	ActivatedAt time.Time `json:"activated_at"`
}
