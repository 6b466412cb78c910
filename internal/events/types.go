package events

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventFeedStatus     Event = "feed.status"
	EventStrategySignal Event = "strategy_signal"
	EventRiskAlert      Event = "risk_alert"
	EventPositionChange Event = "position_change"
	EventEngineState    Event = "engine.state"
	EventTradeLog       Event = "tradelog.entry"
	EventTradeCompleted Event = "trade.completed"

	EventOrderSubmitted Event = "order.submitted"
	EventOrderAccepted  Event = "order.accepted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFilled    Event = "order.filled"
	EventOrderCanceled  Event = "order.canceled"
)

// OrderEvent is the payload of order.* events.
type OrderEvent struct {
	Venue      string
	OrderID    string
	Symbol     string
	Side       string
	Type       string
	Qty        float64
	Price      float64
	ReduceOnly bool
	Error      string
}

// Alert is the payload of risk_alert events.
type Alert struct {
	Severity string // "warn" or "fatal"
	Symbol   string
	Message  string
}
