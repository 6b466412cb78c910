package market

// Kline represents a single candlestick with the Binance futures fields we use.
type Kline struct {
	Symbol      string  // trading pair symbol
	Interval    string  // 1m, 5m, ...
	OpenTime    int64   // 0: Open time (ms)
	Open        float64 // 1: Open price
	High        float64 // 2: High price
	Low         float64 // 3: Low price
	Close       float64 // 4: Close price
	Volume      float64 // 5: Base asset volume
	CloseTime   int64   // 6: Close time (ms)
	QuoteVolume float64 // 7: Quote asset volume
	Trades      int     // 8: Number of trades
	// Closed is false while the candle is still forming (stream only).
	Closed bool
}

// BookTicker holds best bid/ask.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
	Time     int64
}

// Mid is the midpoint of the best quotes, or the non-zero side.
func (b BookTicker) Mid() float64 {
	switch {
	case b.BidPrice > 0 && b.AskPrice > 0:
		return (b.BidPrice + b.AskPrice) / 2
	case b.BidPrice > 0:
		return b.BidPrice
	default:
		return b.AskPrice
	}
}

// Depth is a partial order book snapshot (top N levels).
type Depth struct {
	Symbol string
	Bids   [][2]float64 // [price, qty], best first
	Asks   [][2]float64 // [price, qty], best first
	Time   int64
}

// MessageKind tags the payload carried by a stream Message.
type MessageKind int

const (
	KindKline MessageKind = iota + 1
	KindBookTicker
	KindDepth
)

// Message is one decoded frame from a combined stream.
type Message struct {
	Kind   MessageKind
	Stream string
	Kline  Kline
	Book   BookTicker
	Depth  Depth
}
