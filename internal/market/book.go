package market

import (
	"time"

	binance "scalp-core/pkg/market/binance"
)

// Level is one price level of the book.
type Level struct {
	Price float64
	Qty   float64
}

// Book is the top of the order book for one symbol.
type Book struct {
	Symbol  string
	BestBid float64
	BestAsk float64
	Bids    []Level // best first
	Asks    []Level // best first
	Time    time.Time
}

// Mid is the midpoint of best bid and ask, or zero when either is missing.
func (b Book) Mid() float64 {
	if b.BestBid <= 0 || b.BestAsk <= 0 {
		return 0
	}
	return (b.BestBid + b.BestAsk) / 2
}

// SpreadPct is the quoted spread relative to mid, in percent.
func (b Book) SpreadPct() float64 {
	mid := b.Mid()
	if mid <= 0 {
		return 0
	}
	return (b.BestAsk - b.BestBid) / mid * 100
}

// DepthQty sums quantity on the top n levels of each side.
func (b Book) DepthQty(n int) (bid, ask float64) {
	for i, l := range b.Bids {
		if i >= n {
			break
		}
		bid += l.Qty
	}
	for i, l := range b.Asks {
		if i >= n {
			break
		}
		ask += l.Qty
	}
	return bid, ask
}

func toLevels(raw [][2]float64) []Level {
	out := make([]Level, 0, len(raw))
	for _, l := range raw {
		out = append(out, Level{Price: l[0], Qty: l[1]})
	}
	return out
}

func applyDepth(b Book, d binance.Depth) Book {
	b.Bids = toLevels(d.Bids)
	b.Asks = toLevels(d.Asks)
	if len(b.Bids) > 0 {
		b.BestBid = b.Bids[0].Price
	}
	if len(b.Asks) > 0 {
		b.BestAsk = b.Asks[0].Price
	}
	return b
}

// Tick is the price update the engine consumes.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}
