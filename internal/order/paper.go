package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalp-core/pkg/exchanges/common"
)

// ErrNoPrice is returned when the paper venue has not seen a price yet.
var ErrNoPrice = errors.New("paper: no price for symbol")

// ErrReduceOnlyRejected mirrors the venue rejection of a reduce-only order
// that would open or grow a position.
var ErrReduceOnlyRejected = errors.New("paper: reduce-only order rejected")

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	InitialBalance float64
	MakerFee       float64 // decimal, e.g. 0.0002 = 2 bps
	TakerFee       float64
	SlippageBps    float64 // applied to market fills
	LatencyMin     time.Duration
	LatencyMax     time.Duration
	// Precision overrides per symbol; DefaultPrecision covers the rest.
	Precision        map[string]common.SymbolPrecision
	DefaultPrecision common.SymbolPrecision
}

// DefaultPaperConfig matches typical USDT-M futures fee tiers.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		InitialBalance:   10000,
		MakerFee:         0.0002,
		TakerFee:         0.0005,
		DefaultPrecision: common.SymbolPrecision{TickSize: 0.01, StepSize: 0.001, MinNotional: 5, PricePrecision: 2, QuantityPrecision: 3},
	}
}

// PaperExchange is an in-memory futures venue for dry runs and tests.
// Market orders fill at the last price, limit orders rest until the price
// trades through them.
type PaperExchange struct {
	cfg PaperConfig
	log *zap.Logger
	rng *rand.Rand

	mu        sync.Mutex
	seq       int64
	balance   float64
	prices    map[string]float64
	positions map[string]*paperPosition
	orders    map[string]*paperOrder
	leverage  map[string]int
	fills     []PaperFill
}

type paperPosition struct {
	qty   float64 // signed
	entry float64
}

type paperOrder struct {
	seq        int64
	id         string
	symbol     string
	side       common.Side
	price      float64
	qty        float64
	filled     float64
	reduceOnly bool
	placedAt   time.Time
}

// PaperFill records one simulated execution.
type PaperFill struct {
	OrderID string
	Symbol  string
	Side    common.Side
	Qty     float64
	Price   float64
	Fee     float64
	Maker   bool
	Time    time.Time
}

var (
	_ common.Exchange    = (*PaperExchange)(nil)
	_ common.PriceSource = (*PaperExchange)(nil)
)

// NewPaperExchange builds a simulated venue.
func NewPaperExchange(cfg PaperConfig, log *zap.Logger) *PaperExchange {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LatencyMax > 0 && cfg.LatencyMin > cfg.LatencyMax {
		cfg.LatencyMin, cfg.LatencyMax = cfg.LatencyMax, cfg.LatencyMin
	}
	return &PaperExchange{
		cfg:       cfg,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		balance:   cfg.InitialBalance,
		prices:    make(map[string]float64),
		positions: make(map[string]*paperPosition),
		orders:    make(map[string]*paperOrder),
		leverage:  make(map[string]int),
	}
}

// OnPrice records a trade price and fills every resting order it crosses.
func (p *PaperExchange) OnPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price

	for _, o := range p.sortedOrders(symbol) {
		crossed := (o.side == common.SideBuy && price <= o.price) ||
			(o.side == common.SideSell && price >= o.price)
		if crossed {
			p.fillOrderLocked(o, o.qty-o.filled, o.price, true)
		}
	}
}

// Fill executes qty of a resting order at its limit price, for scripted
// partial fills.
func (p *PaperExchange) Fill(orderID string, qty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	p.fillOrderLocked(o, qty, o.price, true)
	return nil
}

// Fills returns a copy of the execution history.
func (p *PaperExchange) Fills() []PaperFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperFill(nil), p.fills...)
}

func (p *PaperExchange) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64, reduceOnly bool) (common.MarketResult, error) {
	if err := p.latency(ctx); err != nil {
		return common.MarketResult{}, err
	}
	if qty <= 0 {
		return common.MarketResult{}, fmt.Errorf("paper: invalid quantity %v", qty)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.prices[symbol]
	if !ok {
		return common.MarketResult{}, ErrNoPrice
	}
	if reduceOnly {
		qty = p.reducibleLocked(symbol, side, qty)
		if qty <= 0 {
			return common.MarketResult{}, ErrReduceOnlyRejected
		}
	}

	price := last
	if slip := p.cfg.SlippageBps / 10000; slip > 0 {
		noise := p.rng.Float64() * slip
		if side == common.SideBuy {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
	}

	id := p.nextIDLocked()
	p.applyFillLocked(id, symbol, side, qty, price, false)
	return common.MarketResult{OrderID: id, ExecutedQty: qty, AvgPrice: price}, nil
}

func (p *PaperExchange) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64, reduceOnly bool) (common.LimitResult, error) {
	if err := p.latency(ctx); err != nil {
		return common.LimitResult{}, err
	}
	if qty <= 0 || price <= 0 {
		return common.LimitResult{}, fmt.Errorf("paper: invalid limit %v @ %v", qty, price)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if reduceOnly && p.reducibleLocked(symbol, side, qty) <= 0 {
		return common.LimitResult{}, ErrReduceOnlyRejected
	}

	id := p.nextIDLocked()
	o := &paperOrder{
		seq:        p.seq,
		id:         id,
		symbol:     symbol,
		side:       side,
		price:      price,
		qty:        qty,
		reduceOnly: reduceOnly,
		placedAt:   time.Now(),
	}
	p.orders[id] = o

	if last, ok := p.prices[symbol]; ok {
		marketable := (side == common.SideBuy && last <= price) || (side == common.SideSell && last >= price)
		if marketable {
			p.fillOrderLocked(o, qty, last, false)
		}
	}
	return common.LimitResult{OrderID: id}, nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := p.latency(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[orderID]; ok && o.symbol == symbol {
		delete(p.orders, orderID)
	}
	return nil
}

func (p *PaperExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := p.latency(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, o := range p.orders {
		if o.symbol == symbol {
			delete(p.orders, id)
		}
	}
	return nil
}

func (p *PaperExchange) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if err := p.latency(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []common.OpenOrder
	for _, o := range p.sortedOrders(symbol) {
		status := common.StatusNew
		if o.filled > 0 {
			status = common.StatusPartial
		}
		out = append(out, common.OpenOrder{
			OrderID:     o.id,
			Symbol:      o.symbol,
			Side:        o.side,
			Type:        common.OrderTypeLimit,
			Price:       o.price,
			OrigQty:     o.qty,
			ExecutedQty: o.filled,
			ReduceOnly:  o.reduceOnly,
			Status:      status,
			Time:        o.placedAt,
		})
	}
	return out, nil
}

func (p *PaperExchange) GetPositions(ctx context.Context, symbol string) ([]common.PositionInfo, error) {
	if err := p.latency(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []common.PositionInfo
	for sym, pos := range p.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		if pos.qty == 0 {
			continue
		}
		mark := p.prices[sym]
		out = append(out, common.PositionInfo{
			Symbol:        sym,
			Quantity:      pos.qty,
			EntryPrice:    pos.entry,
			MarkPrice:     mark,
			UnrealizedPnL: (mark - pos.entry) * pos.qty,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *PaperExchange) GetSymbolPrecision(_ context.Context, symbol string) (common.SymbolPrecision, error) {
	prec, ok := p.cfg.Precision[symbol]
	if !ok {
		prec = p.cfg.DefaultPrecision
	}
	prec.Symbol = symbol
	if prec.TickSize <= 0 || prec.StepSize <= 0 {
		return common.SymbolPrecision{}, fmt.Errorf("paper: no trading rules for %s", symbol)
	}
	return prec, nil
}

func (p *PaperExchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("paper: invalid leverage %d", leverage)
	}
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	return nil
}

func (p *PaperExchange) GetBalance(_ context.Context) (common.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var margin float64
	for sym, pos := range p.positions {
		lev := p.leverage[sym]
		if lev < 1 {
			lev = 1
		}
		margin += math.Abs(pos.qty) * pos.entry / float64(lev)
	}
	return common.Balance{Asset: "USDT", Total: p.balance, Available: p.balance - margin}, nil
}

func (p *PaperExchange) TickerPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, ErrNoPrice
	}
	return price, nil
}

func (p *PaperExchange) fillOrderLocked(o *paperOrder, qty, price float64, maker bool) {
	if rem := o.qty - o.filled; qty > rem {
		qty = rem
	}
	if o.reduceOnly {
		qty = p.reducibleLocked(o.symbol, o.side, qty)
		if qty <= 0 {
			// Nothing left to reduce: the venue expires the order.
			delete(p.orders, o.id)
			return
		}
	}
	if qty <= 0 {
		return
	}
	o.filled += qty
	p.applyFillLocked(o.id, o.symbol, o.side, qty, price, maker)
	if o.filled >= o.qty-1e-12 {
		delete(p.orders, o.id)
	}
}

// reducibleLocked caps qty at what side can actually reduce.
func (p *PaperExchange) reducibleLocked(symbol string, side common.Side, qty float64) float64 {
	pos, ok := p.positions[symbol]
	if !ok || pos.qty == 0 {
		return 0
	}
	if (side == common.SideSell && pos.qty < 0) || (side == common.SideBuy && pos.qty > 0) {
		return 0
	}
	return math.Min(qty, math.Abs(pos.qty))
}

func (p *PaperExchange) applyFillLocked(id, symbol string, side common.Side, qty, price float64, maker bool) {
	rate := p.cfg.TakerFee
	if maker {
		rate = p.cfg.MakerFee
	}
	fee := qty * price * rate
	p.balance -= fee

	delta := qty
	if side == common.SideSell {
		delta = -qty
	}
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &paperPosition{}
		p.positions[symbol] = pos
	}

	switch {
	case pos.qty == 0 || (pos.qty > 0) == (delta > 0):
		total := math.Abs(pos.qty)*pos.entry + qty*price
		pos.qty += delta
		pos.entry = total / math.Abs(pos.qty)
	default:
		closing := math.Min(qty, math.Abs(pos.qty))
		sign := 1.0
		if pos.qty < 0 {
			sign = -1
		}
		p.balance += (price - pos.entry) * closing * sign
		pos.qty += delta
		switch {
		case math.Abs(pos.qty) < 1e-12:
			delete(p.positions, symbol)
		case (pos.qty > 0) != (sign > 0):
			// Flipped through zero: the remainder opens at this price.
			pos.entry = price
		}
	}

	p.fills = append(p.fills, PaperFill{
		OrderID: id, Symbol: symbol, Side: side, Qty: qty, Price: price, Fee: fee, Maker: maker, Time: time.Now(),
	})
	p.log.Debug("paper fill",
		zap.String("symbol", symbol), zap.String("side", string(side)),
		zap.Float64("qty", qty), zap.Float64("price", price), zap.Bool("maker", maker),
		zap.Float64("balance", p.balance))
}

func (p *PaperExchange) sortedOrders(symbol string) []*paperOrder {
	out := make([]*paperOrder, 0, len(p.orders))
	for _, o := range p.orders {
		if o.symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (p *PaperExchange) nextIDLocked() string {
	p.seq++
	return strconv.FormatInt(p.seq, 10)
}

// latency simulates gateway round-trip time.
func (p *PaperExchange) latency(ctx context.Context) error {
	if p.cfg.LatencyMax <= 0 {
		return ctx.Err()
	}
	d := p.cfg.LatencyMin
	if span := p.cfg.LatencyMax - p.cfg.LatencyMin; span > 0 {
		p.mu.Lock()
		d += time.Duration(p.rng.Int63n(int64(span) + 1))
		p.mu.Unlock()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
