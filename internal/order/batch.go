package order

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"scalp-core/pkg/exchanges/common"
)

// LimitRequest describes one limit clip.
type LimitRequest struct {
	Symbol     string
	Side       common.Side
	Qty        float64
	Price      float64
	ReduceOnly bool
	Purpose    Purpose
}

// Placement is the outcome of one clip.
type Placement struct {
	Request LimitRequest
	Order   Order
	Err     error
}

// PlaceLimits submits reqs concurrently, at most parallel in flight, and
// returns one Placement per request in request order. A failing clip never
// cancels its siblings.
func PlaceLimits(ctx context.Context, ex common.Exchange, reqs []LimitRequest, parallel int, now time.Time) []Placement {
	out := make([]Placement, len(reqs))
	if parallel < 1 {
		parallel = 1
	}

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			out[i].Request = req
			res, err := ex.PlaceLimitOrder(ctx, req.Symbol, req.Side, req.Qty, req.Price, req.ReduceOnly)
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Order = Order{
				ID:         res.OrderID,
				Symbol:     req.Symbol,
				Side:       req.Side,
				Type:       common.OrderTypeLimit,
				Purpose:    req.Purpose,
				Price:      req.Price,
				Qty:        req.Qty,
				ReduceOnly: req.ReduceOnly,
				Status:     common.StatusNew,
				PlacedAt:   now,
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Accepted returns the orders that were acknowledged.
func Accepted(ps []Placement) []Order {
	out := make([]Order, 0, len(ps))
	for _, p := range ps {
		if p.Err == nil {
			out = append(out, p.Order)
		}
	}
	return out
}
