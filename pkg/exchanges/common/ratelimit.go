package common

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter paces REST calls below a venue's request-weight budget.
type RateLimiter struct {
	limiter *rate.Limiter
	limit   int
	log     *zap.Logger
}

// NewRateLimiter creates a limiter allowing limit weight per interval
// (e.g. 2400 per minute for USDT-M futures).
func NewRateLimiter(limit int, interval time.Duration, log *zap.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 1200
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	every := interval / time.Duration(limit)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(every), limit/10+1),
		limit:   limit,
		log:     log,
	}
}

// Wait blocks until weight units are available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, weight int) error {
	if weight <= 0 {
		weight = 1
	}
	if weight > rl.limiter.Burst() {
		weight = rl.limiter.Burst()
	}
	if tokens := rl.limiter.Tokens(); tokens < float64(weight) {
		rl.log.Warn("rate limit: throttling request",
			zap.Int("weight", weight), zap.Float64("tokens", tokens), zap.Int("limit", rl.limit))
	}
	return rl.limiter.WaitN(ctx, weight)
}

// Available reports how many weight units can be spent immediately.
func (rl *RateLimiter) Available() float64 {
	return rl.limiter.Tokens()
}
