package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/pkg/exchanges/common"
)

func newPaper(t *testing.T) *PaperExchange {
	t.Helper()
	cfg := DefaultPaperConfig()
	cfg.InitialBalance = 1000
	return NewPaperExchange(cfg, nil)
}

func TestPaperMarketNeedsPrice(t *testing.T) {
	p := newPaper(t)
	_, err := p.PlaceMarketOrder(context.Background(), "BTCUSDT", common.SideBuy, 1, false)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestPaperLimitRestsUntilCrossed(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)
	p.OnPrice("BTCUSDT", 100)

	res, err := p.PlaceLimitOrder(ctx, "BTCUSDT", common.SideBuy, 1, 99, false)
	require.NoError(t, err)

	open, err := p.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, res.OrderID, open[0].OrderID)

	p.OnPrice("BTCUSDT", 98.5)
	open, err = p.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	pos, err := p.GetPositions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.InDelta(t, 1, pos[0].Quantity, 1e-12)
	assert.InDelta(t, 99, pos[0].EntryPrice, 1e-12)

	fills := p.Fills()
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Maker)
	assert.InDelta(t, 99*0.0002, fills[0].Fee, 1e-12)
}

func TestPaperPartialFillAndCancel(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)
	p.OnPrice("BTCUSDT", 100)

	res, err := p.PlaceLimitOrder(ctx, "BTCUSDT", common.SideBuy, 2, 99, false)
	require.NoError(t, err)
	require.NoError(t, p.Fill(res.OrderID, 0.5))

	open, err := p.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, common.StatusPartial, open[0].Status)
	assert.InDelta(t, 0.5, open[0].ExecutedQty, 1e-12)

	require.NoError(t, p.CancelAllOrders(ctx, "BTCUSDT"))
	open, err = p.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	pos, err := p.GetPositions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.InDelta(t, 0.5, pos[0].Quantity, 1e-12)
}

func TestPaperReduceOnly(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)
	p.OnPrice("BTCUSDT", 100)

	_, err := p.PlaceMarketOrder(ctx, "BTCUSDT", common.SideSell, 1, true)
	assert.ErrorIs(t, err, ErrReduceOnlyRejected)

	_, err = p.PlaceMarketOrder(ctx, "BTCUSDT", common.SideBuy, 1, false)
	require.NoError(t, err)

	// Capped at the open quantity.
	res, err := p.PlaceMarketOrder(ctx, "BTCUSDT", common.SideSell, 3, true)
	require.NoError(t, err)
	assert.InDelta(t, 1, res.ExecutedQty, 1e-12)

	pos, err := p.GetPositions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestPaperRealizedPnLAndFees(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)
	p.OnPrice("BTCUSDT", 100)

	_, err := p.PlaceMarketOrder(ctx, "BTCUSDT", common.SideSell, 2, false)
	require.NoError(t, err)
	p.OnPrice("BTCUSDT", 90)
	_, err = p.PlaceMarketOrder(ctx, "BTCUSDT", common.SideBuy, 2, true)
	require.NoError(t, err)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	fees := 2*100*0.0005 + 2*90*0.0005
	assert.InDelta(t, 1000+20-fees, bal.Total, 1e-9)
	assert.InDelta(t, bal.Total, bal.Available, 1e-9)
}

func TestPaperMarketableLimitFillsAsTaker(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)
	p.OnPrice("ETHUSDT", 50)

	_, err := p.PlaceLimitOrder(ctx, "ETHUSDT", common.SideBuy, 1, 51, false)
	require.NoError(t, err)

	fills := p.Fills()
	require.Len(t, fills, 1)
	assert.False(t, fills[0].Maker)
	assert.InDelta(t, 50, fills[0].Price, 1e-12)
}

func TestPaperLeverageAndPrecision(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t)
	assert.Error(t, p.SetLeverage(ctx, "BTCUSDT", 0))
	require.NoError(t, p.SetLeverage(ctx, "BTCUSDT", 20))

	prec, err := p.GetSymbolPrecision(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", prec.Symbol)
	assert.InDelta(t, 0.001, prec.StepSize, 1e-12)
}
