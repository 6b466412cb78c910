package position

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scalp-core/pkg/exchanges/common"
)

func TestSides(t *testing.T) {
	assert.Equal(t, common.SideBuy, Long.EntrySide())
	assert.Equal(t, common.SideSell, Long.ExitSide())
	assert.Equal(t, common.SideSell, Short.EntrySide())
	assert.Equal(t, common.SideBuy, Short.ExitSide())
}

func TestPnLAndStop(t *testing.T) {
	long := &Position{Side: Long, AvgFillPrice: 100, FilledQty: 2, OpenQty: 2, StopLossPrice: 99}
	assert.InDelta(t, 1.0, long.PnLPct(101), 1e-9)
	assert.InDelta(t, 2.0, long.PnLQuote(101), 1e-9)
	assert.True(t, long.StopCrossed(99))
	assert.False(t, long.StopCrossed(99.5))

	short := &Position{Side: Short, AvgFillPrice: 100, FilledQty: 2, OpenQty: 2, StopLossPrice: 101}
	assert.InDelta(t, 1.0, short.PnLPct(99), 1e-9)
	assert.InDelta(t, -2.0, short.PnLQuote(101), 1e-9)
	assert.True(t, short.StopCrossed(101.2))
	assert.False(t, short.StopCrossed(100.5))
}

func TestSettle(t *testing.T) {
	p := &Position{Side: Long, AvgFillPrice: 100, FilledQty: 10}
	exitPrice, qty, gross, fee := Settle(p, []Fill{
		{Qty: 2, Price: 101},
		{Qty: 8, Price: 102, Maker: true},
	}, Fees{Maker: 0.0002, Taker: 0.0005})

	assert.InDelta(t, 10, qty, 1e-9)
	assert.InDelta(t, (202.0+816.0)/10, exitPrice, 1e-9)
	assert.InDelta(t, 2+16, gross, 1e-9)
	// taker 202*0.0005 + maker 816*0.0002 + entry 1000*0.0002
	assert.InDelta(t, 0.101+0.1632+0.2, fee, 1e-9)
}
