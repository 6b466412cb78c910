package sizing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/pkg/exchanges/common"
)

var btcRules = common.SymbolPrecision{
	Symbol:      "BTCUSDT",
	TickSize:    0.1,
	StepSize:    0.001,
	MinNotional: 5,
}

var testRules = common.SymbolPrecision{
	Symbol:      "TESTUSDT",
	TickSize:    0.01,
	StepSize:    0.001,
	MinNotional: 5,
}

func TestQuantity(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want float64
	}{
		{
			name: "fraction of balance times leverage",
			in:   Input{Balance: 1000, Leverage: 10, Price: 100, Fraction: 0.5},
			want: 50,
		},
		{
			name: "floors to step",
			in:   Input{Balance: 1000, Leverage: 10, Price: 30000, Fraction: 0.5},
			want: 0.166,
		},
		{
			name: "fraction above cap is clamped",
			in:   Input{Balance: 1000, Leverage: 10, Price: 100, Fraction: 1},
			want: 95,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Quantity(tt.in, testRules)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestQuantityMinNotional(t *testing.T) {
	_, err := Quantity(Input{Balance: 1, Leverage: 1, Price: 30000, Fraction: 0.5}, btcRules)
	var mn *MinNotionalError
	require.True(t, errors.As(err, &mn), "want MinNotionalError, got %v", err)
	assert.Equal(t, "BTCUSDT", mn.Symbol)
	assert.Equal(t, 5.0, mn.MinNotional)
}

func TestQuantityPrecisionErrors(t *testing.T) {
	cases := map[string]Input{
		"zero price":    {Balance: 100, Leverage: 5, Price: 0, Fraction: 0.5},
		"zero leverage": {Balance: 100, Leverage: 0, Price: 10, Fraction: 0.5},
		"no balance":    {Balance: 0, Leverage: 5, Price: 10, Fraction: 0.5},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Quantity(in, testRules)
			var pe *PrecisionError
			assert.True(t, errors.As(err, &pe))
		})
	}

	_, err := Quantity(Input{Balance: 100, Leverage: 5, Price: 10}, common.SymbolPrecision{Symbol: "X"})
	var pe *PrecisionError
	assert.True(t, errors.As(err, &pe))
}

func TestQuantityDeterministic(t *testing.T) {
	in := Input{Balance: 1234.56, Leverage: 7, Price: 98.76, Fraction: 0.33}
	first, err := Quantity(in, testRules)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Quantity(in, testRules)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRoundPriceNearest(t *testing.T) {
	assert.InDelta(t, 100.1, RoundPrice(100.06, 0.1), 1e-9)
	assert.InDelta(t, 100.0, RoundPrice(100.04, 0.1), 1e-9)
	assert.InDelta(t, 0.1235, RoundPrice(0.12347, 0.0005), 1e-12)
	assert.Equal(t, 42.123, RoundPrice(42.123, 0))
}

func TestRoundingIdempotent(t *testing.T) {
	values := []float64{0.1 + 0.2, 1.23456789, 99.999, 12345.6789, 0.0004999, 7}
	steps := []float64{0.001, 0.01, 0.1, 1, 0.0005}
	for _, v := range values {
		for _, s := range steps {
			q := RoundQty(v, s)
			assert.Equal(t, q, RoundQty(q, s), "qty v=%v step=%v", v, s)
			p := RoundPrice(v, s)
			assert.Equal(t, p, RoundPrice(p, s), "price v=%v tick=%v", v, s)
		}
	}
}

func TestSizeRoundValidateRoundTrip(t *testing.T) {
	rules := []common.SymbolPrecision{btcRules, testRules, {Symbol: "DOGEUSDT", TickSize: 0.00001, StepSize: 1, MinNotional: 5}}
	prices := []float64{0.08123, 1.5, 99.7, 2500.25, 64000.1}
	balances := []float64{3, 10, 57.3, 1000, 25000}
	for _, r := range rules {
		for _, p := range prices {
			for _, b := range balances {
				qty, err := Quantity(Input{Balance: b, Leverage: 10, Price: p, Fraction: 0.3}, r)
				if err != nil {
					var mn *MinNotionalError
					require.True(t, errors.As(err, &mn), "unexpected error %v", err)
					continue
				}
				assert.GreaterOrEqual(t, qty*p+1e-9, r.MinNotional)
				assert.Equal(t, qty, RoundQty(qty, r.StepSize))
			}
		}
	}
}

func TestSplit(t *testing.T) {
	clips, err := Split(50, 5, 100, testRules)
	require.NoError(t, err)
	require.Len(t, clips, 5)
	var sum float64
	for _, c := range clips {
		assert.InDelta(t, 10, c, 1e-9)
		sum += c
	}
	assert.InDelta(t, 50, sum, 1e-9)
}

func TestSplitRemainderAndShrink(t *testing.T) {
	clips, err := Split(1.003, 3, 100, testRules)
	require.NoError(t, err)
	require.Len(t, clips, 3)
	assert.InDelta(t, 0.334, clips[0], 1e-9)
	assert.InDelta(t, 0.335, clips[2], 1e-9)

	// 0.12 * 100 = 12 notional: only two clips of at least 5 fit.
	clips, err = Split(0.12, 10, 100, testRules)
	require.NoError(t, err)
	assert.Len(t, clips, 2)
	for _, c := range clips {
		assert.GreaterOrEqual(t, c*100, testRules.MinNotional)
	}

	_, err = Split(0.01, 5, 100, testRules)
	var mn *MinNotionalError
	assert.True(t, errors.As(err, &mn))
}

func TestSplitChecksNotionalAtRestingPrice(t *testing.T) {
	// 0.05 * 100 is exactly 5, but buy clips rest below the signal price.
	levels := LevelPrices(100, common.SideBuy, 5, 0.02, 0.02, testRules.TickSize)
	low := LowestPrice(levels)
	assert.InDelta(t, 99.9, low, 1e-9)

	clips, err := Split(0.25, 5, low, testRules)
	require.NoError(t, err)
	assert.Len(t, clips, 4)
	for i, c := range clips {
		assert.GreaterOrEqual(t, c*levels[i], testRules.MinNotional, "clip %d", i)
	}

	// Sell levels rest above the signal price; the closest one is lowest.
	sells := LevelPrices(100, common.SideSell, 5, 0.02, 0.02, testRules.TickSize)
	assert.InDelta(t, 100.02, LowestPrice(sells), 1e-9)
	assert.Zero(t, LowestPrice(nil))
}

func TestLevelPrices(t *testing.T) {
	buys := LevelPrices(100, common.SideBuy, 5, 0.05, 0.05, 0.01)
	assert.Equal(t, []float64{99.95, 99.9, 99.85, 99.8, 99.75}, buys)

	sells := LevelPrices(100, common.SideSell, 3, 0.1, 0.1, 0.01)
	assert.Equal(t, []float64{100.1, 100.2, 100.3}, sells)

	targets := TargetPrices(100, common.SideBuy, 4, 0.1, 0.1, 0.01)
	for i := 1; i < len(targets); i++ {
		assert.Greater(t, targets[i], targets[i-1])
	}
	shortTargets := TargetPrices(100, common.SideSell, 4, 0.1, 0.1, 0.01)
	for i := 1; i < len(shortTargets); i++ {
		assert.Less(t, shortTargets[i], shortTargets[i-1])
	}
	assert.False(t, math.IsNaN(targets[0]))
}
