package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestShortInputsAreRejected(t *testing.T) {
	short := []float64{1, 2, 3}

	_, ok := SMA(short, 5)
	assert.False(t, ok)
	_, ok = EMA(short, 5)
	assert.False(t, ok)
	_, ok = RSI(short, 3)
	assert.False(t, ok)
	_, ok = ROC(short, 3)
	assert.False(t, ok)
	_, ok = BBands(short, 5, 2)
	assert.False(t, ok)
	_, ok = ATR(short, short, short, 3)
	assert.False(t, ok)
	_, ok = ATR(ramp(10, 1, 1), short, ramp(10, 1, 1), 3)
	assert.False(t, ok)
}

func TestMovingAverages(t *testing.T) {
	vals := ramp(20, 1, 1)

	sma, ok := SMA(vals, 5)
	require.True(t, ok)
	assert.InDelta(t, 18, sma, 1e-9)

	ema, ok := EMA(vals, 5)
	require.True(t, ok)
	assert.Greater(t, ema, 16.0)
	assert.Less(t, ema, 20.0)

	prev, ok := EMAAt(vals, 5, 1)
	require.True(t, ok)
	assert.Less(t, prev, ema)
}

func TestRSIExtremes(t *testing.T) {
	up, ok := RSI(ramp(30, 100, 1), 14)
	require.True(t, ok)
	assert.InDelta(t, 100, up, 1e-6)

	down, ok := RSI(ramp(30, 100, -1), 14)
	require.True(t, ok)
	assert.InDelta(t, 0, down, 1e-6)
}

func TestROC(t *testing.T) {
	vals := []float64{100, 101, 102, 110}
	roc, ok := ROC(vals, 3)
	require.True(t, ok)
	assert.InDelta(t, 10, roc, 1e-9)
}

func TestBBandsFlatAndSpread(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 50
	}
	b, ok := BBands(flat, 20, 2)
	require.True(t, ok)
	assert.InDelta(t, 50, b.Middle, 1e-9)
	assert.InDelta(t, 50, b.Upper, 1e-9)
	assert.InDelta(t, 50, b.Lower, 1e-9)
	assert.InDelta(t, 0, b.Width(), 1e-9)

	alt := make([]float64, 20)
	for i := range alt {
		alt[i] = 100 + math.Pow(-1, float64(i))
	}
	b, ok = BBands(alt, 20, 2)
	require.True(t, ok)
	assert.InDelta(t, 100, b.Middle, 1e-9)
	assert.InDelta(t, 102, b.Upper, 1e-6)
	assert.InDelta(t, 98, b.Lower, 1e-6)
	assert.InDelta(t, 4, b.Width(), 1e-6)
}

func TestATRConstantRange(t *testing.T) {
	n := 30
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}
	atr, ok := ATR(highs, lows, closes, 14)
	require.True(t, ok)
	assert.InDelta(t, 2, atr, 1e-9)
}

func TestLastValidSkipsNaN(t *testing.T) {
	v, ok := lastValid([]float64{1, 2, math.NaN(), math.Inf(1)})
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = at([]float64{math.NaN()}, 0)
	assert.False(t, ok)
	_, ok = at([]float64{1}, 3)
	assert.False(t, ok)
}
