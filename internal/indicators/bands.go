package indicators

import "github.com/markcheno/go-talib"

// Bands is one Bollinger band reading.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Width is (upper - lower) / middle, in percent.
func (b Bands) Width() float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle * 100
}

// BBands computes Bollinger bands with an SMA basis and k standard deviations.
func BBands(values []float64, period int, k float64) (Bands, bool) {
	if period <= 1 || len(values) < period || k <= 0 {
		return Bands{}, false
	}
	upper, mid, lower := talib.BBands(values, period, k, k, talib.SMA)
	u, ok1 := lastValid(upper)
	m, ok2 := lastValid(mid)
	l, ok3 := lastValid(lower)
	if !ok1 || !ok2 || !ok3 {
		return Bands{}, false
	}
	return Bands{Upper: u, Middle: m, Lower: l}, true
}

// ATR is the average true range at the last bar.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n <= period || len(highs) != n || len(lows) != n {
		return 0, false
	}
	return lastValid(talib.Atr(highs, lows, closes, period))
}
