package indicators

import "github.com/markcheno/go-talib"

// SMA is the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	return lastValid(talib.Sma(values, period))
}

// EMA is the exponential moving average at the last value.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 1 || len(values) < period {
		return 0, false
	}
	return lastValid(talib.Ema(values, period))
}

// EMAAt is the EMA back bars before the last one.
func EMAAt(values []float64, period, back int) (float64, bool) {
	if period <= 1 || len(values) < period+back {
		return 0, false
	}
	return at(talib.Ema(values, period), back)
}
