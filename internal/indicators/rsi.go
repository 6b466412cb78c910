package indicators

import "github.com/markcheno/go-talib"

// RSI is Wilder's relative strength index at the last value.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 1 || len(values) <= period {
		return 0, false
	}
	return lastValid(talib.Rsi(values, period))
}

// ROC is the rate of change over period bars, in percent.
func ROC(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) <= period {
		return 0, false
	}
	return lastValid(talib.Roc(values, period))
}
