// Package indicators wraps go-talib for the handful of studies the signal
// evaluators use. Every function returns the latest value and false when
// the input is too short for the study's lookback.
package indicators

import "math"

func lastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i], true
		}
	}
	return 0, false
}

// at returns series[len-1-back] if it is a finite number.
func at(series []float64, back int) (float64, bool) {
	i := len(series) - 1 - back
	if i < 0 || i >= len(series) {
		return 0, false
	}
	v := series[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
