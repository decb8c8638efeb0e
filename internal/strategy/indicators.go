package strategy

import (
	talib "github.com/markcheno/go-talib"
)

// Indicator wrappers around go-talib. Every wrapper reports ok=false when
// the input is too short, so callers never act on a warm-up value.

// SMA returns the latest simple moving average over period
func SMA(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period {
		return 0, false
	}
	out := talib.Sma(values, period)
	return out[len(out)-1], true
}

// EMA returns the latest exponential moving average over period
func EMA(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period {
		return 0, false
	}
	out := talib.Ema(values, period)
	return out[len(out)-1], true
}

// EMASeries returns the full EMA series (zeros during warm-up)
func EMASeries(values []float64, period int) ([]float64, bool) {
	if period < 1 || len(values) < period {
		return nil, false
	}
	return talib.Ema(values, period), true
}

// SMASeries returns the full SMA series (zeros during warm-up)
func SMASeries(values []float64, period int) ([]float64, bool) {
	if period < 1 || len(values) < period {
		return nil, false
	}
	return talib.Sma(values, period), true
}

// RSI returns the latest Wilder-smoothed relative strength index
func RSI(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period+1 {
		return 0, false
	}
	out := talib.Rsi(values, period)
	return out[len(out)-1], true
}

// BollingerBands returns the latest upper/middle/lower band with k
// standard deviations around an SMA
func BollingerBands(values []float64, period int, k float64) (upper, middle, lower float64, ok bool) {
	if period < 1 || len(values) < period {
		return 0, 0, 0, false
	}
	up, mid, low := talib.BBands(values, period, k, k, talib.SMA)
	n := len(values) - 1
	return up[n], mid[n], low[n], true
}

// ATR returns the latest average true range over period
func ATR(high, low, close []float64, period int) (float64, bool) {
	if period < 1 || len(close) < period+1 || len(high) != len(close) || len(low) != len(close) {
		return 0, false
	}
	out := talib.Atr(high, low, close, period)
	return out[len(out)-1], true
}
