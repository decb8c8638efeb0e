package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantpilot/quantpilot/internal/market"
)

// TrendFollowing rides established trends: short EMA above long SMA for
// longs, with golden-cross and 20-day-high proximity boosts.
type TrendFollowing struct {
	ShortPeriod int // EMA, default 10
	LongPeriod  int // SMA, default 50
	HighWindow  int // bars for the recent-high boost, default 20
}

// NewTrendFollowing returns the trend strategy with defaults
func NewTrendFollowing() *TrendFollowing {
	return &TrendFollowing{
		ShortPeriod: 10,
		LongPeriod:  50,
		HighWindow:  20,
	}
}

// Name implements Strategy
func (t *TrendFollowing) Name() string { return "trend_following" }

// MinBars implements Strategy
func (t *TrendFollowing) MinBars() int { return t.LongPeriod }

// Analyze implements Strategy
func (t *TrendFollowing) Analyze(ticker string, bars []market.PriceBar) *TradingSignal {
	if len(bars) < t.MinBars() {
		return nil
	}

	series := closes(bars)
	emaSeries, okE := EMASeries(series, t.ShortPeriod)
	smaSeries, okS := SMASeries(series, t.LongPeriod)
	if !okE || !okS {
		return nil
	}

	n := len(series) - 1
	shortNow, longNow := emaSeries[n], smaSeries[n]
	if longNow <= 0 {
		return nil
	}

	var direction Direction
	factors := []string{}
	switch {
	case shortNow > longNow:
		direction = DirectionLong
		factors = append(factors, fmt.Sprintf("EMA(%d) %.2f above SMA(%d) %.2f", t.ShortPeriod, shortNow, t.LongPeriod, longNow))
	case shortNow < longNow:
		direction = DirectionShort
		factors = append(factors, fmt.Sprintf("EMA(%d) %.2f below SMA(%d) %.2f", t.ShortPeriod, shortNow, t.LongPeriod, longNow))
	default:
		return nil
	}

	confidence := 62.0

	// Fresh crossover within the last 3 bars
	if crossed(emaSeries, smaSeries, n, 3, direction) {
		confidence += 10
		if direction == DirectionLong {
			factors = append(factors, "golden cross within last 3 bars")
		} else {
			factors = append(factors, "death cross within last 3 bars")
		}
	}

	last := bars[n]
	if direction == DirectionLong {
		if high, ok := windowHigh(bars, t.HighWindow); ok && last.Close >= high*0.98 {
			confidence += 8
			factors = append(factors, fmt.Sprintf("close within 2%% of %d-day high %.2f", t.HighWindow, high))
		}
	} else {
		if low, ok := windowLow(bars, t.HighWindow); ok && last.Close <= low*1.02 {
			confidence += 8
			factors = append(factors, fmt.Sprintf("close within 2%% of %d-day low %.2f", t.HighWindow, low))
		}
	}
	confidence = clampConfidence(confidence, 85)

	entry := last.Close
	risk := entry * 0.03
	if atr, ok := ATR(highs(bars), lows(bars), closes(bars), 14); ok && atr > 0 {
		risk = atr * 2.5
	}
	var stop, takeProfit float64
	if direction == DirectionLong {
		stop, takeProfit = entry-risk, entry+2*risk
	} else {
		stop, takeProfit = entry+risk, entry-2*risk
	}

	return &TradingSignal{
		Ticker:          ticker,
		Strategy:        t.Name(),
		Direction:       direction,
		Strength:        strengthFor(confidence),
		Confidence:      confidence,
		EntryPrice:      entry,
		StopLoss:        stop,
		TakeProfit:      takeProfit,
		PositionSizePct: 8.0,
		Reasoning:       strings.Join(factors, "; "),
		Timestamp:       time.Now().UTC(),
	}
}

// crossed reports whether the short series crossed the long series in the
// trade direction within the last lookback bars
func crossed(short, long []float64, n, lookback int, direction Direction) bool {
	for i := n - lookback; i < n; i++ {
		if i < 0 {
			continue
		}
		if long[i] == 0 || long[i+1] == 0 {
			continue // warm-up
		}
		if direction == DirectionLong && short[i] <= long[i] && short[i+1] > long[i+1] {
			return true
		}
		if direction == DirectionShort && short[i] >= long[i] && short[i+1] < long[i+1] {
			return true
		}
	}
	return false
}

// windowHigh returns the highest high over the last w bars
func windowHigh(bars []market.PriceBar, w int) (float64, bool) {
	if len(bars) < w {
		return 0, false
	}
	high := bars[len(bars)-w].High
	for _, b := range bars[len(bars)-w:] {
		if b.High > high {
			high = b.High
		}
	}
	return high, true
}

// windowLow returns the lowest low over the last w bars
func windowLow(bars []market.PriceBar, w int) (float64, bool) {
	if len(bars) < w {
		return 0, false
	}
	low := bars[len(bars)-w].Low
	for _, b := range bars[len(bars)-w:] {
		if b.Low < low {
			low = b.Low
		}
	}
	return low, true
}
