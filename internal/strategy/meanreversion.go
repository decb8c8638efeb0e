package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantpilot/quantpilot/internal/market"
)

// MeanReversion fades closes outside the Bollinger Bands, with RSI
// extremes boosting conviction.
type MeanReversion struct {
	Period    int     // Bollinger period, default 20
	StdDev    float64 // band width, default 2
	RSIPeriod int     // default 14
}

// NewMeanReversion returns the mean-reversion strategy with defaults
func NewMeanReversion() *MeanReversion {
	return &MeanReversion{
		Period:    20,
		StdDev:    2.0,
		RSIPeriod: 14,
	}
}

// Name implements Strategy
func (m *MeanReversion) Name() string { return "mean_reversion" }

// MinBars implements Strategy
func (m *MeanReversion) MinBars() int { return m.Period }

// Analyze implements Strategy
func (m *MeanReversion) Analyze(ticker string, bars []market.PriceBar) *TradingSignal {
	if len(bars) < m.MinBars() {
		return nil
	}

	series := closes(bars)
	upper, middle, lower, ok := BollingerBands(series, m.Period, m.StdDev)
	if !ok {
		return nil
	}
	last := series[len(series)-1]

	var direction Direction
	var bandEdge float64
	factors := []string{}

	switch {
	case last < lower:
		direction = DirectionLong
		bandEdge = lower
		factors = append(factors, fmt.Sprintf("close %.2f below lower Bollinger band %.2f", last, lower))
	case last > upper:
		direction = DirectionShort
		bandEdge = upper
		factors = append(factors, fmt.Sprintf("close %.2f above upper Bollinger band %.2f", last, upper))
	default:
		return nil
	}

	confidence := 62.0
	if rsi, ok := RSI(series, m.RSIPeriod); ok {
		if direction == DirectionLong && rsi < 30 {
			confidence += 12
			factors = append(factors, fmt.Sprintf("RSI %.1f oversold", rsi))
		}
		if direction == DirectionShort && rsi > 70 {
			confidence += 12
			factors = append(factors, fmt.Sprintf("RSI %.1f overbought", rsi))
		}
	}
	confidence = clampConfidence(confidence, 90)

	// Stop 25% beyond the violated band; target the middle band
	bandSpan := middle - lower
	if direction == DirectionShort {
		bandSpan = upper - middle
	}
	var stop, takeProfit float64
	if direction == DirectionLong {
		stop = bandEdge - 0.25*bandSpan
		takeProfit = middle
	} else {
		stop = bandEdge + 0.25*bandSpan
		takeProfit = middle
	}

	return &TradingSignal{
		Ticker:          ticker,
		Strategy:        m.Name(),
		Direction:       direction,
		Strength:        strengthFor(confidence),
		Confidence:      confidence,
		EntryPrice:      last,
		StopLoss:        stop,
		TakeProfit:      takeProfit,
		PositionSizePct: 5.0,
		Reasoning:       strings.Join(factors, "; "),
		Timestamp:       time.Now().UTC(),
	}
}
