// Package strategy implements the quantitative signal producers. Strategies
// are pure over a window of price bars and own no mutable state.
package strategy

import (
	"time"

	"github.com/quantpilot/quantpilot/internal/market"
)

// Direction of a trading signal
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Strength buckets a signal's conviction
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
)

// TradingSignal is the strategy engine's output contract
type TradingSignal struct {
	Ticker          string    `json:"ticker"`
	Strategy        string    `json:"strategy"`
	Direction       Direction `json:"direction"`
	Strength        Strength  `json:"strength"`
	Confidence      float64   `json:"confidence"` // 0-100
	EntryPrice      float64   `json:"entry_price"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	PositionSizePct float64   `json:"position_size_pct"`
	Reasoning       string    `json:"reasoning"`
	Timestamp       time.Time `json:"timestamp"`
	Fractionable    bool      `json:"fractionable"`
}

// Strategy produces at most one signal per call from a bar window.
// Implementations must be deterministic given the same input.
type Strategy interface {
	Name() string
	// MinBars is the smallest window that can produce a signal. Fewer
	// bars always yields nil.
	MinBars() int
	Analyze(ticker string, bars []market.PriceBar) *TradingSignal
}

// strengthFor buckets confidence into strength tiers
func strengthFor(confidence float64) Strength {
	switch {
	case confidence >= 80:
		return StrengthStrong
	case confidence >= 65:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// clampConfidence bounds confidence to [0, cap]
func clampConfidence(confidence, max float64) float64 {
	if confidence > max {
		return max
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

// closes extracts the close series from a bar window
func closes(bars []market.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// highs extracts the high series
func highs(bars []market.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// lows extracts the low series
func lows(bars []market.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// volumes extracts the volume series
func volumes(bars []market.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
