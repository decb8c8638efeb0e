package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quantpilot/quantpilot/internal/market"
)

// Momentum trades multi-day price thrust confirmed by volume expansion.
type Momentum struct {
	Lookback     int     // bars, default 5
	ThresholdPct float64 // minimum absolute move, default 2%
	VolumeRatio  float64 // last volume vs average, default 1.5
}

// NewMomentum returns the momentum strategy with default parameters
func NewMomentum() *Momentum {
	return &Momentum{
		Lookback:     5,
		ThresholdPct: 2.0,
		VolumeRatio:  1.5,
	}
}

// Name implements Strategy
func (m *Momentum) Name() string { return "momentum" }

// MinBars implements Strategy
func (m *Momentum) MinBars() int { return m.Lookback + 1 }

// Analyze implements Strategy
func (m *Momentum) Analyze(ticker string, bars []market.PriceBar) *TradingSignal {
	if len(bars) < m.MinBars() {
		return nil
	}

	last := bars[len(bars)-1]
	ref := bars[len(bars)-1-m.Lookback]
	if ref.Close <= 0 {
		return nil
	}
	changePct := (last.Close - ref.Close) / ref.Close * 100

	// Volume confirmation: last bar against the average of the rest
	vols := volumes(bars[:len(bars)-1])
	var volSum float64
	for _, v := range vols {
		volSum += v
	}
	avgVol := volSum / float64(len(vols))
	if avgVol <= 0 {
		return nil
	}
	volRatio := last.Volume / avgVol

	if math.Abs(changePct) < m.ThresholdPct || volRatio < m.VolumeRatio {
		return nil
	}

	direction := DirectionLong
	if changePct < 0 {
		direction = DirectionShort
	}

	confidence := 55 + math.Min(15, math.Abs(changePct)*1.5)
	factors := []string{
		fmt.Sprintf("%d-day momentum %+.2f%% beyond %.1f%% threshold", m.Lookback, changePct, m.ThresholdPct),
	}
	if volRatio >= 2.0 {
		confidence += 12
		factors = append(factors, fmt.Sprintf("Volume surge %.1fx average", volRatio))
	} else {
		confidence += 8
		factors = append(factors, fmt.Sprintf("Volume %.1fx average confirms move", volRatio))
	}
	confidence = clampConfidence(confidence, 90)

	entry := last.Close
	stop, takeProfit := momentumStops(bars, entry, direction)

	return &TradingSignal{
		Ticker:          ticker,
		Strategy:        m.Name(),
		Direction:       direction,
		Strength:        strengthFor(confidence),
		Confidence:      confidence,
		EntryPrice:      entry,
		StopLoss:        stop,
		TakeProfit:      takeProfit,
		PositionSizePct: 5.0,
		Reasoning:       strings.Join(factors, "; "),
		Timestamp:       time.Now().UTC(),
	}
}

// momentumStops derives an ATR(14)x1.5 stop with a 2:1 reward ratio,
// falling back to a fixed 2% stop when the window is too short for ATR
func momentumStops(bars []market.PriceBar, entry float64, direction Direction) (stop, takeProfit float64) {
	risk := entry * 0.02
	if atr, ok := ATR(highs(bars), lows(bars), closes(bars), 14); ok && atr > 0 {
		risk = atr * 1.5
	}
	if direction == DirectionShort {
		return entry + risk, entry - 2*risk
	}
	return entry - risk, entry + 2*risk
}
