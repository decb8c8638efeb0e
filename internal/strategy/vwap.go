package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantpilot/quantpilot/internal/market"
)

// VWAPScalper takes small, fast positions when price stretches away from
// the 5-day volume-weighted average with short-term momentum behind it.
type VWAPScalper struct {
	Window       int     // bars for the VWAP window, default 5
	StretchPct   float64 // distance from VWAP, default 0.5%
	MomentumPct  float64 // 2-bar momentum, default 0.5%
	StopLossPct  float64 // fixed stop, default 1.5%
	RewardFactor float64 // reward:risk, default 1.5
}

// NewVWAPScalper returns the scalper with defaults
func NewVWAPScalper() *VWAPScalper {
	return &VWAPScalper{
		Window:       5,
		StretchPct:   0.5,
		MomentumPct:  0.5,
		StopLossPct:  1.5,
		RewardFactor: 1.5,
	}
}

// Name implements Strategy
func (v *VWAPScalper) Name() string { return "vwap_scalper" }

// MinBars implements Strategy
func (v *VWAPScalper) MinBars() int { return v.Window + 2 }

// Analyze implements Strategy
func (v *VWAPScalper) Analyze(ticker string, bars []market.PriceBar) *TradingSignal {
	if len(bars) < v.MinBars() {
		return nil
	}

	vwap, ok := windowVWAP(bars, v.Window)
	if !ok || vwap <= 0 {
		return nil
	}

	last := bars[len(bars)-1]
	prev2 := bars[len(bars)-3]
	if prev2.Close <= 0 {
		return nil
	}

	stretchPct := (last.Close - vwap) / vwap * 100
	momPct := (last.Close - prev2.Close) / prev2.Close * 100

	var direction Direction
	switch {
	case stretchPct > v.StretchPct && momPct > v.MomentumPct:
		direction = DirectionLong
	case stretchPct < -v.StretchPct && momPct < -v.MomentumPct:
		direction = DirectionShort
	default:
		return nil
	}

	confidence := clampConfidence(58+absf(stretchPct)*8+absf(momPct)*4, 75)

	factors := []string{
		fmt.Sprintf("price %+.2f%% from %d-day VWAP %.2f", stretchPct, v.Window, vwap),
		fmt.Sprintf("2-bar momentum %+.2f%%", momPct),
	}

	entry := last.Close
	risk := entry * v.StopLossPct / 100
	var stop, takeProfit float64
	if direction == DirectionLong {
		stop, takeProfit = entry-risk, entry+v.RewardFactor*risk
	} else {
		stop, takeProfit = entry+risk, entry-v.RewardFactor*risk
	}

	return &TradingSignal{
		Ticker:          ticker,
		Strategy:        v.Name(),
		Direction:       direction,
		Strength:        strengthFor(confidence),
		Confidence:      confidence,
		EntryPrice:      entry,
		StopLoss:        stop,
		TakeProfit:      takeProfit,
		PositionSizePct: 3.0,
		Reasoning:       strings.Join(factors, "; "),
		Timestamp:       time.Now().UTC(),
	}
}

// windowVWAP computes the volume-weighted typical price over the last w bars
func windowVWAP(bars []market.PriceBar, w int) (float64, bool) {
	if len(bars) < w {
		return 0, false
	}
	var pv, vol float64
	for _, b := range bars[len(bars)-w:] {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol <= 0 {
		return 0, false
	}
	return pv / vol, true
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
