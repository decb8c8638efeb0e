package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quantpilot/quantpilot/internal/market"
)

// BreakoutMicro trades closes punching through the prior 5-day range.
type BreakoutMicro struct {
	Window       int     // range window excluding the current bar, default 5
	BreakPct     float64 // margin beyond the range edge, default 0.3%
	RewardFactor float64 // reward:risk, default 1.5
}

// NewBreakoutMicro returns the breakout strategy with defaults
func NewBreakoutMicro() *BreakoutMicro {
	return &BreakoutMicro{
		Window:       5,
		BreakPct:     0.3,
		RewardFactor: 1.5,
	}
}

// Name implements Strategy
func (b *BreakoutMicro) Name() string { return "breakout_micro" }

// MinBars implements Strategy
func (b *BreakoutMicro) MinBars() int { return b.Window + 1 }

// Analyze implements Strategy
func (b *BreakoutMicro) Analyze(ticker string, bars []market.PriceBar) *TradingSignal {
	if len(bars) < b.MinBars() {
		return nil
	}

	// Range over the window excluding the current bar
	window := bars[len(bars)-1-b.Window : len(bars)-1]
	rangeHigh := window[0].High
	rangeLow := window[0].Low
	for _, bar := range window {
		if bar.High > rangeHigh {
			rangeHigh = bar.High
		}
		if bar.Low < rangeLow {
			rangeLow = bar.Low
		}
	}

	last := bars[len(bars)-1]
	margin := b.BreakPct / 100

	var direction Direction
	var breakDistPct float64
	factors := []string{}
	switch {
	case last.Close > rangeHigh*(1+margin):
		direction = DirectionLong
		breakDistPct = (last.Close - rangeHigh) / rangeHigh * 100
		factors = append(factors, fmt.Sprintf("close %.2f broke %d-day range high %.2f by %.2f%%", last.Close, b.Window, rangeHigh, breakDistPct))
	case last.Close < rangeLow*(1-margin):
		direction = DirectionShort
		breakDistPct = (rangeLow - last.Close) / rangeLow * 100
		factors = append(factors, fmt.Sprintf("close %.2f broke %d-day range low %.2f by %.2f%%", last.Close, b.Window, rangeLow, breakDistPct))
	default:
		return nil
	}

	confidence := clampConfidence(60+breakDistPct*10, 75)

	entry := last.Close
	risk := math.Max((rangeHigh-rangeLow)*0.5, entry*0.015)
	var stop, takeProfit float64
	if direction == DirectionLong {
		stop, takeProfit = entry-risk, entry+b.RewardFactor*risk
	} else {
		stop, takeProfit = entry+risk, entry-b.RewardFactor*risk
	}

	return &TradingSignal{
		Ticker:          ticker,
		Strategy:        b.Name(),
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
