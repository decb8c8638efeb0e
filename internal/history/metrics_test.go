package history

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func closedTrade(pnl, returnPct, holdingHours float64) TradeRecord {
	return TradeRecord{
		Status:             StatusClosed,
		RealizedPnL:        &pnl,
		ReturnPct:          &returnPct,
		HoldingPeriodHours: &holdingHours,
	}
}

func TestComputeMetrics(t *testing.T) {
	trades := []TradeRecord{
		closedTrade(250, 16.1, 48),
		closedTrade(-100, -5.0, 24),
		closedTrade(50, 2.5, 12),
		{Status: StatusFilled}, // open trades excluded
	}

	m := ComputeMetrics(trades)
	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 200.0/3, m.WinRate, 1e-6)
	assert.InDelta(t, 200, m.TotalPnL, 1e-6)
	assert.InDelta(t, (16.1-5.0+2.5)/3, m.AvgReturnPct, 1e-6)
	assert.InDelta(t, 28, m.AvgHoldingHours, 1e-6)
	assert.InDelta(t, 250, m.BestTradePnL, 1e-6)
	assert.InDelta(t, -100, m.WorstTradePnL, 1e-6)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-6) // 300 / 100
}

func TestComputeMetricsNoLosses(t *testing.T) {
	m := ComputeMetrics([]TradeRecord{closedTrade(100, 5, 10)})
	assert.True(t, math.IsInf(m.ProfitFactor, 1))
	assert.InDelta(t, 100.0, m.WinRate, 1e-6)
}

func TestComputeMetricsByStrategy(t *testing.T) {
	momentum := closedTrade(250, 16.1, 48)
	momentum.Strategy = "momentum"
	momentumLoss := closedTrade(-50, -2.5, 8)
	momentumLoss.Strategy = "momentum"
	vwap := closedTrade(30, 1.2, 2)
	vwap.Strategy = "vwap_scalper"
	untagged := closedTrade(10, 0.5, 1)

	byStrategy := ComputeMetricsByStrategy([]TradeRecord{momentum, momentumLoss, vwap, untagged})
	assert.Len(t, byStrategy, 3)
	assert.Equal(t, 2, byStrategy["momentum"].TotalTrades)
	assert.InDelta(t, 200, byStrategy["momentum"].TotalPnL, 1e-6)
	assert.Equal(t, 1, byStrategy["vwap_scalper"].TotalTrades)
	assert.Equal(t, 1, byStrategy["unknown"].TotalTrades)
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.BestTradePnL)
	assert.Zero(t, m.WorstTradePnL)
	assert.Zero(t, m.ProfitFactor)
}
