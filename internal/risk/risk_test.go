package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/config"
	"github.com/quantpilot/quantpilot/internal/strategy"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		SmallAccountThreshold:  2000,
		TargetNotionalPerTrade: 200,
		MaxPositionSizePct:     0.1,
		MinBuyingPowerPct:      0.1,
		MaxTickerPrice:         500,
		MaxPositions:           5,
		TradeCooldownMinutes:   15,
		ATRStopMultiplier:      1.5,
		ATRTakeProfitMult:      3.0,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testRiskConfig(), zerolog.Nop())
}

func TestIsSmallAccount(t *testing.T) {
	m := newTestManager(t)
	assert.True(t, m.IsSmallAccount(1500))
	assert.True(t, m.IsSmallAccount(2000))
	assert.False(t, m.IsSmallAccount(2000.01))
}

func TestProfileForSmallAccount(t *testing.T) {
	m := newTestManager(t)
	trading := config.TradingConfig{MinConfidence: 65, MaxSignals: 3, AllowFractional: false}

	p := m.ProfileFor(1500, trading)
	assert.True(t, p.SmallAccount)
	assert.Equal(t, 70.0, p.MinConfidence)
	assert.Equal(t, 2, p.MaxSignals)
	assert.Equal(t, 500.0, p.MaxTickerPrice)
	assert.True(t, p.AllowFractional)
	assert.Equal(t, 3, p.MaxPositions)
}

func TestProfileForStandardAccount(t *testing.T) {
	m := newTestManager(t)
	trading := config.TradingConfig{MinConfidence: 65, MaxSignals: 3, AllowFractional: true}

	p := m.ProfileFor(50_000, trading)
	assert.False(t, p.SmallAccount)
	assert.Equal(t, 65.0, p.MinConfidence)
	assert.Equal(t, 3, p.MaxSignals)
	assert.Zero(t, p.MaxTickerPrice)
	assert.Equal(t, 5, p.MaxPositions)
}

func sig(ticker string, entry, sizePct float64) strategy.TradingSignal {
	return strategy.TradingSignal{
		Ticker:          ticker,
		Strategy:        "momentum",
		Direction:       strategy.DirectionLong,
		Confidence:      75,
		EntryPrice:      entry,
		PositionSizePct: sizePct,
	}
}

func TestSizePositionNotionalTarget(t *testing.T) {
	m := newTestManager(t)
	account := &broker.Account{Equity: 1500, BuyingPower: 1500}

	// 5% of 1500 = 75 < 200 target, fractionable => 75/50 = 1.5 shares
	s, err := m.SizePosition(sig("SOFI", 50, 5), account, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, s.Quantity, 1e-9)
	assert.InDelta(t, 75, s.Notional, 1e-9)
	assert.True(t, s.Fractional)
}

func TestSizePositionDollarTargetCapsPct(t *testing.T) {
	m := newTestManager(t)
	account := &broker.Account{Equity: 100_000, BuyingPower: 200_000}

	// 5% of 100k = 5000, capped by the 200 dollar target
	s, err := m.SizePosition(sig("AAPL", 100, 5), account, true)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, s.Quantity, 1e-9)
	assert.InDelta(t, 200, s.Notional, 1e-9)
	assert.False(t, s.Fractional)
}

func TestSizePositionNonFractionableFloorsToWhole(t *testing.T) {
	m := newTestManager(t)
	account := &broker.Account{Equity: 100_000, BuyingPower: 200_000}

	s, err := m.SizePosition(sig("AAPL", 130, 5), account, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Quantity) // 200/130 = 1.53 floored
	assert.False(t, s.Fractional)
}

func TestSizePositionBuyingPowerReserve(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TargetNotionalPerTrade = 0 // pct sizing only
	m := NewManager(cfg, zerolog.Nop())

	// 10% of 10k = 1000, but only (1-0.1)*1000 = 900 available
	account := &broker.Account{Equity: 10_000, BuyingPower: 1000}
	_, err := m.SizePosition(sig("NVDA", 100, 10), account, true)
	require.Error(t, err)
	assert.True(t, broker.IsPrecondition(err))
	assert.Contains(t, err.Error(), "buying power")
}

func TestSizePositionPerTickerCap(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TargetNotionalPerTrade = 0
	cfg.MaxPositionSizePct = 0.05
	m := NewManager(cfg, zerolog.Nop())

	// 8% of equity requested, cap is 5%
	account := &broker.Account{Equity: 10_000, BuyingPower: 50_000}
	_, err := m.SizePosition(sig("MSFT", 100, 8), account, true)
	require.Error(t, err)
	assert.True(t, broker.IsPrecondition(err))
	assert.Contains(t, err.Error(), "cap")
}

func TestSizePositionInvalidEntry(t *testing.T) {
	m := newTestManager(t)
	_, err := m.SizePosition(sig("AAPL", 0, 5), &broker.Account{Equity: 1000, BuyingPower: 1000}, true)
	assert.True(t, broker.IsPrecondition(err))
}

func TestComputeStopsATR(t *testing.T) {
	m := newTestManager(t)

	long := m.ComputeStops(100, 2.0, 200, strategy.DirectionLong)
	assert.InDelta(t, 97, long.StopLoss, 1e-9)   // 100 - 1.5*2
	assert.InDelta(t, 106, long.TakeProfit, 1e-9) // 100 + 3*2

	short := m.ComputeStops(100, 2.0, 200, strategy.DirectionShort)
	assert.InDelta(t, 103, short.StopLoss, 1e-9)
	assert.InDelta(t, 94, short.TakeProfit, 1e-9)
}

func TestComputeStopsPercentFallback(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name     string
		notional float64
		wantPct  float64
	}{
		{"small notional", 200, 0.03},
		{"medium notional", 2000, 0.04},
		{"large notional", 20_000, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := m.ComputeStops(100, 0, tt.notional, strategy.DirectionLong)
			assert.InDelta(t, 100*(1-tt.wantPct), s.StopLoss, 1e-9)
			assert.InDelta(t, 100*(1+2*tt.wantPct), s.TakeProfit, 1e-9)
		})
	}
}

func TestCooldown(t *testing.T) {
	m := newTestManager(t)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.CheckCooldown("AAPL"))
	m.RecordTrade("AAPL")

	now = now.Add(10 * time.Minute)
	err := m.CheckCooldown("AAPL")
	require.Error(t, err)
	assert.True(t, broker.IsPrecondition(err))
	assert.Contains(t, err.Error(), "cooldown")

	require.NoError(t, m.CheckCooldown("MSFT")) // other tickers unaffected

	now = now.Add(6 * time.Minute) // 16m elapsed
	assert.NoError(t, m.CheckCooldown("AAPL"))
}

func TestPositionCap(t *testing.T) {
	m := newTestManager(t)

	assert.NoError(t, m.CheckPositionCap(4, "AAPL", false))
	err := m.CheckPositionCap(5, "AAPL", false)
	require.Error(t, err)
	assert.True(t, broker.IsPrecondition(err))

	// Already held: adding to the position is allowed at the cap
	assert.NoError(t, m.CheckPositionCap(5, "AAPL", true))
}
