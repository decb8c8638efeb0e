package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/config"
	"github.com/quantpilot/quantpilot/internal/history"
	"github.com/quantpilot/quantpilot/internal/risk"
	"github.com/quantpilot/quantpilot/internal/strategy"
	"github.com/quantpilot/quantpilot/internal/telemetry"
)

type fakeGateway struct {
	mu        sync.Mutex
	account   broker.Account
	positions []broker.Position
	pdt       broker.PDTStatus
	executed  []string
	execErr   error
}

func (f *fakeGateway) SyncPortfolio(context.Context) (*broker.PortfolioSnapshot, error) {
	return &broker.PortfolioSnapshot{Account: f.account, Positions: f.positions, Timestamp: time.Now()}, nil
}

func (f *fakeGateway) CheckPDTStatus(context.Context) (*broker.PDTStatus, error) {
	return &f.pdt, nil
}

func (f *fakeGateway) IsFractionable(context.Context, string) bool { return true }

func (f *fakeGateway) ExecuteDecision(_ context.Context, symbol string, action broker.TradeAction, qty float64, _ string) (*broker.OrderResult, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.mu.Lock()
	f.executed = append(f.executed, symbol)
	f.mu.Unlock()
	if action == broker.ActionHold || qty <= 0 {
		return &broker.OrderResult{NoOp: true}, nil
	}
	return &broker.OrderResult{Order: &broker.Order{ID: "o-1", Symbol: symbol}}, nil
}

type fakeScanner struct {
	mu      sync.Mutex
	signals map[string][]strategy.TradingSignal
	delay   time.Duration
	small   bool
	scanErr error
	scans   int
}

func (f *fakeScanner) ScanUniverse(ctx context.Context, _ []string, _ float64) (map[string][]strategy.TradingSignal, error) {
	f.mu.Lock()
	f.scans++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.signals, f.scanErr
}

func (f *fakeScanner) EnableSmallAccountStrategies() { f.small = true }

type fakeRecorder struct {
	mu         sync.Mutex
	trades     []history.TradeRecord
	decisions  []history.DecisionContext
	reconciled []string
}

func (f *fakeRecorder) RecordSubmission(_ context.Context, t *history.TradeRecord, d *history.DecisionContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, *t)
	if d != nil {
		f.decisions = append(f.decisions, *d)
	}
	return nil
}

func (f *fakeRecorder) ReconcileTicker(_ context.Context, ticker string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, ticker)
	return 0, nil
}

type fakeResearcher struct {
	res *Research
	err error
}

func (f *fakeResearcher) Research(context.Context, string, string) (*Research, error) {
	return f.res, f.err
}

type fakeDecider struct {
	decision    *Decision
	err         error
	lastSummary string
}

func (f *fakeDecider) Decide(_ context.Context, _ strategy.TradingSignal, summary string, _ broker.PortfolioSnapshot) (*Decision, error) {
	f.lastSummary = summary
	return f.decision, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			DefaultTickers:  []string{"AAPL", "MSFT"},
			MaxUniverseSize: 30,
			MinConfidence:   65,
			MaxSignals:      3,
			AllowFractional: true,
		},
		Risk: config.RiskConfig{
			SmallAccountThreshold:  2000,
			TargetNotionalPerTrade: 200,
			MaxPositionSizePct:     0.1,
			MinBuyingPowerPct:      0.1,
			MaxPositions:           5,
			TradeCooldownMinutes:   15,
			ATRStopMultiplier:      1.5,
			ATRTakeProfitMult:      3.0,
		},
		Research: config.ResearchConfig{TimeoutSec: 1, Depth: "standard"},
		Decision: config.DecisionConfig{TimeoutSec: 1},
	}
}

func signalFor(ticker string, confidence float64) strategy.TradingSignal {
	return strategy.TradingSignal{
		Ticker:          ticker,
		Strategy:        "momentum",
		Direction:       strategy.DirectionLong,
		Confidence:      confidence,
		EntryPrice:      100,
		PositionSizePct: 5,
	}
}

func newTestRunner(g *fakeGateway, s *fakeScanner, rec *fakeRecorder, res Researcher, dec Decider) *Runner {
	cfg := testConfig()
	riskMgr := risk.NewManager(cfg.Risk, zerolog.Nop())
	events := telemetry.NewEventLogger(nil, zerolog.Nop())
	return NewRunner(g, s, riskMgr, rec, nil, res, dec, events, cfg, zerolog.Nop())
}

func TestRunExecutesApprovedTrade(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 50_000, BuyingPower: 100_000},
		pdt:     broker.PDTStatus{CanDayTrade: true},
	}
	s := &fakeScanner{signals: map[string][]strategy.TradingSignal{
		"AAPL": {signalFor("AAPL", 80)},
	}}
	rec := &fakeRecorder{}
	res := &fakeResearcher{res: &Research{Success: true, Answer: "bullish coverage", Confidence: 70}}
	dec := &fakeDecider{decision: &Decision{Action: broker.ActionBuy, Quantity: 100, Confidence: 75, Reasoning: "aligned"}}

	r := newTestRunner(g, s, rec, res, dec)
	result, err := r.Run(context.Background(), Options{ExecuteTrades: true})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 1, result.SignalsFound)
	assert.Equal(t, 1, result.TradesAnalyzed)
	assert.Equal(t, 1, result.TradesExecuted)
	assert.Equal(t, []string{"AAPL"}, g.executed)

	require.Len(t, rec.trades, 1)
	assert.Equal(t, history.ActionBuy, rec.trades[0].Action)
	assert.NotEmpty(t, rec.trades[0].ClientOrderID)
	require.Len(t, rec.decisions, 1)
	assert.Equal(t, "bullish coverage", rec.decisions[0].ResearchSummary)

	assert.False(t, r.Running())
	assert.NotNil(t, r.LastResult())
}

func TestRunConflict(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 50_000, BuyingPower: 100_000},
		pdt:     broker.PDTStatus{CanDayTrade: true},
	}
	s := &fakeScanner{delay: 200 * time.Millisecond}
	r := newTestRunner(g, s, &fakeRecorder{}, nil, nil)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = r.Run(context.Background(), Options{})
		close(done)
	}()
	<-started
	time.Sleep(50 * time.Millisecond) // let the first run take the flag

	begin := time.Now()
	_, err := r.Run(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.Less(t, time.Since(begin), 50*time.Millisecond)

	<-done
	assert.False(t, r.Running())
}

func TestRunPDTGateBlocks(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 8_000, BuyingPower: 16_000},
		pdt:     broker.PDTStatus{CanDayTrade: false, Warning: "3 day trades used"},
	}
	s := &fakeScanner{signals: map[string][]strategy.TradingSignal{
		"AAPL": {signalFor("AAPL", 80)},
	}}
	rec := &fakeRecorder{}

	r := newTestRunner(g, s, rec, nil, nil)
	result, err := r.Run(context.Background(), Options{ExecuteTrades: true})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Zero(t, result.TradesExecuted)
	assert.Empty(t, g.executed)
	require.NotEmpty(t, result.StageErrors)
	assert.Contains(t, result.StageErrors[0], "PDT")
}

func TestRunDryRunRecordsWithoutSubmitting(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 50_000, BuyingPower: 100_000},
		pdt:     broker.PDTStatus{CanDayTrade: true},
	}
	s := &fakeScanner{signals: map[string][]strategy.TradingSignal{
		"AAPL": {signalFor("AAPL", 80)},
	}}
	rec := &fakeRecorder{}
	res := &fakeResearcher{res: &Research{Success: true, Answer: "neutral"}}
	dec := &fakeDecider{decision: &Decision{Action: broker.ActionBuy, Quantity: 2, Confidence: 70}}

	r := newTestRunner(g, s, rec, res, dec)
	result, err := r.Run(context.Background(), Options{ExecuteTrades: true, DryRun: true})
	require.NoError(t, err)

	assert.Empty(t, g.executed)
	assert.Zero(t, result.TradesExecuted)
	require.Len(t, rec.trades, 1)
	assert.Equal(t, "dry_run", rec.trades[0].Notes)
	require.Len(t, rec.decisions, 1)
}

func TestRunResearchFailureDegrades(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 50_000, BuyingPower: 100_000},
		pdt:     broker.PDTStatus{CanDayTrade: true},
	}
	s := &fakeScanner{signals: map[string][]strategy.TradingSignal{
		"AAPL": {signalFor("AAPL", 80)},
	}}
	rec := &fakeRecorder{}
	res := &fakeResearcher{err: errors.New("research backend down")}
	dec := &fakeDecider{decision: &Decision{Action: broker.ActionHold}}

	r := newTestRunner(g, s, rec, res, dec)
	result, err := r.Run(context.Background(), Options{ExecuteTrades: true})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, sentimentUnknown, dec.lastSummary)
	assert.Equal(t, 1, result.TradesAnalyzed)
	assert.Zero(t, result.TradesExecuted) // hold is a no-op
}

func TestRunDeciderErrorSkipsSignal(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 50_000, BuyingPower: 100_000},
		pdt:     broker.PDTStatus{CanDayTrade: true},
	}
	s := &fakeScanner{signals: map[string][]strategy.TradingSignal{
		"AAPL": {signalFor("AAPL", 80)},
	}}
	rec := &fakeRecorder{}
	res := &fakeResearcher{res: &Research{Success: true, Answer: "ok"}}
	dec := &fakeDecider{err: errors.New("pm timeout")}

	r := newTestRunner(g, s, rec, res, dec)
	result, err := r.Run(context.Background(), Options{ExecuteTrades: true})
	require.NoError(t, err)

	assert.Zero(t, result.TradesExecuted)
	require.NotEmpty(t, result.StageErrors)
	assert.Contains(t, result.StageErrors[0], "pm timeout")
}

func TestRunCancelled(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 50_000, BuyingPower: 100_000},
		pdt:     broker.PDTStatus{CanDayTrade: true},
	}
	s := &fakeScanner{delay: time.Second}
	r := newTestRunner(g, s, &fakeRecorder{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := r.Run(ctx, Options{})
	require.Error(t, err)
	assert.Equal(t, StateCancelled, result.State)
	assert.False(t, r.Running())
}

func TestRunSmallAccountEnablesScalpers(t *testing.T) {
	g := &fakeGateway{
		account: broker.Account{Equity: 1_500, BuyingPower: 1_500},
		pdt:     broker.PDTStatus{CanDayTrade: true},
	}
	s := &fakeScanner{}
	r := newTestRunner(g, s, &fakeRecorder{}, nil, nil)

	_, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, s.small)
}

func TestDedupCap(t *testing.T) {
	out := dedupCap([]string{"AAPL", "MSFT", "AAPL", "", "NVDA", "AMD"}, 3)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, out)
}
