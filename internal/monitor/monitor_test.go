package monitor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/quantpilot/internal/alerts"
	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/history"
)

type fakeBroker struct {
	positions  []broker.Position
	prices     map[string]float64
	openOrders map[string][]broker.Order
	closed     []string
}

func (f *fakeBroker) GetPositions(context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeBroker) GetCurrentPrice(_ context.Context, symbol string) (float64, error) {
	return f.prices[symbol], nil
}

func (f *fakeBroker) GetOrders(_ context.Context, _ string, _ int, symbols []string) ([]broker.Order, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	return f.openOrders[symbols[0]], nil
}

func (f *fakeBroker) ClosePosition(_ context.Context, symbol string, qty float64) (*broker.Order, error) {
	f.closed = append(f.closed, symbol)
	if f.openOrders == nil {
		f.openOrders = make(map[string][]broker.Order)
	}
	side := broker.OrderSideSell
	for _, p := range f.positions {
		if p.Symbol == symbol && p.Side == "short" {
			side = broker.OrderSideBuy
		}
	}
	order := broker.Order{ID: "o-" + symbol, ClientOrderID: "c-" + symbol, Symbol: symbol, Side: side, Qty: qty}
	f.openOrders[symbol] = append(f.openOrders[symbol], order)
	return &order, nil
}

type fakeRecorder struct {
	trades []history.TradeRecord
}

func (f *fakeRecorder) RecordSubmission(_ context.Context, t *history.TradeRecord, _ *history.DecisionContext) error {
	f.trades = append(f.trades, *t)
	return nil
}

func longPos(symbol string, qty, entry float64) broker.Position {
	return broker.Position{Symbol: symbol, Qty: qty, Side: "long", AvgEntryPrice: entry}
}

func newMonitor(b Broker, rec Recorder) *Monitor {
	return New(b, rec, alerts.NewManager(alerts.NewLogAlerter()), zerolog.Nop())
}

func TestScanStopLossBreach(t *testing.T) {
	fb := &fakeBroker{
		positions: []broker.Position{longPos("AAPL", 10, 100)},
		prices:    map[string]float64{"AAPL": 94}, // below the 5% default stop
	}
	rec := &fakeRecorder{}

	exits, err := newMonitor(fb, rec).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, ExitStopLoss, exits[0].Reason)
	assert.Equal(t, []string{"AAPL"}, fb.closed)

	require.Len(t, rec.trades, 1)
	assert.Equal(t, history.ActionSell, rec.trades[0].Action)
	assert.Equal(t, "auto_exit: stop_loss", rec.trades[0].Notes)
}

func TestScanTakeProfitBreach(t *testing.T) {
	fb := &fakeBroker{
		positions: []broker.Position{longPos("NVDA", 5, 100)},
		prices:    map[string]float64{"NVDA": 111}, // above the 10% default TP
	}
	rec := &fakeRecorder{}

	exits, err := newMonitor(fb, rec).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, ExitTakeProfit, exits[0].Reason)
	assert.Equal(t, "auto_exit: take_profit", rec.trades[0].Notes)
}

func TestScanNoBreachNoExit(t *testing.T) {
	fb := &fakeBroker{
		positions: []broker.Position{longPos("MSFT", 5, 100)},
		prices:    map[string]float64{"MSFT": 102},
	}
	rec := &fakeRecorder{}

	exits, err := newMonitor(fb, rec).Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, exits)
	assert.Empty(t, fb.closed)
}

func TestScanIdempotent(t *testing.T) {
	fb := &fakeBroker{
		positions: []broker.Position{longPos("AAPL", 10, 100)},
		prices:    map[string]float64{"AAPL": 90},
	}
	rec := &fakeRecorder{}
	m := newMonitor(fb, rec)

	first, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second scan with no price change: the open closing order suppresses
	// a duplicate exit
	second, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, []string{"AAPL"}, fb.closed)
}

func TestScanShortPosition(t *testing.T) {
	fb := &fakeBroker{
		positions: []broker.Position{{Symbol: "TSLA", Qty: -5, Side: "short", AvgEntryPrice: 200}},
		prices:    map[string]float64{"TSLA": 212}, // above the 5% short stop
	}
	rec := &fakeRecorder{}

	exits, err := newMonitor(fb, rec).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, ExitStopLoss, exits[0].Reason)
	assert.Equal(t, 5.0, exits[0].Qty)
	assert.Equal(t, history.ActionCover, rec.trades[0].Action)
}

func TestPerSymbolRuleOverridesDefaults(t *testing.T) {
	fb := &fakeBroker{
		positions: []broker.Position{longPos("AAPL", 10, 100)},
		prices:    map[string]float64{"AAPL": 97}, // inside default stop, outside custom
	}
	rec := &fakeRecorder{}
	m := newMonitor(fb, rec)

	custom := 98.0
	m.SetRule("AAPL", ExitRule{StopLoss: &custom})

	exits, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, ExitStopLoss, exits[0].Reason)

	m.ClearRule("AAPL")
	fb.openOrders = nil
	fb.closed = nil
	exits, err = m.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, exits) // default 5% stop no longer breached
}
