// Package monitor watches open positions and closes them when stop-loss or
// take-profit levels are breached.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/quantpilot/internal/alerts"
	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/history"
)

// Broker is the subset of the broker gateway the monitor depends on
type Broker interface {
	GetPositions(ctx context.Context) ([]broker.Position, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetOrders(ctx context.Context, status string, limit int, symbols []string) ([]broker.Order, error)
	ClosePosition(ctx context.Context, symbol string, qty float64) (*broker.Order, error)
}

// Recorder is the history surface the monitor writes exits through
type Recorder interface {
	RecordSubmission(ctx context.Context, trade *history.TradeRecord, decision *history.DecisionContext) error
}

// ExitRule overrides the default exit levels for one symbol. Absolute
// prices; nil fields fall back to the percent defaults.
type ExitRule struct {
	StopLoss   *float64
	TakeProfit *float64
}

// ExitReason names why a position was closed
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
)

// Exit describes one auto-exit performed by a scan
type Exit struct {
	Symbol string
	Reason ExitReason
	Qty    float64
	Price  float64
}

// Monitor evaluates SL/TP rules over open positions
type Monitor struct {
	broker  Broker
	history Recorder
	alerts  *alerts.Manager
	log     zerolog.Logger

	// default percent exits applied when no per-symbol rule exists
	defaultStopPct float64
	defaultTPPct   float64

	mu    sync.Mutex
	rules map[string]ExitRule
}

// New creates a position monitor with 5% stop / 10% take-profit defaults
func New(b Broker, rec Recorder, am *alerts.Manager, log zerolog.Logger) *Monitor {
	return &Monitor{
		broker:         b,
		history:        rec,
		alerts:         am,
		log:            log.With().Str("component", "position_monitor").Logger(),
		defaultStopPct: 0.05,
		defaultTPPct:   0.10,
		rules:          make(map[string]ExitRule),
	}
}

// SetRule installs a per-symbol exit rule, overriding the defaults
func (m *Monitor) SetRule(symbol string, rule ExitRule) {
	m.mu.Lock()
	m.rules[symbol] = rule
	m.mu.Unlock()
}

// ClearRule removes a per-symbol exit rule
func (m *Monitor) ClearRule(symbol string) {
	m.mu.Lock()
	delete(m.rules, symbol)
	m.mu.Unlock()
}

// levels resolves the exit prices for a position
func (m *Monitor) levels(pos broker.Position) (stop, takeProfit float64) {
	entry := pos.AvgEntryPrice
	if pos.Side == "short" {
		stop = entry * (1 + m.defaultStopPct)
		takeProfit = entry * (1 - m.defaultTPPct)
	} else {
		stop = entry * (1 - m.defaultStopPct)
		takeProfit = entry * (1 + m.defaultTPPct)
	}

	m.mu.Lock()
	rule, ok := m.rules[pos.Symbol]
	m.mu.Unlock()
	if ok {
		if rule.StopLoss != nil {
			stop = *rule.StopLoss
		}
		if rule.TakeProfit != nil {
			takeProfit = *rule.TakeProfit
		}
	}
	return stop, takeProfit
}

// breached evaluates the exit rules against the latest price
func breached(pos broker.Position, price, stop, takeProfit float64) (ExitReason, bool) {
	if pos.Side == "short" {
		if price >= stop {
			return ExitStopLoss, true
		}
		if price <= takeProfit {
			return ExitTakeProfit, true
		}
		return "", false
	}
	if price <= stop {
		return ExitStopLoss, true
	}
	if price >= takeProfit {
		return ExitTakeProfit, true
	}
	return "", false
}

// hasOpenClosingOrder reports whether a closing order for the position is
// already working, which makes a second exit redundant
func (m *Monitor) hasOpenClosingOrder(ctx context.Context, pos broker.Position) bool {
	orders, err := m.broker.GetOrders(ctx, "open", 50, []string{pos.Symbol})
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Open order lookup failed, assuming none")
		return false
	}
	closingSide := broker.OrderSideSell
	if pos.Side == "short" {
		closingSide = broker.OrderSideBuy
	}
	for _, o := range orders {
		if o.Side == closingSide {
			return true
		}
	}
	return false
}

// Scan evaluates every open position once and closes breached ones.
// Scanning twice with no price movement produces no additional exits
// because the first exit leaves an open closing order.
func (m *Monitor) Scan(ctx context.Context) ([]Exit, error) {
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position fetch failed: %w", err)
	}

	var exits []Exit
	for _, pos := range positions {
		price, err := m.broker.GetCurrentPrice(ctx, pos.Symbol)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Price lookup failed, skipping position")
			continue
		}

		stop, takeProfit := m.levels(pos)
		reason, hit := breached(pos, price, stop, takeProfit)
		if !hit {
			continue
		}
		if m.hasOpenClosingOrder(ctx, pos) {
			m.log.Debug().Str("symbol", pos.Symbol).Msg("Closing order already open, skipping")
			continue
		}

		exit, err := m.closePosition(ctx, pos, price, reason)
		if err != nil {
			m.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Auto-exit failed")
			continue
		}
		exits = append(exits, *exit)
	}
	return exits, nil
}

func (m *Monitor) closePosition(ctx context.Context, pos broker.Position, price float64, reason ExitReason) (*Exit, error) {
	qty := pos.Qty
	if qty < 0 {
		qty = -qty
	}

	order, err := m.broker.ClosePosition(ctx, pos.Symbol, qty)
	if err != nil {
		return nil, err
	}

	action := history.ActionSell
	if pos.Side == "short" {
		action = history.ActionCover
	}
	trade := &history.TradeRecord{
		Ticker:     pos.Symbol,
		Action:     action,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  time.Now().UTC(),
		Notes:      fmt.Sprintf("auto_exit: %s", reason),
	}
	if order != nil {
		trade.ClientOrderID = order.ClientOrderID
	}
	if err := m.history.RecordSubmission(ctx, trade, nil); err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Auto-exit trade record failed")
	}

	title := fmt.Sprintf("Auto-exit %s", pos.Symbol)
	msg := fmt.Sprintf("%s closed %.4f shares at %.2f (%s)", pos.Symbol, qty, price, reason)
	meta := map[string]interface{}{"symbol": pos.Symbol, "reason": string(reason), "price": price}
	if reason == ExitStopLoss {
		_ = m.alerts.Warning(ctx, title, msg, meta)
	} else {
		_ = m.alerts.Info(ctx, title, msg, meta)
	}

	m.log.Info().
		Str("symbol", pos.Symbol).
		Str("reason", string(reason)).
		Float64("qty", qty).
		Float64("price", price).
		Msg("Position auto-exited")

	return &Exit{Symbol: pos.Symbol, Reason: reason, Qty: qty, Price: price}, nil
}
