// Package risk implements position sizing, stop derivation, the
// small-account trading profile and the per-ticker cooldown gate.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/config"
	"github.com/quantpilot/quantpilot/internal/strategy"
)

// Manager owns the risk configuration and the cooldown registry
type Manager struct {
	cfg config.RiskConfig
	log zerolog.Logger

	mu        sync.Mutex
	lastTrade map[string]time.Time
	now       func() time.Time
}

// NewManager creates a risk manager
func NewManager(cfg config.RiskConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log.With().Str("component", "risk").Logger(),
		lastTrade: make(map[string]time.Time),
		now:       time.Now,
	}
}

// IsSmallAccount reports whether equity puts the account in small-account mode
func (m *Manager) IsSmallAccount(equity float64) bool {
	return equity <= m.cfg.SmallAccountThreshold
}

// Profile is the trading parameter set derived from account size
type Profile struct {
	SmallAccount    bool
	MinConfidence   float64
	MaxSignals      int
	MaxTickerPrice  float64
	AllowFractional bool
	MaxPositions    int
}

// ProfileFor derives the trading profile for the given equity. Small
// accounts trade fewer, higher-conviction signals in cheaper names.
func (m *Manager) ProfileFor(equity float64, trading config.TradingConfig) Profile {
	p := Profile{
		SmallAccount:    false,
		MinConfidence:   trading.MinConfidence,
		MaxSignals:      trading.MaxSignals,
		MaxTickerPrice:  0, // no cap
		AllowFractional: trading.AllowFractional,
		MaxPositions:    m.cfg.MaxPositions,
	}
	if !m.IsSmallAccount(equity) {
		return p
	}

	p.SmallAccount = true
	p.MinConfidence = math.Max(trading.MinConfidence, 70)
	if p.MaxSignals > 2 {
		p.MaxSignals = 2
	}
	p.MaxTickerPrice = m.cfg.MaxTickerPrice
	p.AllowFractional = true
	if p.MaxPositions > 3 {
		p.MaxPositions = 3
	}
	return p
}

// Sizing is the outcome of SizePosition
type Sizing struct {
	Quantity   float64
	Notional   float64
	Fractional bool
}

// SizePosition computes the order quantity for a signal.
// Target notional is the smaller of the strategy's percent-of-equity and the
// configured dollar target; the result is rejected when it would breach the
// buying-power reserve or the per-ticker cap.
func (m *Manager) SizePosition(sig strategy.TradingSignal, account *broker.Account, fractionable bool) (Sizing, error) {
	if sig.EntryPrice <= 0 {
		return Sizing{}, &broker.PreconditionError{Reason: fmt.Sprintf("invalid entry price %.2f for %s", sig.EntryPrice, sig.Ticker)}
	}

	pctNotional := sig.PositionSizePct / 100 * account.Equity
	target := pctNotional
	if m.cfg.TargetNotionalPerTrade > 0 && m.cfg.TargetNotionalPerTrade < target {
		target = m.cfg.TargetNotionalPerTrade
	}
	if target <= 0 {
		return Sizing{}, &broker.PreconditionError{Reason: "target notional is zero"}
	}

	qty := target / sig.EntryPrice
	isFractional := false
	if fractionable {
		qty = math.Round(qty*10000) / 10000
		isFractional = qty != math.Trunc(qty)
	} else {
		qty = math.Floor(qty)
		if qty < 1 {
			qty = 1
		}
	}
	if qty <= 0 {
		return Sizing{}, &broker.PreconditionError{Reason: fmt.Sprintf("quantity rounds to zero for %s at %.2f", sig.Ticker, sig.EntryPrice)}
	}

	notional := qty * sig.EntryPrice
	available := (1 - m.cfg.MinBuyingPowerPct) * account.BuyingPower
	if notional > available {
		return Sizing{}, &broker.PreconditionError{
			Reason: fmt.Sprintf("notional %.2f exceeds available buying power %.2f (reserve %.0f%%)", notional, available, m.cfg.MinBuyingPowerPct*100),
		}
	}
	if m.cfg.MaxPositionSizePct > 0 && notional > m.cfg.MaxPositionSizePct*account.Equity {
		return Sizing{}, &broker.PreconditionError{
			Reason: fmt.Sprintf("notional %.2f exceeds per-ticker cap %.2f", notional, m.cfg.MaxPositionSizePct*account.Equity),
		}
	}

	return Sizing{Quantity: qty, Notional: notional, Fractional: isFractional}, nil
}

// Stops holds the derived exit levels
type Stops struct {
	StopLoss   float64
	TakeProfit float64
}

// percent tiers by notional when ATR is unavailable
func fallbackStopPct(notional float64) float64 {
	switch {
	case notional < 500:
		return 0.03
	case notional < 5000:
		return 0.04
	default:
		return 0.05
	}
}

// ComputeStops derives stop-loss and take-profit levels. ATR-based stops are
// preferred; zero ATR falls back to fixed percent tiers keyed on notional.
func (m *Manager) ComputeStops(entry, atr, notional float64, direction strategy.Direction) Stops {
	var stopDist, tpDist float64
	if atr > 0 {
		stopDist = m.cfg.ATRStopMultiplier * atr
		tpDist = m.cfg.ATRTakeProfitMult * atr
	} else {
		pct := fallbackStopPct(notional)
		stopDist = entry * pct
		tpDist = entry * pct * 2
	}

	if direction == strategy.DirectionShort {
		return Stops{StopLoss: entry + stopDist, TakeProfit: entry - tpDist}
	}
	return Stops{StopLoss: entry - stopDist, TakeProfit: entry + tpDist}
}

// CheckCooldown rejects a trade when the same ticker traded within the
// cooldown window
func (m *Manager) CheckCooldown(ticker string) error {
	cooldown := time.Duration(m.cfg.TradeCooldownMinutes) * time.Minute
	if cooldown <= 0 {
		return nil
	}

	m.mu.Lock()
	last, ok := m.lastTrade[ticker]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	elapsed := m.now().Sub(last)
	if elapsed < cooldown {
		return &broker.PreconditionError{
			Reason: fmt.Sprintf("%s traded %.0fm ago, cooldown is %dm", ticker, elapsed.Minutes(), m.cfg.TradeCooldownMinutes),
		}
	}
	return nil
}

// RecordTrade stamps the cooldown clock for a ticker
func (m *Manager) RecordTrade(ticker string) {
	m.mu.Lock()
	m.lastTrade[ticker] = m.now()
	m.mu.Unlock()
}

// CheckPositionCap rejects a new position when the account already holds
// the configured maximum
func (m *Manager) CheckPositionCap(openPositions int, ticker string, held bool) error {
	if held {
		return nil // adding to an existing position
	}
	if m.cfg.MaxPositions > 0 && openPositions >= m.cfg.MaxPositions {
		return &broker.PreconditionError{
			Reason: fmt.Sprintf("position cap reached (%d), skipping %s", m.cfg.MaxPositions, ticker),
		}
	}
	return nil
}
