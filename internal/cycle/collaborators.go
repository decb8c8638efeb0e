// Package cycle runs the staged screen-research-decide-execute trading
// pipeline with at-most-one-run semantics.
package cycle

import (
	"context"

	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/strategy"
)

// Research is a research collaborator's answer for one signal
type Research struct {
	Success    bool     `json:"success"`
	Answer     string   `json:"answer,omitempty"`
	Confidence float64  `json:"confidence"` // 0-100
	Sources    []string `json:"sources,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Researcher produces a sentiment summary for a candidate trade. Calls are
// bounded by the cycle's research timeout; failures degrade to
// sentiment=unknown without aborting the cycle.
type Researcher interface {
	Research(ctx context.Context, query, depth string) (*Research, error)
}

// Decision is the portfolio manager's verdict for one signal
type Decision struct {
	Action        broker.TradeAction `json:"action"`
	Quantity      float64            `json:"quantity"`
	Confidence    float64            `json:"confidence"`
	StopLossPct   float64            `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64            `json:"take_profit_pct,omitempty"`
	Reasoning     string             `json:"reasoning"`
}

// Decider turns a signal plus research into an actionable decision. A
// timeout or error skips the signal; the cycle continues.
type Decider interface {
	Decide(ctx context.Context, sig strategy.TradingSignal, researchSummary string, snapshot broker.PortfolioSnapshot) (*Decision, error)
}

// sentimentUnknown is the degraded research summary used when the
// collaborator fails or times out
const sentimentUnknown = "sentiment=unknown"

// NoopResearcher is the built-in fallback when no external research
// collaborator is configured. Every query degrades to unknown sentiment.
type NoopResearcher struct{}

// Research implements Researcher
func (NoopResearcher) Research(context.Context, string, string) (*Research, error) {
	return &Research{Success: false, Error: "no research collaborator configured"}, nil
}

// RuleBasedDecider is the built-in PM used when no external decision
// collaborator is configured: it approves sufficiently confident signals in
// the signal's direction and holds otherwise. Quantity zero defers to the
// risk sizer.
type RuleBasedDecider struct {
	MinConfidence float64
}

// Decide implements Decider
func (d RuleBasedDecider) Decide(_ context.Context, sig strategy.TradingSignal, _ string, _ broker.PortfolioSnapshot) (*Decision, error) {
	min := d.MinConfidence
	if min <= 0 {
		min = 70
	}
	if sig.Confidence < min {
		return &Decision{Action: broker.ActionHold, Reasoning: "signal confidence below approval floor"}, nil
	}

	action := broker.ActionBuy
	if sig.Direction == strategy.DirectionShort {
		action = broker.ActionShort
	}
	return &Decision{
		Action:     action,
		Confidence: sig.Confidence,
		Reasoning:  sig.Reasoning,
	}, nil
}
