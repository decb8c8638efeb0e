// Package history records trades, reconciles realized P&L with FIFO lot
// matching and derives performance metrics and daily snapshots.
package history

import (
	"encoding/json"
	"time"
)

// TradeAction is the PM-level verb recorded with each trade
type TradeAction string

const (
	ActionBuy   TradeAction = "buy"
	ActionSell  TradeAction = "sell"
	ActionShort TradeAction = "short"
	ActionCover TradeAction = "cover"
)

// TradeStatus is the trade record lifecycle state
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusFilled  TradeStatus = "filled"
	StatusClosed  TradeStatus = "closed"
)

// TradeRecord is one leg of a trade. Created pending on submission, filled
// on broker confirmation, closed by FIFO reconciliation. Derived fields are
// computed exactly once at close.
type TradeRecord struct {
	ID                 string      `json:"id"`
	Ticker             string      `json:"ticker"`
	Action             TradeAction `json:"action"`
	Quantity           float64     `json:"quantity"`
	EntryPrice         float64     `json:"entry_price"`
	ExitPrice          *float64    `json:"exit_price,omitempty"`
	EntryTime          time.Time   `json:"entry_time"`
	ExitTime           *time.Time  `json:"exit_time,omitempty"`
	Strategy           string      `json:"strategy,omitempty"`
	Status             TradeStatus `json:"status"`
	RealizedPnL        *float64    `json:"realized_pnl,omitempty"`
	ReturnPct          *float64    `json:"return_pct,omitempty"`
	HoldingPeriodHours *float64    `json:"holding_period_hours,omitempty"`
	Fractionable       bool        `json:"fractionable"`
	Notes              string      `json:"notes,omitempty"`
	ClientOrderID      string      `json:"client_order_id,omitempty"`
}

// IsOpening reports whether the action opens exposure
func (a TradeAction) IsOpening() bool {
	return a == ActionBuy || a == ActionShort
}

// IsClosing reports whether the action closes exposure
func (a TradeAction) IsClosing() bool {
	return a == ActionSell || a == ActionCover
}

// DecisionContext is the full bundle captured at decision time. Immutable
// once written except for the reconciliation backfill fields.
type DecisionContext struct {
	ID               string          `json:"id"`
	TradeID          string          `json:"trade_id"`
	Ticker           string          `json:"ticker"`
	Signal           json.RawMessage `json:"signal"`
	ResearchSummary  string          `json:"research_summary"`
	AgentSignals     json.RawMessage `json:"agent_signals,omitempty"`
	ConsensusFor     int             `json:"consensus_for"`
	ConsensusAgainst int             `json:"consensus_against"`
	Action           string          `json:"action"`
	Quantity         float64         `json:"quantity"`
	StopLossPct      float64         `json:"stop_loss_pct"`
	TakeProfitPct    float64         `json:"take_profit_pct"`
	PMConfidence     float64         `json:"pm_confidence"`
	PMReasoning      string          `json:"pm_reasoning"`
	Portfolio        json.RawMessage `json:"portfolio"`
	CreatedAt        time.Time       `json:"created_at"`

	// Backfilled when the trade closes
	ActualReturn  *float64 `json:"actual_return,omitempty"`
	WasProfitable *bool    `json:"was_profitable,omitempty"`
}

// PerformanceMetrics summarizes closed trades
type PerformanceMetrics struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"` // percent
	TotalPnL        float64 `json:"total_pnl"`
	AvgReturnPct    float64 `json:"avg_return_pct"`
	AvgHoldingHours float64 `json:"avg_holding_hours"`
	BestTradePnL    float64 `json:"best_trade_pnl"`
	WorstTradePnL   float64 `json:"worst_trade_pnl"`
	ProfitFactor    float64 `json:"profit_factor"` // gross wins / |gross losses|
}

// DailySnapshot captures end-of-day account performance
type DailySnapshot struct {
	Date           time.Time `json:"date"`
	StartingEquity float64   `json:"starting_equity"`
	EndingEquity   float64   `json:"ending_equity"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	TotalPnL       float64   `json:"total_pnl"`
	ReturnPct      float64   `json:"return_pct"`
	TradesCount    int       `json:"trades_count"`
	WinningTrades  int       `json:"winning_trades"`
	LosingTrades   int       `json:"losing_trades"`
	BiggestWinner  float64   `json:"biggest_winner"`
	BiggestLoser   float64   `json:"biggest_loser"`
}
