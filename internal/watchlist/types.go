// Package watchlist maintains the durable store of candidate trades and
// evaluates their entry triggers against fresh prices.
package watchlist

import "time"

// Status is the watchlist item lifecycle state. Transitions are monotone:
// watching progresses to exactly one of triggered, expired or cancelled.
type Status string

const (
	StatusWatching  Status = "watching"
	StatusTriggered Status = "triggered"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Condition selects how the entry target is compared against price
type Condition string

const (
	ConditionAbove    Condition = "above"
	ConditionBelow    Condition = "below"
	ConditionBreakout Condition = "breakout"
)

// Item is one candidate trade under watch
type Item struct {
	ID              string     `json:"id"`
	Ticker          string     `json:"ticker"`
	EntryTarget     *float64   `json:"entry_target,omitempty"`
	EntryCondition  Condition  `json:"entry_condition"`
	StopLoss        *float64   `json:"stop_loss,omitempty"`
	TakeProfit      *float64   `json:"take_profit,omitempty"`
	PositionSizePct float64    `json:"position_size_pct"`
	Priority        int        `json:"priority"` // 1-10
	Status          Status     `json:"status"`
	ExpiresAt       time.Time  `json:"expires_at"`
	TriggeredAt     *time.Time `json:"triggered_at,omitempty"`
	TriggeredPrice  *float64   `json:"triggered_price,omitempty"`
	Strategy        string     `json:"strategy,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Summary aggregates the watchlist by status
type Summary struct {
	Total     int `json:"total"`
	Watching  int `json:"watching"`
	Triggered int `json:"triggered"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
}

// RankedStock is one external AI-ranked candidate used for auto-enrichment
type RankedStock struct {
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name"`
	Sector  string  `json:"sector"`
	AIScore float64 `json:"ai_score"` // 0-10
}
