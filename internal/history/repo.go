package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantpilot/quantpilot/internal/db"
)

// TradeRepository persists trade records
type TradeRepository struct {
	pool db.Pool
}

// NewTradeRepository creates a trade repository
func NewTradeRepository(pool db.Pool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

const tradeColumns = `id, ticker, action, quantity, entry_price, exit_price, entry_time, exit_time,
	strategy, status, realized_pnl, return_pct, holding_period_hours, fractionable, notes, client_order_id`

// Insert appends a new trade record. A missing ID is generated.
func (r *TradeRepository) Insert(ctx context.Context, t *TradeRecord) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.EntryTime.IsZero() {
		t.EntryTime = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.Ticker, t.Action, t.Quantity, t.EntryPrice, t.ExitPrice, t.EntryTime, t.ExitTime,
		t.Strategy, t.Status, t.RealizedPnL, t.ReturnPct, t.HoldingPeriodHours, t.Fractionable, t.Notes, t.ClientOrderID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", t.Ticker, err)
	}
	return nil
}

// MarkFilled transitions a pending trade to filled with the actual fill price
func (r *TradeRepository) MarkFilled(ctx context.Context, id string, fillPrice float64, filledAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE trades SET status = $2, entry_price = $3, entry_time = $4
		WHERE id = $1 AND status = $5`,
		id, StatusFilled, fillPrice, filledAt, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark trade %s filled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s not found or not pending", id)
	}
	return nil
}

// Close finalizes a closing leg with its reconciliation outcome
func (r *TradeRepository) Close(ctx context.Context, id string, exitPrice, realizedPnL, returnPct, holdingHours float64, exitTime time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE trades SET status = $2, exit_price = $3, exit_time = $4,
			realized_pnl = $5, return_pct = $6, holding_period_hours = $7
		WHERE id = $1`,
		id, StatusClosed, exitPrice, exitTime, realizedPnL, returnPct, holdingHours,
	)
	if err != nil {
		return fmt.Errorf("failed to close trade %s: %w", id, err)
	}
	return nil
}

// ListByTicker returns all filled and closed trades for a ticker ordered by
// entry time, the replay order the reconciler expects
func (r *TradeRepository) ListByTicker(ctx context.Context, ticker string) ([]TradeRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE ticker = $1 AND status IN ($2, $3)
		ORDER BY entry_time ASC`,
		ticker, StatusFilled, StatusClosed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades for %s: %w", ticker, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListClosed returns closed trades since a cutoff, newest first
func (r *TradeRepository) ListClosed(ctx context.Context, since time.Time) ([]TradeRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = $1 AND exit_time >= $2
		ORDER BY exit_time DESC`,
		StatusClosed, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ActiveTickers returns the distinct tickers with trade activity since a cutoff
func (r *TradeRepository) ActiveTickers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ticker FROM trades
		WHERE entry_time >= $1
		ORDER BY ticker ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListPending returns trades awaiting broker confirmation
func (r *TradeRepository) ListPending(ctx context.Context) ([]TradeRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = $1
		ORDER BY entry_time ASC`,
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]TradeRecord, error) {
	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(
			&t.ID, &t.Ticker, &t.Action, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime,
			&t.Strategy, &t.Status, &t.RealizedPnL, &t.ReturnPct, &t.HoldingPeriodHours, &t.Fractionable, &t.Notes, &t.ClientOrderID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DecisionRepository persists decision contexts
type DecisionRepository struct {
	pool db.Pool
}

// NewDecisionRepository creates a decision context repository
func NewDecisionRepository(pool db.Pool) *DecisionRepository {
	return &DecisionRepository{pool: pool}
}

// Insert writes a decision context captured at decision time
func (r *DecisionRepository) Insert(ctx context.Context, d *DecisionContext) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO decision_contexts (id, trade_id, ticker, signal, research_summary, agent_signals,
			consensus_for, consensus_against, action, quantity, stop_loss_pct, take_profit_pct,
			pm_confidence, pm_reasoning, portfolio, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.TradeID, d.Ticker, d.Signal, d.ResearchSummary, d.AgentSignals,
		d.ConsensusFor, d.ConsensusAgainst, d.Action, d.Quantity, d.StopLossPct, d.TakeProfitPct,
		d.PMConfidence, d.PMReasoning, d.Portfolio, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision context for %s: %w", d.Ticker, err)
	}
	return nil
}

// BackfillOutcome writes the realized outcome onto the decision context once
// the trade closes
func (r *DecisionRepository) BackfillOutcome(ctx context.Context, tradeID string, actualReturn float64, wasProfitable bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE decision_contexts SET actual_return = $2, was_profitable = $3
		WHERE trade_id = $1`,
		tradeID, actualReturn, wasProfitable,
	)
	if err != nil {
		return fmt.Errorf("failed to backfill decision outcome for trade %s: %w", tradeID, err)
	}
	return nil
}

// SnapshotRepository persists daily performance snapshots
type SnapshotRepository struct {
	pool db.Pool
}

// NewSnapshotRepository creates a snapshot repository
func NewSnapshotRepository(pool db.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Upsert writes the snapshot for its calendar date. Re-running the same
// date overwrites, so the 16:05 job is idempotent.
func (r *SnapshotRepository) Upsert(ctx context.Context, s *DailySnapshot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_snapshots (snapshot_date, starting_equity, ending_equity, realized_pnl,
			unrealized_pnl, total_pnl, return_pct, trades_count, winning_trades, losing_trades,
			biggest_winner, biggest_loser)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (snapshot_date) DO UPDATE SET
			starting_equity = EXCLUDED.starting_equity,
			ending_equity = EXCLUDED.ending_equity,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			total_pnl = EXCLUDED.total_pnl,
			return_pct = EXCLUDED.return_pct,
			trades_count = EXCLUDED.trades_count,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			biggest_winner = EXCLUDED.biggest_winner,
			biggest_loser = EXCLUDED.biggest_loser`,
		s.Date, s.StartingEquity, s.EndingEquity, s.RealizedPnL,
		s.UnrealizedPnL, s.TotalPnL, s.ReturnPct, s.TradesCount, s.WinningTrades, s.LosingTrades,
		s.BiggestWinner, s.BiggestLoser,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily snapshot %s: %w", s.Date.Format("2006-01-02"), err)
	}
	return nil
}

// Get returns the snapshot for a date, or nil when none exists
func (r *SnapshotRepository) Get(ctx context.Context, date time.Time) (*DailySnapshot, error) {
	var s DailySnapshot
	err := r.pool.QueryRow(ctx, `
		SELECT snapshot_date, starting_equity, ending_equity, realized_pnl, unrealized_pnl,
			total_pnl, return_pct, trades_count, winning_trades, losing_trades,
			biggest_winner, biggest_loser
		FROM daily_snapshots WHERE snapshot_date = $1`,
		date,
	).Scan(
		&s.Date, &s.StartingEquity, &s.EndingEquity, &s.RealizedPnL, &s.UnrealizedPnL,
		&s.TotalPnL, &s.ReturnPct, &s.TradesCount, &s.WinningTrades, &s.LosingTrades,
		&s.BiggestWinner, &s.BiggestLoser,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily snapshot: %w", err)
	}
	return &s, nil
}
