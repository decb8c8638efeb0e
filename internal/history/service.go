package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/quantpilot/internal/db"
)

// Service is the trade history facade the cycle, monitor and scheduler use
type Service struct {
	trades    *TradeRepository
	decisions *DecisionRepository
	snapshots *SnapshotRepository
	log       zerolog.Logger
}

// NewService creates the history service over one connection pool
func NewService(pool db.Pool, log zerolog.Logger) *Service {
	return &Service{
		trades:    NewTradeRepository(pool),
		decisions: NewDecisionRepository(pool),
		snapshots: NewSnapshotRepository(pool),
		log:       log.With().Str("component", "history").Logger(),
	}
}

// Trades exposes the trade repository
func (s *Service) Trades() *TradeRepository { return s.trades }

// Snapshots exposes the snapshot repository
func (s *Service) Snapshots() *SnapshotRepository { return s.snapshots }

// RecordSubmission appends a pending trade and, when present, its decision
// context
func (s *Service) RecordSubmission(ctx context.Context, trade *TradeRecord, decision *DecisionContext) error {
	if err := s.trades.Insert(ctx, trade); err != nil {
		return err
	}
	if decision != nil {
		decision.TradeID = trade.ID
		decision.Ticker = trade.Ticker
		if err := s.decisions.Insert(ctx, decision); err != nil {
			return err
		}
	}
	s.log.Info().
		Str("trade_id", trade.ID).
		Str("ticker", trade.Ticker).
		Str("action", string(trade.Action)).
		Float64("quantity", trade.Quantity).
		Msg("Trade recorded")
	return nil
}

// ConfirmFill marks a pending trade filled at the broker's fill price
func (s *Service) ConfirmFill(ctx context.Context, tradeID string, fillPrice float64, filledAt time.Time) error {
	return s.trades.MarkFilled(ctx, tradeID, fillPrice, filledAt)
}

// ReconcileTicker replays a ticker's fills through FIFO matching and
// finalizes any closing legs that are not yet closed. Each finalized leg
// also backfills its decision context with the realized outcome.
func (s *Service) ReconcileTicker(ctx context.Context, ticker string) (int, error) {
	records, err := s.trades.ListByTicker(ctx, ticker)
	if err != nil {
		return 0, err
	}

	rec := NewReconciler()
	closed := 0
	for _, t := range records {
		result, err := rec.Apply(t)
		if err != nil {
			s.log.Error().Err(err).Str("ticker", ticker).Str("trade_id", t.ID).Msg("FIFO reconciliation aborted")
			return closed, err
		}
		if result == nil || t.Status == StatusClosed {
			continue
		}

		exitTime := t.EntryTime
		if err := s.trades.Close(ctx, t.ID, t.EntryPrice, result.RealizedPnL, result.ReturnPct, result.HoldingHours, exitTime); err != nil {
			return closed, err
		}
		if err := s.decisions.BackfillOutcome(ctx, t.ID, result.ReturnPct, result.RealizedPnL > 0); err != nil {
			s.log.Warn().Err(err).Str("trade_id", t.ID).Msg("Decision outcome backfill failed")
		}
		closed++

		s.log.Info().
			Str("ticker", ticker).
			Str("trade_id", t.ID).
			Float64("realized_pnl", result.RealizedPnL).
			Float64("return_pct", result.ReturnPct).
			Msg("Trade closed by reconciliation")
	}
	return closed, nil
}

// Metrics aggregates closed trades since the cutoff
func (s *Service) Metrics(ctx context.Context, since time.Time) (PerformanceMetrics, error) {
	trades, err := s.trades.ListClosed(ctx, since)
	if err != nil {
		return PerformanceMetrics{}, err
	}
	return ComputeMetrics(trades), nil
}

// MetricsByStrategy aggregates closed trades since the cutoff, broken down
// by originating strategy
func (s *Service) MetricsByStrategy(ctx context.Context, since time.Time) (map[string]PerformanceMetrics, error) {
	trades, err := s.trades.ListClosed(ctx, since)
	if err != nil {
		return nil, err
	}
	return ComputeMetricsByStrategy(trades), nil
}

// TakeDailySnapshot writes the end-of-day snapshot for the given date.
// Equity values come from the caller's broker sync; trade counters come
// from that day's closed trades. Idempotent per calendar date.
func (s *Service) TakeDailySnapshot(ctx context.Context, date time.Time, startingEquity, endingEquity, unrealizedPnL float64) (*DailySnapshot, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	closed, err := s.trades.ListClosed(ctx, dayStart)
	if err != nil {
		return nil, err
	}

	snap := &DailySnapshot{
		Date:           dayStart,
		StartingEquity: startingEquity,
		EndingEquity:   endingEquity,
		UnrealizedPnL:  unrealizedPnL,
	}
	for _, t := range closed {
		if t.ExitTime == nil || t.ExitTime.After(dayStart.AddDate(0, 0, 1)) {
			continue
		}
		pnl := 0.0
		if t.RealizedPnL != nil {
			pnl = *t.RealizedPnL
		}
		snap.RealizedPnL += pnl
		snap.TradesCount++
		if pnl > 0 {
			snap.WinningTrades++
			if pnl > snap.BiggestWinner {
				snap.BiggestWinner = pnl
			}
		} else if pnl < 0 {
			snap.LosingTrades++
			if pnl < snap.BiggestLoser {
				snap.BiggestLoser = pnl
			}
		}
	}
	snap.TotalPnL = snap.RealizedPnL + snap.UnrealizedPnL
	if startingEquity > 0 {
		snap.ReturnPct = (endingEquity - startingEquity) / startingEquity * 100
	}

	if err := s.snapshots.Upsert(ctx, snap); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("date", dayStart.Format("2006-01-02")).
		Float64("total_pnl", snap.TotalPnL).
		Int("trades", snap.TradesCount).
		Msg("Daily snapshot written")
	return snap, nil
}

// SyncOrders walks pending trades and confirms or abandons them using the
// caller-provided lookup of broker order state
type OrderState struct {
	Filled         bool
	FilledAvgPrice float64
	FilledAt       time.Time
	Cancelled      bool
}

// SyncPending resolves pending trades against broker order state.
// lookup receives the client order id and returns the order's state.
func (s *Service) SyncPending(ctx context.Context, lookup func(ctx context.Context, clientOrderID string) (*OrderState, error)) (int, error) {
	pending, err := s.trades.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, t := range pending {
		if t.ClientOrderID == "" {
			continue
		}
		state, err := lookup(ctx, t.ClientOrderID)
		if err != nil {
			s.log.Warn().Err(err).Str("trade_id", t.ID).Msg("Order state lookup failed")
			continue
		}
		if state == nil || !state.Filled {
			continue
		}
		if err := s.ConfirmFill(ctx, t.ID, state.FilledAvgPrice, state.FilledAt); err != nil {
			return confirmed, fmt.Errorf("failed to confirm fill for %s: %w", t.ID, err)
		}
		confirmed++
	}
	return confirmed, nil
}
