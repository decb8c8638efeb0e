package watchlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantpilot/quantpilot/internal/db"
)

// Repository persists watchlist items
type Repository struct {
	pool db.Pool
}

// NewRepository creates a watchlist repository
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, ticker, entry_target, entry_condition, stop_loss, take_profit,
	position_size_pct, priority, status, expires_at, triggered_at, triggered_price, strategy, notes, created_at`

// Insert adds a new item in watching state
func (r *Repository) Insert(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = StatusWatching
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Priority < 1 {
		item.Priority = 5
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO watchlist_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		item.ID, item.Ticker, item.EntryTarget, item.EntryCondition, item.StopLoss, item.TakeProfit,
		item.PositionSizePct, item.Priority, item.Status, item.ExpiresAt,
		item.TriggeredAt, item.TriggeredPrice, item.Strategy, item.Notes, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert watchlist item %s: %w", item.Ticker, err)
	}
	return nil
}

// Update rewrites the mutable fields of a watching item
func (r *Repository) Update(ctx context.Context, item *Item) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE watchlist_items SET entry_target = $2, entry_condition = $3, stop_loss = $4,
			take_profit = $5, position_size_pct = $6, priority = $7, expires_at = $8, notes = $9
		WHERE id = $1 AND status = $10`,
		item.ID, item.EntryTarget, item.EntryCondition, item.StopLoss,
		item.TakeProfit, item.PositionSizePct, item.Priority, item.ExpiresAt, item.Notes,
		StatusWatching,
	)
	if err != nil {
		return fmt.Errorf("failed to update watchlist item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watchlist item %s not found or no longer watching", item.ID)
	}
	return nil
}

// Remove deletes an item
func (r *Repository) Remove(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM watchlist_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove watchlist item %s: %w", id, err)
	}
	return nil
}

// List returns items, optionally filtered by status, in the given sort order
func (r *Repository) List(ctx context.Context, status Status, sortBy string) ([]Item, error) {
	order := "priority DESC, created_at ASC"
	switch sortBy {
	case "created_at":
		order = "created_at DESC"
	case "ticker":
		order = "ticker ASC"
	case "priority", "":
	default:
		return nil, fmt.Errorf("unknown sort key %q", sortBy)
	}

	query := `SELECT ` + itemColumns + ` FROM watchlist_items`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY ` + order

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.Ticker, &it.EntryTarget, &it.EntryCondition, &it.StopLoss, &it.TakeProfit,
			&it.PositionSizePct, &it.Priority, &it.Status, &it.ExpiresAt,
			&it.TriggeredAt, &it.TriggeredPrice, &it.Strategy, &it.Notes, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Get returns one item by id, or nil when absent
func (r *Repository) Get(ctx context.Context, id string) (*Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM watchlist_items WHERE id = $1`, id).Scan(
		&it.ID, &it.Ticker, &it.EntryTarget, &it.EntryCondition, &it.StopLoss, &it.TakeProfit,
		&it.PositionSizePct, &it.Priority, &it.Status, &it.ExpiresAt,
		&it.TriggeredAt, &it.TriggeredPrice, &it.Strategy, &it.Notes, &it.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist item %s: %w", id, err)
	}
	return &it, nil
}

// MarkTriggered advances a watching item to triggered. The status guard in
// the WHERE clause keeps the transition monotone under races.
func (r *Repository) MarkTriggered(ctx context.Context, id string, price float64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE watchlist_items SET status = $2, triggered_at = $3, triggered_price = $4
		WHERE id = $1 AND status = $5`,
		id, StatusTriggered, at, price, StatusWatching,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark watchlist item %s triggered: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpired advances a watching item to expired
func (r *Repository) MarkExpired(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE watchlist_items SET status = $2
		WHERE id = $1 AND status = $3`,
		id, StatusExpired, StatusWatching,
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire watchlist item %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel advances a watching item to cancelled
func (r *Repository) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE watchlist_items SET status = $2
		WHERE id = $1 AND status = $3`,
		id, StatusCancelled, StatusWatching,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel watchlist item %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus aggregates items for the summary
func (r *Repository) CountByStatus(ctx context.Context) (Summary, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM watchlist_items GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to count watchlist: %w", err)
	}
	defer rows.Close()

	var s Summary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("failed to scan watchlist count: %w", err)
		}
		s.Total += count
		switch status {
		case StatusWatching:
			s.Watching = count
		case StatusTriggered:
			s.Triggered = count
		case StatusExpired:
			s.Expired = count
		case StatusCancelled:
			s.Cancelled = count
		}
	}
	return s, rows.Err()
}
