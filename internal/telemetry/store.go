package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantpilot/quantpilot/internal/db"
)

// PGEventStore persists telemetry events in a time-series table
type PGEventStore struct {
	pool db.Pool
}

// NewPGEventStore creates a postgres-backed event store
func NewPGEventStore(pool db.Pool) *PGEventStore {
	return &PGEventStore{pool: pool}
}

// WriteEvent inserts one event row
func (s *PGEventStore) WriteEvent(ctx context.Context, ev Event) error {
	var fields []byte
	if ev.Fields != nil {
		var err error
		fields, err = json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal event fields: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_events (ts, workflow_id, event_type, name, status, step_index, duration_ms, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.Timestamp, ev.WorkflowID, string(ev.Type), ev.Name, ev.Status, ev.StepIndex, ev.DurationMS, fields)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry event: %w", err)
	}
	return nil
}
