package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantpilot/quantpilot/internal/db"
)

// PGTaskStore persists tasks and run history in PostgreSQL
type PGTaskStore struct {
	pool db.Pool
}

// NewPGTaskStore creates a task store
func NewPGTaskStore(pool db.Pool) *PGTaskStore {
	return &PGTaskStore{pool: pool}
}

// SaveTask upserts the task registry row
func (s *PGTaskStore) SaveTask(ctx context.Context, task *Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_tasks (id, name, task_type, cron_spec, interval_minutes, next_run,
			is_enabled, max_retries, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			cron_spec = EXCLUDED.cron_spec,
			interval_minutes = EXCLUDED.interval_minutes,
			next_run = EXCLUDED.next_run,
			is_enabled = EXCLUDED.is_enabled,
			max_retries = EXCLUDED.max_retries,
			parameters = EXCLUDED.parameters`,
		task.ID, task.Name, task.Type, task.CronSpec, task.IntervalMinutes, task.NextRun,
		task.IsEnabled, task.MaxRetries, task.Parameters,
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.Name, err)
	}
	return nil
}

// UpdateRunStats bumps the run counters after a fire
func (s *PGTaskStore) UpdateRunStats(ctx context.Context, id string, lastRun time.Time, success bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks SET
			last_run = $2,
			run_count = run_count + 1,
			success_count = success_count + CASE WHEN $3 THEN 1 ELSE 0 END,
			failure_count = failure_count + CASE WHEN $3 THEN 0 ELSE 1 END
		WHERE id = $1`,
		id, lastRun, success,
	)
	if err != nil {
		return fmt.Errorf("failed to update run stats for task %s: %w", id, err)
	}
	return nil
}

// DeleteTask removes a task row
func (s *PGTaskStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// RecordRun appends a run history row
func (s *PGTaskStore) RecordRun(ctx context.Context, run *TaskRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_runs (id, task_id, name, started_at, finished_at, success, attempts, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.TaskID, run.Name, run.StartedAt, run.FinishedAt, run.Success, run.Attempts, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record task run %s: %w", run.Name, err)
	}
	return nil
}

// ListRuns returns the most recent run history rows, newest first
func (s *PGTaskStore) ListRuns(ctx context.Context, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, name, started_at, finished_at, success, attempts, error
		FROM task_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	var out []TaskRun
	for rows.Next() {
		var r TaskRun
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Name, &r.StartedAt, &r.FinishedAt, &r.Success, &r.Attempts, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PGHeartbeatStore persists heartbeats in PostgreSQL
type PGHeartbeatStore struct {
	pool db.Pool
}

// NewPGHeartbeatStore creates a heartbeat store
func NewPGHeartbeatStore(pool db.Pool) *PGHeartbeatStore {
	return &PGHeartbeatStore{pool: pool}
}

// RecordHeartbeat appends one heartbeat row
func (s *PGHeartbeatStore) RecordHeartbeat(ctx context.Context, hb *Heartbeat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduler_heartbeats (scheduler_id, hostname, ts, jobs_pending, jobs_running)
		VALUES ($1, $2, $3, $4, $5)`,
		hb.SchedulerID, hb.Hostname, hb.Timestamp, hb.JobsPending, hb.JobsRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// LastHeartbeat returns the most recent heartbeat time across scheduler
// instances, or nil when none exists
func (s *PGHeartbeatStore) LastHeartbeat(ctx context.Context) (*time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `SELECT ts FROM scheduler_heartbeats ORDER BY ts DESC LIMIT 1`).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last heartbeat: %w", err)
	}
	return &ts, nil
}
