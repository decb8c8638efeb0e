// Package scheduler runs the wall-clock job schedule in the exchange
// timezone and emits liveness heartbeats.
package scheduler

import (
	"context"
	"time"
)

// TaskType names the job kinds the scheduler can dispatch
type TaskType string

const (
	TaskHealthCheck         TaskType = "health_check"
	TaskMomentumScan        TaskType = "momentum_scan"
	TaskDiversificationScan TaskType = "diversification_scan"
	TaskStopLossReview      TaskType = "stop_loss_review"
	TaskWatchlistMonitor    TaskType = "watchlist_monitor"
	TaskDailySnapshot       TaskType = "daily_snapshot"
	TaskPositionMonitor     TaskType = "position_monitor"
	TaskTradingCycle        TaskType = "trading_cycle"
)

// Handler executes one job fire
type Handler func(ctx context.Context, params map[string]interface{}) error

// Task is one scheduled job's registry record
type Task struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Type            TaskType               `json:"task_type"`
	CronSpec        string                 `json:"schedule,omitempty"`
	IntervalMinutes int                    `json:"interval_minutes,omitempty"`
	NextRun         time.Time              `json:"next_run"`
	LastRun         *time.Time             `json:"last_run,omitempty"`
	RunCount        int                    `json:"run_count"`
	SuccessCount    int                    `json:"success_count"`
	FailureCount    int                    `json:"failure_count"`
	IsEnabled       bool                   `json:"is_enabled"`
	MaxRetries      int                    `json:"max_retries"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
}

// TaskRun is one completed job fire for the history view
type TaskRun struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
}

// Heartbeat is the scheduler's liveness record, emitted on every fire
type Heartbeat struct {
	SchedulerID string    `json:"scheduler_id"`
	Hostname    string    `json:"hostname"`
	Timestamp   time.Time `json:"timestamp"`
	JobsPending int       `json:"jobs_pending"`
	JobsRunning int       `json:"jobs_running"`
}

// TaskStore persists the task registry and run history
type TaskStore interface {
	SaveTask(ctx context.Context, task *Task) error
	UpdateRunStats(ctx context.Context, id string, lastRun time.Time, success bool) error
	DeleteTask(ctx context.Context, id string) error
	RecordRun(ctx context.Context, run *TaskRun) error
	ListRuns(ctx context.Context, limit int) ([]TaskRun, error)
}

// HeartbeatStore persists scheduler heartbeats
type HeartbeatStore interface {
	RecordHeartbeat(ctx context.Context, hb *Heartbeat) error
	LastHeartbeat(ctx context.Context) (*time.Time, error)
}
