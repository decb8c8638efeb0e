package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/quantpilot/internal/telemetry"
)

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]Task
	runs  []TaskRun
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]Task)}
}

func (m *memTaskStore) SaveTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = *t
	return nil
}

func (m *memTaskStore) UpdateRunStats(_ context.Context, id string, lastRun time.Time, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	t.LastRun = &lastRun
	t.RunCount++
	if success {
		t.SuccessCount++
	} else {
		t.FailureCount++
	}
	m.tasks[id] = t
	return nil
}

func (m *memTaskStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memTaskStore) RecordRun(_ context.Context, r *TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *r)
	return nil
}

func (m *memTaskStore) ListRuns(_ context.Context, limit int) ([]TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := append([]TaskRun(nil), m.runs...)
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return runs, nil
}

type memHeartbeatStore struct {
	mu  sync.Mutex
	hbs []Heartbeat
}

func (m *memHeartbeatStore) RecordHeartbeat(_ context.Context, hb *Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hbs = append(m.hbs, *hb)
	return nil
}

func (m *memHeartbeatStore) LastHeartbeat(context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.hbs) == 0 {
		return nil, nil
	}
	ts := m.hbs[len(m.hbs)-1].Timestamp
	return &ts, nil
}

func newTestScheduler(store TaskStore, hbs HeartbeatStore, maxRetries int) *Scheduler {
	loc, _ := time.LoadLocation("America/New_York")
	events := telemetry.NewEventLogger(nil, zerolog.Nop())
	s := New(loc, store, hbs, events, maxRetries, zerolog.Nop())
	s.retryBase = time.Millisecond
	return s
}

func TestAddTaskRequiresHandler(t *testing.T) {
	s := newTestScheduler(nil, nil, 0)
	_, err := s.AddCronTask(TaskHealthCheck, "health", 6, 30, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}

func TestAddIntervalTaskValidation(t *testing.T) {
	s := newTestScheduler(nil, nil, 0)
	s.RegisterHandler(TaskPositionMonitor, func(context.Context, map[string]interface{}) error { return nil })
	_, err := s.AddIntervalTask(TaskPositionMonitor, "monitor", 0, nil)
	assert.Error(t, err)
}

func TestFireSuccessRecordsRunAndHeartbeat(t *testing.T) {
	store := newMemTaskStore()
	hbs := &memHeartbeatStore{}
	s := newTestScheduler(store, hbs, 2)

	var calls int
	s.RegisterHandler(TaskHealthCheck, func(context.Context, map[string]interface{}) error {
		calls++
		return nil
	})

	id, err := s.AddCronTask(TaskHealthCheck, "health", 6, 30, nil)
	require.NoError(t, err)

	s.fire(id)

	assert.Equal(t, 1, calls)
	require.Len(t, store.runs, 1)
	assert.True(t, store.runs[0].Success)
	assert.Equal(t, 1, store.runs[0].Attempts)
	assert.Equal(t, 1, store.tasks[id].SuccessCount)

	require.Len(t, hbs.hbs, 1)
	assert.NotEmpty(t, hbs.hbs[0].SchedulerID)
	assert.Equal(t, 1, hbs.hbs[0].JobsPending)
}

func TestFireRetriesWithBackoff(t *testing.T) {
	store := newMemTaskStore()
	s := newTestScheduler(store, nil, 2)

	var calls int
	s.RegisterHandler(TaskTradingCycle, func(context.Context, map[string]interface{}) error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})

	id, err := s.AddIntervalTask(TaskTradingCycle, "cycle", 30, nil)
	require.NoError(t, err)

	s.fire(id)

	assert.Equal(t, 3, calls)
	require.Len(t, store.runs, 1)
	assert.True(t, store.runs[0].Success)
	assert.Equal(t, 3, store.runs[0].Attempts)
}

func TestFireExhaustsRetries(t *testing.T) {
	store := newMemTaskStore()
	s := newTestScheduler(store, nil, 2)

	var calls int
	s.RegisterHandler(TaskMomentumScan, func(context.Context, map[string]interface{}) error {
		calls++
		return errors.New("always fails")
	})

	id, err := s.AddCronTask(TaskMomentumScan, "scan", 9, 35, nil)
	require.NoError(t, err)

	s.fire(id)

	assert.Equal(t, 3, calls) // initial + 2 retries
	require.Len(t, store.runs, 1)
	assert.False(t, store.runs[0].Success)
	assert.Contains(t, store.runs[0].Error, "always fails")
	assert.Equal(t, 1, store.tasks[id].FailureCount)
}

func TestFireContainsPanic(t *testing.T) {
	store := newMemTaskStore()
	s := newTestScheduler(store, nil, 0)

	s.RegisterHandler(TaskStopLossReview, func(context.Context, map[string]interface{}) error {
		panic("boom")
	})

	id, err := s.AddCronTask(TaskStopLossReview, "review", 12, 0, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() { s.fire(id) })
	require.Len(t, store.runs, 1)
	assert.False(t, store.runs[0].Success)
	assert.Contains(t, store.runs[0].Error, "panicked")
}

func TestRemoveTask(t *testing.T) {
	s := newTestScheduler(newMemTaskStore(), nil, 0)
	s.RegisterHandler(TaskHealthCheck, func(context.Context, map[string]interface{}) error { return nil })

	id, err := s.AddCronTask(TaskHealthCheck, "health", 6, 30, nil)
	require.NoError(t, err)
	require.Len(t, s.GetScheduledTasks(), 1)

	require.NoError(t, s.RemoveTask(id))
	assert.Empty(t, s.GetScheduledTasks())
	assert.Error(t, s.RemoveTask(id))
}

func TestAddDefaultSchedule(t *testing.T) {
	s := newTestScheduler(nil, nil, 1)
	for _, tt := range []TaskType{
		TaskHealthCheck, TaskMomentumScan, TaskDiversificationScan, TaskStopLossReview,
		TaskWatchlistMonitor, TaskDailySnapshot, TaskPositionMonitor, TaskTradingCycle,
	} {
		s.RegisterHandler(tt, func(context.Context, map[string]interface{}) error { return nil })
	}

	require.NoError(t, s.AddDefaultSchedule(5, 30))

	tasks := s.GetScheduledTasks()
	assert.Len(t, tasks, 9)

	byName := make(map[string]Task, len(tasks))
	for _, task := range tasks {
		byName[task.Name] = task
	}
	assert.Equal(t, "30 6 * * *", byName["pre-market health check"].CronSpec)
	assert.Equal(t, "35 9 * * *", byName["market-open momentum scan"].CronSpec)
	assert.Equal(t, "5 16 * * *", byName["daily performance snapshot"].CronSpec)
	assert.Equal(t, "@every 5m", byName["position monitor"].CronSpec)
	assert.Equal(t, "@every 30m", byName["scheduled trading cycle"].CronSpec)
}
