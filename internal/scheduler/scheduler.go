package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quantpilot/quantpilot/internal/telemetry"
)

// Scheduler dispatches registered jobs on wall-clock schedules in a fixed
// timezone. A single mutex guards the registry; job bodies run outside it.
type Scheduler struct {
	cron     *cron.Cron
	loc      *time.Location
	id       string
	hostname string
	log      zerolog.Logger

	taskStore  TaskStore
	hbStore    HeartbeatStore
	events     *telemetry.EventLogger
	maxRetries int
	retryBase  time.Duration

	mu       sync.Mutex
	handlers map[TaskType]Handler
	tasks    map[string]*taskEntry

	running int64 // jobs currently executing

	ctx    context.Context
	cancel context.CancelFunc
}

type taskEntry struct {
	task    Task
	entryID cron.EntryID
}

// New creates a scheduler in the given timezone. Stores may be nil; the
// scheduler then keeps registry state in memory only.
func New(loc *time.Location, taskStore TaskStore, hbStore HeartbeatStore, events *telemetry.EventLogger, maxRetries int, log zerolog.Logger) *Scheduler {
	hostname, _ := os.Hostname()
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		loc:        loc,
		id:         uuid.New().String(),
		hostname:   hostname,
		log:        log.With().Str("component", "scheduler").Logger(),
		taskStore:  taskStore,
		hbStore:    hbStore,
		events:     events,
		maxRetries: maxRetries,
		retryBase:  time.Minute,
		handlers:   make(map[TaskType]Handler),
		tasks:      make(map[string]*taskEntry),
	}
}

// RegisterHandler binds a task type to its job body. Handlers must be
// registered before tasks of that type are added.
func (s *Scheduler) RegisterHandler(taskType TaskType, h Handler) {
	s.mu.Lock()
	s.handlers[taskType] = h
	s.mu.Unlock()
}

// Start begins dispatching. Missed fires from before Start are not made up.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.log.Info().Str("scheduler_id", s.id).Str("timezone", s.loc.String()).Msg("Scheduler started")
}

// Stop halts dispatching and waits for running jobs to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddCronTask schedules a daily job at hour:minute in the scheduler timezone
func (s *Scheduler) AddCronTask(taskType TaskType, name string, hour, minute int, params map[string]interface{}) (string, error) {
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	return s.addTask(taskType, name, spec, 0, params)
}

// AddIntervalTask schedules a job every n minutes
func (s *Scheduler) AddIntervalTask(taskType TaskType, name string, minutes int, params map[string]interface{}) (string, error) {
	if minutes < 1 {
		return "", fmt.Errorf("interval must be at least 1 minute")
	}
	spec := fmt.Sprintf("@every %dm", minutes)
	return s.addTask(taskType, name, spec, minutes, params)
}

func (s *Scheduler) addTask(taskType TaskType, name, spec string, intervalMinutes int, params map[string]interface{}) (string, error) {
	s.mu.Lock()
	_, known := s.handlers[taskType]
	s.mu.Unlock()
	if !known {
		return "", fmt.Errorf("no handler registered for task type %q", taskType)
	}

	task := Task{
		ID:              uuid.New().String(),
		Name:            name,
		Type:            taskType,
		CronSpec:        spec,
		IntervalMinutes: intervalMinutes,
		IsEnabled:       true,
		MaxRetries:      s.maxRetries,
		Parameters:      params,
	}

	entryID, err := s.cron.AddFunc(spec, func() { s.fire(task.ID) })
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	s.tasks[task.ID] = &taskEntry{task: task, entryID: entryID}
	s.mu.Unlock()

	if s.taskStore != nil {
		task.NextRun = s.cron.Entry(entryID).Next
		if err := s.taskStore.SaveTask(context.Background(), &task); err != nil {
			s.log.Warn().Err(err).Str("task", name).Msg("Task persistence failed")
		}
	}

	s.log.Info().Str("task", name).Str("schedule", spec).Msg("Task scheduled")
	return task.ID, nil
}

// RemoveTask unschedules and deletes a task
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	entry, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}

	s.cron.Remove(entry.entryID)
	if s.taskStore != nil {
		if err := s.taskStore.DeleteTask(context.Background(), id); err != nil {
			s.log.Warn().Err(err).Str("task_id", id).Msg("Task delete persistence failed")
		}
	}
	return nil
}

// GetScheduledTasks returns a snapshot of the registry with live next-run
// times, sorted by name
func (s *Scheduler) GetScheduledTasks() []Task {
	s.mu.Lock()
	entries := make([]*taskEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Task, 0, len(entries))
	for _, e := range entries {
		t := e.task
		t.NextRun = s.cron.Entry(e.entryID).Next
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetTaskHistory returns recent run records, newest first
func (s *Scheduler) GetTaskHistory(ctx context.Context, limit int) ([]TaskRun, error) {
	if s.taskStore == nil {
		return nil, nil
	}
	return s.taskStore.ListRuns(ctx, limit)
}

// AddDefaultSchedule installs the standard trading-day schedule
// (exchange time): pre-market and afternoon health checks, the open
// momentum scan, the mid-morning diversification scan, the midday stop
// review, the pre-close watchlist sweep, the post-close daily snapshot,
// plus the recurring position monitor and trading cycle.
func (s *Scheduler) AddDefaultSchedule(positionMonitorMinutes, cycleIntervalMinutes int) error {
	if positionMonitorMinutes < 1 {
		positionMonitorMinutes = 5
	}
	if cycleIntervalMinutes < 1 {
		cycleIntervalMinutes = 30
	}

	daily := []struct {
		taskType TaskType
		name     string
		hour     int
		minute   int
	}{
		{TaskHealthCheck, "pre-market health check", 6, 30},
		{TaskMomentumScan, "market-open momentum scan", 9, 35},
		{TaskDiversificationScan, "diversification scan", 10, 0},
		{TaskStopLossReview, "midday stop-loss review", 12, 0},
		{TaskHealthCheck, "afternoon health check", 14, 0},
		{TaskWatchlistMonitor, "pre-close watchlist monitor", 15, 30},
		{TaskDailySnapshot, "daily performance snapshot", 16, 5},
	}
	for _, d := range daily {
		if _, err := s.AddCronTask(d.taskType, d.name, d.hour, d.minute, nil); err != nil {
			return err
		}
	}

	if _, err := s.AddIntervalTask(TaskPositionMonitor, "position monitor", positionMonitorMinutes, nil); err != nil {
		return err
	}
	if _, err := s.AddIntervalTask(TaskTradingCycle, "scheduled trading cycle", cycleIntervalMinutes, nil); err != nil {
		return err
	}
	return nil
}

// fire runs one job occurrence: heartbeat, retries with backoff, run
// bookkeeping. Panics are contained at the job boundary.
func (s *Scheduler) fire(taskID string) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	var task Task
	var handler Handler
	if ok {
		task = entry.task
		handler = s.handlers[task.Type]
	}
	pending := len(s.tasks)
	s.mu.Unlock()
	if !ok || handler == nil {
		return
	}

	atomic.AddInt64(&s.running, 1)
	defer atomic.AddInt64(&s.running, -1)

	s.emitHeartbeat(ctx, pending)

	wf := startWorkflow(s.events, ctx, task.Name)
	started := time.Now().UTC()
	attempts := 0
	var err error
	for {
		attempts++
		err = s.runAttempt(ctx, handler, task)
		if err == nil || attempts > task.MaxRetries {
			break
		}
		backoff := s.retryBase << (attempts - 1) // 1m, 2m, 4m
		s.log.Warn().Err(err).Str("task", task.Name).Int("attempt", attempts).Dur("backoff", backoff).Msg("Job failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			err = ctx.Err()
			goto done
		}
	}
done:
	finished := time.Now().UTC()
	finishWorkflow(wf, ctx, err)

	if err != nil {
		s.log.Error().Err(err).Str("task", task.Name).Int("attempts", attempts).Msg("Job failed permanently")
	} else {
		s.log.Info().Str("task", task.Name).Dur("duration", finished.Sub(started)).Msg("Job completed")
	}

	if s.taskStore != nil {
		run := &TaskRun{
			TaskID:     task.ID,
			Name:       task.Name,
			StartedAt:  started,
			FinishedAt: finished,
			Success:    err == nil,
			Attempts:   attempts,
		}
		if err != nil {
			run.Error = err.Error()
		}
		if serr := s.taskStore.RecordRun(ctx, run); serr != nil {
			s.log.Warn().Err(serr).Str("task", task.Name).Msg("Run history persistence failed")
		}
		if serr := s.taskStore.UpdateRunStats(ctx, task.ID, started, err == nil); serr != nil {
			s.log.Warn().Err(serr).Str("task", task.Name).Msg("Run stats persistence failed")
		}
	}
}

// runAttempt executes the handler once with panic containment
func (s *Scheduler) runAttempt(ctx context.Context, handler Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", task.Name, r)
		}
	}()
	return handler(ctx, task.Parameters)
}

// emitHeartbeat records liveness regardless of job outcome
func (s *Scheduler) emitHeartbeat(ctx context.Context, pending int) {
	hb := &Heartbeat{
		SchedulerID: s.id,
		Hostname:    s.hostname,
		Timestamp:   time.Now().UTC(),
		JobsPending: pending,
		JobsRunning: int(atomic.LoadInt64(&s.running)),
	}
	if s.hbStore != nil {
		if err := s.hbStore.RecordHeartbeat(ctx, hb); err != nil {
			s.log.Warn().Err(err).Msg("Heartbeat persistence failed")
		}
	}
	if s.events != nil {
		s.events.Write(ctx, telemetry.Event{
			Type: telemetry.EventHeartbeat,
			Name: "scheduler",
			Fields: map[string]interface{}{
				"scheduler_id": hb.SchedulerID,
				"hostname":     hb.Hostname,
				"jobs_pending": hb.JobsPending,
				"jobs_running": hb.JobsRunning,
			},
		})
	}
}

func startWorkflow(events *telemetry.EventLogger, ctx context.Context, name string) *telemetry.Workflow {
	if events == nil {
		return nil
	}
	return events.StartWorkflow(ctx, name)
}

func finishWorkflow(wf *telemetry.Workflow, ctx context.Context, err error) {
	if wf != nil {
		wf.Finish(ctx, err)
	}
}
