package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType classifies telemetry records
type EventType string

const (
	EventWorkflow       EventType = "workflow"
	EventStep           EventType = "step"
	EventAgentSignal    EventType = "agent_signal"
	EventPMDecision     EventType = "pm_decision"
	EventTradeExecution EventType = "trade_execution"
	EventHeartbeat      EventType = "heartbeat"
)

// Event statuses used for workflow and step records
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is an append-only time-series record keyed by (timestamp, workflow_id)
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	WorkflowID uuid.UUID              `json:"workflow_id"`
	Type       EventType              `json:"type"`
	Name       string                 `json:"name"`
	Status     string                 `json:"status,omitempty"`
	StepIndex  int                    `json:"step_index"`
	DurationMS int64                  `json:"duration_ms,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// EventStore persists telemetry events
type EventStore interface {
	WriteEvent(ctx context.Context, ev Event) error
}

// memoryFallbackCap bounds the in-memory fallback list. Oldest entries are
// dropped when the store is unavailable for long stretches.
const memoryFallbackCap = 10000

// EventLogger writes events to the store, falling back to a bounded
// in-memory list when the store fails
type EventLogger struct {
	store EventStore
	log   zerolog.Logger

	mu       sync.Mutex
	fallback []Event
}

// NewEventLogger creates an event logger. A nil store sends everything to
// the in-memory fallback.
func NewEventLogger(store EventStore, log zerolog.Logger) *EventLogger {
	return &EventLogger{
		store: store,
		log:   log.With().Str("component", "telemetry").Logger(),
	}
}

// Write persists a single event
func (l *EventLogger) Write(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if l.store != nil {
		if err := l.store.WriteEvent(ctx, ev); err == nil {
			return
		} else {
			l.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Event store write failed, buffering in memory")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fallback) >= memoryFallbackCap {
		l.fallback = l.fallback[1:]
	}
	l.fallback = append(l.fallback, ev)
}

// FallbackLen returns the number of events held in the in-memory fallback
func (l *EventLogger) FallbackLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fallback)
}

// FallbackEvents returns a copy of the buffered events, oldest first
func (l *EventLogger) FallbackEvents() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.fallback))
	copy(out, l.fallback)
	return out
}

// Workflow groups a sequence of step events under one generated UUID.
// Step write order is preserved via step_index.
type Workflow struct {
	ID     uuid.UUID
	Name   string
	logger *EventLogger

	mu        sync.Mutex
	stepIndex int
	started   time.Time
}

// StartWorkflow emits a started workflow event and returns the context for
// subsequent steps
func (l *EventLogger) StartWorkflow(ctx context.Context, name string) *Workflow {
	wf := &Workflow{
		ID:      uuid.New(),
		Name:    name,
		logger:  l,
		started: time.Now().UTC(),
	}
	l.Write(ctx, Event{
		WorkflowID: wf.ID,
		Type:       EventWorkflow,
		Name:       name,
		Status:     StatusStarted,
	})
	return wf
}

// nextIndex allocates the next step index
func (w *Workflow) nextIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stepIndex++
	return w.stepIndex
}

// Step runs fn and auto-emits started/completed/failed with duration_ms
func (w *Workflow) Step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	idx := w.nextIndex()
	w.logger.Write(ctx, Event{
		WorkflowID: w.ID,
		Type:       EventStep,
		Name:       name,
		Status:     StatusStarted,
		StepIndex:  idx,
	})

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	status := StatusCompleted
	fields := map[string]interface{}(nil)
	if err != nil {
		status = StatusFailed
		fields = map[string]interface{}{"error": err.Error()}
	}

	w.logger.Write(ctx, Event{
		WorkflowID: w.ID,
		Type:       EventStep,
		Name:       name,
		Status:     status,
		StepIndex:  idx,
		DurationMS: duration.Milliseconds(),
		Fields:     fields,
	})
	return err
}

// Emit writes an arbitrary event inside the workflow
func (w *Workflow) Emit(ctx context.Context, eventType EventType, name string, fields map[string]interface{}) {
	w.logger.Write(ctx, Event{
		WorkflowID: w.ID,
		Type:       eventType,
		Name:       name,
		StepIndex:  w.nextIndex(),
		Fields:     fields,
	})
}

// Finish emits the terminal workflow event with total duration
func (w *Workflow) Finish(ctx context.Context, err error) {
	status := StatusCompleted
	fields := map[string]interface{}(nil)
	if err != nil {
		status = StatusFailed
		fields = map[string]interface{}{"error": err.Error()}
	}
	w.logger.Write(ctx, Event{
		WorkflowID: w.ID,
		Type:       EventWorkflow,
		Name:       w.Name,
		Status:     status,
		DurationMS: time.Since(w.started).Milliseconds(),
		Fields:     fields,
	})
}
