package telemetry

import (
	"strings"
	"sync"
	"time"
)

// MaxCallHistory bounds the rate-limit ring buffer. Oldest entries are
// evicted on overflow.
const MaxCallHistory = 5000

// StaleCallThreshold marks a provider stale when its last call is older.
const StaleCallThreshold = 60 * time.Minute

// CallEvent records one outbound API call
type CallEvent struct {
	APIName            string    `json:"api_name"`
	CallType           string    `json:"call_type"`
	Timestamp          time.Time `json:"timestamp"`
	Success            bool      `json:"success"`
	LatencyMS          int64     `json:"latency_ms"`
	RateLimitRemaining *int      `json:"rate_limit_remaining,omitempty"`
}

// ProviderActivity aggregates call events for one API provider
type ProviderActivity struct {
	APIName     string         `json:"api_name"`
	DisplayName string         `json:"display_name"`
	Total       int            `json:"total"`
	Success     int            `json:"success"`
	Failure     int            `json:"failure"`
	ByCallType  map[string]int `json:"by_call_type"`
	AvgLatency  float64        `json:"avg_latency_ms"`
	LastCall    time.Time      `json:"last_call"`
	Stale       bool           `json:"stale"`
}

// RateLimitMonitor keeps a bounded ring buffer of outbound call events.
// Append holds the write lock; aggregation takes the read lock.
type RateLimitMonitor struct {
	mu      sync.RWMutex
	history []CallEvent
	start   int // ring start index once full
	full    bool
}

// NewRateLimitMonitor creates a monitor with the default capacity
func NewRateLimitMonitor() *RateLimitMonitor {
	return &RateLimitMonitor{
		history: make([]CallEvent, 0, MaxCallHistory),
	}
}

// RecordCall appends a call event, evicting the oldest on overflow. Each
// call also feeds the Prometheus call counter and latency histogram.
func (m *RateLimitMonitor) RecordCall(apiName, callType string, success bool, latency time.Duration, rateLimitRemaining *int) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	mx := GetMetrics()
	mx.BrokerCalls.WithLabelValues(apiName, callType, outcome).Inc()
	mx.BrokerLatency.WithLabelValues(apiName, callType).Observe(latency.Seconds())

	ev := CallEvent{
		APIName:            apiName,
		CallType:           callType,
		Timestamp:          time.Now().UTC(),
		Success:            success,
		LatencyMS:          latency.Milliseconds(),
		RateLimitRemaining: rateLimitRemaining,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		m.history = append(m.history, ev)
		if len(m.history) == MaxCallHistory {
			m.full = true
		}
		return
	}

	m.history[m.start] = ev
	m.start = (m.start + 1) % MaxCallHistory
}

// Len returns the number of buffered events
func (m *RateLimitMonitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// snapshot returns events in chronological order
func (m *RateLimitMonitor) snapshot() []CallEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CallEvent, 0, len(m.history))
	if !m.full {
		out = append(out, m.history...)
		return out
	}
	out = append(out, m.history[m.start:]...)
	out = append(out, m.history[:m.start]...)
	return out
}

// GetCallActivity aggregates events within the window into per-provider
// counts and per-call-type breakdowns
func (m *RateLimitMonitor) GetCallActivity(window time.Duration) map[string]*ProviderActivity {
	cutoff := time.Now().UTC().Add(-window)
	now := time.Now().UTC()

	activity := make(map[string]*ProviderActivity)
	var latencySums = make(map[string]int64)

	for _, ev := range m.snapshot() {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		prov, ok := activity[ev.APIName]
		if !ok {
			prov = &ProviderActivity{
				APIName:     ev.APIName,
				DisplayName: displayName(ev.APIName),
				ByCallType:  make(map[string]int),
			}
			activity[ev.APIName] = prov
		}
		prov.Total++
		if ev.Success {
			prov.Success++
		} else {
			prov.Failure++
		}
		prov.ByCallType[ev.CallType]++
		latencySums[ev.APIName] += ev.LatencyMS
		if ev.Timestamp.After(prov.LastCall) {
			prov.LastCall = ev.Timestamp
		}
	}

	for name, prov := range activity {
		if prov.Total > 0 {
			prov.AvgLatency = float64(latencySums[name]) / float64(prov.Total)
		}
		prov.Stale = now.Sub(prov.LastCall) > StaleCallThreshold
	}

	return activity
}

// LastCall returns the most recent call timestamp for a provider, if any
func (m *RateLimitMonitor) LastCall(apiName string) (time.Time, bool) {
	var last time.Time
	found := false
	for _, ev := range m.snapshot() {
		if ev.APIName == apiName && ev.Timestamp.After(last) {
			last = ev.Timestamp
			found = true
		}
	}
	return last, found
}

// displayName derives a friendly provider name from the api key
func displayName(apiName string) string {
	known := map[string]string{
		"alpaca":      "Alpaca",
		"alpaca_data": "Alpaca Market Data",
		"research":    "Research Agent",
		"decision":    "Portfolio Manager",
		"prices":      "Price Provider",
	}
	if name, ok := known[apiName]; ok {
		return name
	}
	parts := strings.Split(apiName, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
