package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CheckStatus is the outcome of a single health check
type CheckStatus string

const (
	CheckOK   CheckStatus = "OK"
	CheckWarn CheckStatus = "WARN"
	CheckFail CheckStatus = "FAIL"
)

// AggregateStatus summarizes all checks
type AggregateStatus string

const (
	StatusReady    AggregateStatus = "READY"
	StatusDegraded AggregateStatus = "DEGRADED"
	StatusBlocked  AggregateStatus = "BLOCKED"
)

// CheckResult is the outcome of one named check
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// CheckFunc runs one health check
type CheckFunc func(ctx context.Context) CheckResult

// HealthReport aggregates individual check results
type HealthReport struct {
	Status    AggregateStatus `json:"status"`
	Checks    []CheckResult   `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}

// HealthChecker runs bounded concurrent health checks
type HealthChecker struct {
	checks  map[string]CheckFunc
	timeout time.Duration
	log     zerolog.Logger
}

// NewHealthChecker creates an empty health checker. Per-check timeout
// defaults to 10 seconds.
func NewHealthChecker(log zerolog.Logger) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		timeout: 10 * time.Second,
		log:     log.With().Str("component", "health").Logger(),
	}
}

// Register adds a named check
func (h *HealthChecker) Register(name string, fn CheckFunc) {
	h.checks[name] = fn
}

// Run executes all checks concurrently, each bounded by the per-check
// timeout, and aggregates READY/DEGRADED/BLOCKED
func (h *HealthChecker) Run(ctx context.Context) HealthReport {
	results := make([]CheckResult, 0, len(h.checks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, fn := range h.checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			done := make(chan CheckResult, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- CheckResult{Name: name, Status: CheckFail, Message: fmt.Sprintf("check panicked: %v", r)}
					}
				}()
				done <- fn(checkCtx)
			}()

			var res CheckResult
			select {
			case res = <-done:
			case <-checkCtx.Done():
				res = CheckResult{Name: name, Status: CheckFail, Message: "check timed out"}
			}
			res.Name = name

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := StatusReady
	for _, res := range results {
		switch res.Status {
		case CheckFail:
			status = StatusBlocked
		case CheckWarn:
			if status == StatusReady {
				status = StatusDegraded
			}
		}
	}

	report := HealthReport{Status: status, Checks: results, Timestamp: time.Now().UTC()}
	h.log.Info().Str("status", string(status)).Int("checks", len(results)).Msg("Health check complete")
	return report
}

// NewBuyingPowerCheck warns below $1,000 and fails below $100
func NewBuyingPowerCheck(buyingPower func(ctx context.Context) (float64, error)) CheckFunc {
	return func(ctx context.Context) CheckResult {
		bp, err := buyingPower(ctx)
		if err != nil {
			return CheckResult{Status: CheckFail, Message: fmt.Sprintf("broker account unavailable: %v", err)}
		}
		switch {
		case bp < 100:
			return CheckResult{Status: CheckFail, Message: fmt.Sprintf("buying power $%.2f below $100", bp)}
		case bp < 1000:
			return CheckResult{Status: CheckWarn, Message: fmt.Sprintf("buying power $%.2f below $1000", bp)}
		default:
			return CheckResult{Status: CheckOK, Message: fmt.Sprintf("buying power $%.2f", bp)}
		}
	}
}

// NewPingCheck fails when ping returns an error
func NewPingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: CheckFail, Message: err.Error()}
		}
		return CheckResult{Status: CheckOK}
	}
}

// NewKeyPresenceCheck fails when a required credential is empty
func NewKeyPresenceCheck(keyName string, value func() string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if value() == "" {
			return CheckResult{Status: CheckFail, Message: fmt.Sprintf("%s is not configured", keyName)}
		}
		return CheckResult{Status: CheckOK}
	}
}

// NewHeartbeatCheck evaluates scheduler heartbeat freshness. A gap beyond
// the threshold is a WARN (DEGRADED overall); no heartbeat at all is also a
// WARN with a distinguished message.
func NewHeartbeatCheck(latest func(ctx context.Context) (time.Time, error), threshold time.Duration) CheckFunc {
	return func(ctx context.Context) CheckResult {
		ts, err := latest(ctx)
		if err != nil {
			return CheckResult{Status: CheckFail, Message: fmt.Sprintf("heartbeat lookup failed: %v", err)}
		}
		if ts.IsZero() {
			return CheckResult{Status: CheckWarn, Message: "no_heartbeats"}
		}
		age := time.Since(ts)
		if age > threshold {
			return CheckResult{
				Status:  CheckWarn,
				Message: fmt.Sprintf("scheduler heartbeat stale: last seen %s ago (threshold %s)", age.Round(time.Second), threshold),
			}
		}
		return CheckResult{Status: CheckOK, Message: fmt.Sprintf("last heartbeat %s ago", age.Round(time.Second))}
	}
}

// NewMarketClockCheck reports whether the market calendar is reachable
func NewMarketClockCheck(clock func(ctx context.Context) (open bool, err error)) CheckFunc {
	return func(ctx context.Context) CheckResult {
		open, err := clock(ctx)
		if err != nil {
			return CheckResult{Status: CheckWarn, Message: fmt.Sprintf("market clock unavailable: %v", err)}
		}
		if open {
			return CheckResult{Status: CheckOK, Message: "market open"}
		}
		return CheckResult{Status: CheckOK, Message: "market closed"}
	}
}
