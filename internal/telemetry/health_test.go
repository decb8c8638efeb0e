package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okCheck(ctx context.Context) CheckResult   { return CheckResult{Status: CheckOK} }
func warnCheck(ctx context.Context) CheckResult { return CheckResult{Status: CheckWarn} }
func failCheck(ctx context.Context) CheckResult { return CheckResult{Status: CheckFail} }

func TestRunAggregatesStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   AggregateStatus
	}{
		{"all ok", map[string]CheckFunc{"a": okCheck, "b": okCheck}, StatusReady},
		{"warn degrades", map[string]CheckFunc{"a": okCheck, "b": warnCheck}, StatusDegraded},
		{"fail blocks", map[string]CheckFunc{"a": okCheck, "b": warnCheck, "c": failCheck}, StatusBlocked},
		{"no checks", map[string]CheckFunc{}, StatusReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(zerolog.Nop())
			for name, fn := range tt.checks {
				hc.Register(name, fn)
			}
			report := hc.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
		})
	}
}

func TestRunContainsCheckPanic(t *testing.T) {
	hc := NewHealthChecker(zerolog.Nop())
	hc.Register("explodes", func(ctx context.Context) CheckResult {
		panic("boom")
	})
	report := hc.Run(context.Background())
	assert.Equal(t, StatusBlocked, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Contains(t, report.Checks[0].Message, "panicked")
}

func TestRunSortsResultsByName(t *testing.T) {
	hc := NewHealthChecker(zerolog.Nop())
	hc.Register("zeta", okCheck)
	hc.Register("alpha", okCheck)
	hc.Register("mid", okCheck)

	report := hc.Run(context.Background())
	require.Len(t, report.Checks, 3)
	assert.Equal(t, "alpha", report.Checks[0].Name)
	assert.Equal(t, "zeta", report.Checks[2].Name)
}

func TestBuyingPowerCheckThresholds(t *testing.T) {
	tests := []struct {
		name string
		bp   float64
		err  error
		want CheckStatus
	}{
		{"healthy", 5000, nil, CheckOK},
		{"low warns", 500, nil, CheckWarn},
		{"critical fails", 50, nil, CheckFail},
		{"lookup error fails", 0, errors.New("connection refused"), CheckFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewBuyingPowerCheck(func(ctx context.Context) (float64, error) {
				return tt.bp, tt.err
			})
			assert.Equal(t, tt.want, check(context.Background()).Status)
		})
	}
}

func TestHeartbeatCheckStaleWarnsNotFails(t *testing.T) {
	threshold := 10 * time.Minute
	check := NewHeartbeatCheck(func(ctx context.Context) (time.Time, error) {
		return time.Now().Add(-15 * time.Minute), nil
	}, threshold)

	res := check(context.Background())
	assert.Equal(t, CheckWarn, res.Status)
	assert.Contains(t, res.Message, "stale")

	hc := NewHealthChecker(zerolog.Nop())
	hc.Register("scheduler_heartbeat", check)
	hc.Register("database", okCheck)
	report := hc.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestHeartbeatCheckFresh(t *testing.T) {
	check := NewHeartbeatCheck(func(ctx context.Context) (time.Time, error) {
		return time.Now().Add(-2 * time.Minute), nil
	}, 10*time.Minute)
	assert.Equal(t, CheckOK, check(context.Background()).Status)
}

func TestHeartbeatCheckMissing(t *testing.T) {
	check := NewHeartbeatCheck(func(ctx context.Context) (time.Time, error) {
		return time.Time{}, nil
	}, 10*time.Minute)

	res := check(context.Background())
	assert.Equal(t, CheckWarn, res.Status)
	assert.True(t, strings.Contains(res.Message, "no_heartbeats"))
}

func TestKeyPresenceCheck(t *testing.T) {
	present := NewKeyPresenceCheck("ALPACA_API_KEY", func() string { return "pk_test" })
	assert.Equal(t, CheckOK, present(context.Background()).Status)

	missing := NewKeyPresenceCheck("ALPACA_API_KEY", func() string { return "" })
	res := missing(context.Background())
	assert.Equal(t, CheckFail, res.Status)
	assert.Contains(t, res.Message, "ALPACA_API_KEY")
}

func TestMarketClockCheckUnavailableWarns(t *testing.T) {
	check := NewMarketClockCheck(func(ctx context.Context) (bool, error) {
		return false, errors.New("timeout")
	})
	assert.Equal(t, CheckWarn, check(context.Background()).Status)

	open := NewMarketClockCheck(func(ctx context.Context) (bool, error) {
		return true, nil
	})
	assert.Equal(t, CheckOK, open(context.Background()).Status)
}
