package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "key-id")
	t.Setenv("ALPACA_SECRET_KEY", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/quantpilot")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "QuantPilot", cfg.App.Name)
	assert.Equal(t, "json", cfg.App.LogFormat)
	assert.Equal(t, "https://paper-api.alpaca.markets/v2", cfg.Broker.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Broker.BrokerTimeout())
	assert.Equal(t, "America/New_York", cfg.Trading.Timezone)
	assert.Equal(t, 65.0, cfg.Trading.MinConfidence)
	assert.Equal(t, 3, cfg.Trading.MaxSignals)
	assert.True(t, cfg.Trading.AllowFractional)
	assert.Equal(t, 2000.0, cfg.Risk.SmallAccountThreshold)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.StaleThreshold())
	assert.Equal(t, 120*time.Second, cfg.Research.ResearchTimeout())
	assert.Equal(t, 9100, cfg.Metrics.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRADING_TIMEZONE", "UTC")
	t.Setenv("ALLOW_FRACTIONAL", "false")
	t.Setenv("SMALL_ACCOUNT_THRESHOLD", "5000")
	t.Setenv("SCHEDULER_STALE_THRESHOLD_MINUTES", "20")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Trading.Timezone)
	assert.Equal(t, time.UTC, cfg.Trading.Location())
	assert.False(t, cfg.Trading.AllowFractional)
	assert.Equal(t, 5000.0, cfg.Risk.SmallAccountThreshold)
	assert.Equal(t, 20*time.Minute, cfg.Scheduler.StaleThreshold())
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_SECRET_KEY", "")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/quantpilot")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker credentials")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Broker:   BrokerConfig{APIKey: "k", SecretKey: "s"},
			Database: DatabaseConfig{URL: "postgres://localhost/db"},
			Trading:  TradingConfig{Timezone: "America/New_York", ScreenWorkers: 8},
			Risk:     RiskConfig{MinBuyingPowerPct: 0.1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Trading.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
		{
			name:    "zero screen workers",
			mutate:  func(c *Config) { c.Trading.ScreenWorkers = 0 },
			wantErr: "screen_workers",
		},
		{
			name:    "buying power reserve out of range",
			mutate:  func(c *Config) { c.Risk.MinBuyingPowerPct = 1.5 },
			wantErr: "min_buying_power_pct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
