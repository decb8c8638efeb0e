package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Research  ResearchConfig  `mapstructure:"research"`
	Decision  DecisionConfig  `mapstructure:"decision"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// BrokerConfig contains Alpaca connection settings
type BrokerConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"` // trading API, ends in /v2
	DataURL   string `mapstructure:"data_url"` // market data API
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// TradingConfig contains trading cycle settings
type TradingConfig struct {
	Timezone         string   `mapstructure:"timezone"` // exchange timezone
	DefaultTickers   []string `mapstructure:"default_tickers"`
	MaxUniverseSize  int      `mapstructure:"max_universe_size"`
	MinConfidence    float64  `mapstructure:"min_confidence"`
	MaxSignals       int      `mapstructure:"max_signals"`
	ScreenWorkers    int      `mapstructure:"screen_workers"`
	AllowFractional  bool     `mapstructure:"allow_fractional"`
	UseIntradayData  bool     `mapstructure:"use_intraday_data"`
	CycleIntervalMin int      `mapstructure:"cycle_interval_min"`
}

// RiskConfig contains sizing and small-account settings
type RiskConfig struct {
	SmallAccountThreshold  float64 `mapstructure:"small_account_threshold"`   // equity at or below => small-account mode
	TargetNotionalPerTrade float64 `mapstructure:"target_notional_per_trade"` // dollars
	MaxPositionSizePct     float64 `mapstructure:"max_position_size_pct"`     // fraction of equity
	MinBuyingPowerPct      float64 `mapstructure:"min_buying_power_pct"`      // reserve fraction
	MaxTickerPrice         float64 `mapstructure:"max_ticker_price"`          // small-account price cap
	MaxPositions           int     `mapstructure:"max_positions"`
	TradeCooldownMinutes   int     `mapstructure:"trade_cooldown_minutes"`
	ATRStopMultiplier      float64 `mapstructure:"atr_stop_multiplier"`
	ATRTakeProfitMult      float64 `mapstructure:"atr_take_profit_multiplier"`
}

// SchedulerConfig contains scheduler settings
type SchedulerConfig struct {
	StaleThresholdMinutes int `mapstructure:"stale_threshold_minutes"`
	MaxRetries            int `mapstructure:"max_retries"`
	PositionMonitorMin    int `mapstructure:"position_monitor_min"`
}

// ResearchConfig contains research collaborator settings
type ResearchConfig struct {
	TimeoutSec int    `mapstructure:"timeout_sec"`
	Depth      string `mapstructure:"depth"` // quick, standard, deep
}

// DecisionConfig contains portfolio-manager collaborator settings
type DecisionConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("QUANTPILOT")

	setDefaults(v)
	bindWellKnownEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindWellKnownEnv maps the fixed environment variable names onto config keys.
// These names are part of the operational contract and keep their unprefixed
// spelling regardless of the QUANTPILOT viper prefix.
func bindWellKnownEnv(v *viper.Viper) {
	bindings := map[string]string{
		"broker.api_key":                    "ALPACA_API_KEY",
		"broker.secret_key":                 "ALPACA_SECRET_KEY",
		"broker.base_url":                   "ALPACA_BASE_URL",
		"broker.data_url":                   "ALPACA_DATA_URL",
		"database.url":                      "DATABASE_URL",
		"redis.url":                         "REDIS_URL",
		"trading.timezone":                  "TRADING_TIMEZONE",
		"trading.use_intraday_data":         "USE_INTRADAY_DATA",
		"trading.allow_fractional":          "ALLOW_FRACTIONAL",
		"scheduler.stale_threshold_minutes": "SCHEDULER_STALE_THRESHOLD_MINUTES",
		"risk.small_account_threshold":      "SMALL_ACCOUNT_THRESHOLD",
		"risk.target_notional_per_trade":    "TARGET_NOTIONAL_PER_TRADE",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "QuantPilot")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.cache_ttl", 60)

	// Broker defaults (paper trading endpoint)
	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets/v2")
	v.SetDefault("broker.data_url", "https://data.alpaca.markets/v2")
	v.SetDefault("broker.timeout_ms", 15000)

	// Trading defaults
	v.SetDefault("trading.timezone", "America/New_York")
	v.SetDefault("trading.default_tickers", []string{"AAPL", "MSFT", "AMD", "F", "SOFI", "PLTR", "NIO", "T"})
	v.SetDefault("trading.max_universe_size", 30)
	v.SetDefault("trading.min_confidence", 65.0)
	v.SetDefault("trading.max_signals", 3)
	v.SetDefault("trading.screen_workers", 8)
	v.SetDefault("trading.allow_fractional", true)
	v.SetDefault("trading.use_intraday_data", false)
	v.SetDefault("trading.cycle_interval_min", 30)

	// Risk defaults
	v.SetDefault("risk.small_account_threshold", 2000.0)
	v.SetDefault("risk.target_notional_per_trade", 200.0)
	v.SetDefault("risk.max_position_size_pct", 0.1)
	v.SetDefault("risk.min_buying_power_pct", 0.1)
	v.SetDefault("risk.max_ticker_price", 500.0)
	v.SetDefault("risk.max_positions", 5)
	v.SetDefault("risk.trade_cooldown_minutes", 15)
	v.SetDefault("risk.atr_stop_multiplier", 1.5)
	v.SetDefault("risk.atr_take_profit_multiplier", 3.0)

	// Scheduler defaults
	v.SetDefault("scheduler.stale_threshold_minutes", 10)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.position_monitor_min", 5)

	// Collaborator timeouts
	v.SetDefault("research.timeout_sec", 120)
	v.SetDefault("research.depth", "standard")
	v.SetDefault("decision.timeout_sec", 45)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)
}

// Validate checks that required settings are present and sane
func (c *Config) Validate() error {
	if c.Broker.APIKey == "" || c.Broker.SecretKey == "" {
		return fmt.Errorf("broker credentials missing: set ALPACA_API_KEY and ALPACA_SECRET_KEY")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("invalid trading timezone %q: %w", c.Trading.Timezone, err)
	}
	if c.Trading.ScreenWorkers < 1 {
		return fmt.Errorf("trading.screen_workers must be at least 1")
	}
	if c.Risk.MinBuyingPowerPct < 0 || c.Risk.MinBuyingPowerPct >= 1 {
		return fmt.Errorf("risk.min_buying_power_pct must be in [0, 1)")
	}
	return nil
}

// Location returns the exchange timezone. Validate guarantees it parses.
func (c *TradingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BrokerTimeout returns the broker request timeout as a duration
func (c *BrokerConfig) BrokerTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ResearchTimeout returns the research deadline as a duration
func (c *ResearchConfig) ResearchTimeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// DecisionTimeout returns the PM decision deadline as a duration
func (c *DecisionConfig) DecisionTimeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// StaleThreshold returns the heartbeat staleness threshold as a duration
func (c *SchedulerConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdMinutes) * time.Minute
}
