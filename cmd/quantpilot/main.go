package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quantpilot/quantpilot/internal/alerts"
	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/config"
	"github.com/quantpilot/quantpilot/internal/cycle"
	"github.com/quantpilot/quantpilot/internal/db"
	"github.com/quantpilot/quantpilot/internal/history"
	"github.com/quantpilot/quantpilot/internal/market"
	"github.com/quantpilot/quantpilot/internal/monitor"
	"github.com/quantpilot/quantpilot/internal/risk"
	"github.com/quantpilot/quantpilot/internal/scheduler"
	"github.com/quantpilot/quantpilot/internal/strategy"
	"github.com/quantpilot/quantpilot/internal/telemetry"
	"github.com/quantpilot/quantpilot/internal/watchlist"
)

// Exit codes form the CLI's contract with operators and wrappers.
const (
	exitOK        = 0
	exitFailure   = 1
	exitMisconfig = 2
	exitConflict  = 3
	exitBroker    = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	if len(args) == 0 {
		usage()
		return exitFailure
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "start":
		return cmdStart(rest)
	case "stop":
		return cmdStop(rest)
	case "run-cycle":
		return cmdRunCycle(rest)
	case "status":
		return cmdStatus(rest)
	case "sync-orders":
		return cmdSyncOrders(rest)
	case "health":
		return cmdHealth(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		return exitFailure
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: quantpilot <command> [flags]

Commands:
  start        Run the scheduler daemon with the default trading-day schedule
  stop         Signal a running daemon to shut down
  run-cycle    Execute one trading cycle now
  status       Print scheduler liveness and recent performance
  sync-orders  Reconcile pending trades against broker order state
  health       Run readiness checks and print the report
`)
}

func loadConfig(path string) (*config.Config, int) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, exitMisconfig
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	return cfg, exitOK
}

// errorExitCode maps an error onto the CLI exit code contract
func errorExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var be *broker.BrokerError
	switch {
	case errors.Is(err, cycle.ErrCycleRunning):
		return exitConflict
	case broker.IsTransport(err), broker.IsRateLimited(err), errors.As(err, &be):
		return exitBroker
	default:
		return exitFailure
	}
}

// app is the wired dependency graph shared by the subcommands
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	db        *db.DB
	redis     *redis.Client
	broker    *broker.Client
	provider  market.PriceProvider
	engine    *strategy.Engine
	risk      *risk.Manager
	history   *history.Service
	watchlist *watchlist.Service
	monitor   *monitor.Monitor
	alerts    *alerts.Manager
	events    *telemetry.EventLogger
	hbStore   *scheduler.PGHeartbeatStore
	taskStore *scheduler.PGTaskStore
	runner    *cycle.Runner
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := config.NewLogger("quantpilot")

	database, err := db.New(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	pool := database.Pool()

	client, err := broker.NewClient(broker.ClientConfig{
		APIKey:          cfg.Broker.APIKey,
		SecretKey:       cfg.Broker.SecretKey,
		BaseURL:         cfg.Broker.BaseURL,
		DataURL:         cfg.Broker.DataURL,
		Timeout:         cfg.Broker.BrokerTimeout(),
		AllowFractional: cfg.Trading.AllowFractional,
	}, telemetry.NewRateLimitMonitor(), log)
	if err != nil {
		database.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		db:        database,
		broker:    client,
		alerts:    alerts.NewManager(alerts.NewLogAlerter()),
		events:    telemetry.NewEventLogger(telemetry.NewPGEventStore(pool), log),
		hbStore:   scheduler.NewPGHeartbeatStore(pool),
		taskStore: scheduler.NewPGTaskStore(pool),
	}

	// Price lookups go through the redis cache when one is reachable;
	// otherwise the engine hits the data API directly.
	a.provider = market.PriceProvider(client)
	if opts, err := redis.ParseURL(cfg.Redis.URL); err != nil {
		log.Warn().Err(err).Msg("Invalid redis URL, price cache disabled")
	} else {
		a.redis = redis.NewClient(opts)
		a.provider = market.NewCachedPriceProvider(client, a.redis, time.Duration(cfg.Redis.CacheTTL)*time.Second)
	}

	a.engine = strategy.NewEngine(a.provider, cfg.Trading.ScreenWorkers, log)
	a.risk = risk.NewManager(cfg.Risk, log)
	a.history = history.NewService(pool, log)
	a.watchlist = watchlist.NewService(pool, a.provider, log)
	a.monitor = monitor.New(client, a.history, a.alerts, log)
	a.runner = cycle.NewRunner(client, a.engine, a.risk, a.history, a.watchlist,
		cycle.NoopResearcher{}, cycle.RuleBasedDecider{MinConfidence: cfg.Trading.MinConfidence},
		a.events, cfg, log)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// healthChecker assembles the readiness checks. The market clock check is
// skipped pre-market where a closed exchange is expected.
func (a *app) healthChecker(preMarket bool) *telemetry.HealthChecker {
	hc := telemetry.NewHealthChecker(a.log)
	hc.Register("alpaca_api_key", telemetry.NewKeyPresenceCheck("ALPACA_API_KEY", func() string {
		return a.cfg.Broker.APIKey
	}))
	hc.Register("broker_account", telemetry.NewBuyingPowerCheck(func(ctx context.Context) (float64, error) {
		acct, err := a.broker.GetAccount(ctx)
		if err != nil {
			return 0, err
		}
		return acct.BuyingPower, nil
	}))
	hc.Register("database", telemetry.NewPingCheck(a.db.Health))
	if a.redis != nil {
		hc.Register("redis", telemetry.NewPingCheck(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	hc.Register("scheduler_heartbeat", telemetry.NewHeartbeatCheck(func(ctx context.Context) (time.Time, error) {
		ts, err := a.hbStore.LastHeartbeat(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if ts == nil {
			return time.Time{}, nil
		}
		return *ts, nil
	}, a.cfg.Scheduler.StaleThreshold()))
	if !preMarket {
		hc.Register("market_clock", telemetry.NewMarketClockCheck(func(ctx context.Context) (bool, error) {
			clock, err := a.broker.GetClock(ctx)
			if err != nil {
				return false, err
			}
			return clock.IsOpen, nil
		}))
	}
	return hc
}

// orderLookup resolves a client order id to the state SyncPending needs
func (a *app) orderLookup(ctx context.Context, clientOrderID string) (*history.OrderState, error) {
	ord, err := a.broker.GetOrderByClientID(ctx, clientOrderID)
	if err != nil {
		if broker.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	state := &history.OrderState{}
	switch ord.Status {
	case "filled":
		state.Filled = true
		state.FilledAvgPrice = ord.FilledAvgPrice
		if ord.FilledAt != nil {
			state.FilledAt = *ord.FilledAt
		} else {
			state.FilledAt = ord.SubmittedAt
		}
	case "canceled", "expired", "rejected":
		state.Cancelled = true
	}
	return state, nil
}

func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return errorExitCode(err)
	}
	defer a.Close()

	sched := scheduler.New(cfg.Trading.Location(), a.taskStore, a.hbStore, a.events,
		cfg.Scheduler.MaxRetries, a.log)
	registerHandlers(a, sched)
	if err := sched.AddDefaultSchedule(cfg.Scheduler.PositionMonitorMin, cfg.Trading.CycleIntervalMin); err != nil {
		fmt.Fprintf(os.Stderr, "schedule installation failed: %v\n", err)
		return exitFailure
	}

	if err := writePidFile(); err != nil {
		a.log.Warn().Err(err).Msg("Pid file write failed, stop command will not find this process")
	}
	defer removePidFile()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health := a.healthChecker(false)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			report := health.Run(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if report.Status == telemetry.StatusBlocked {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(report)
		})
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		a.log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server listening")
	}

	sched.Start()
	a.log.Info().
		Str("environment", cfg.App.Environment).
		Str("timezone", cfg.Trading.Timezone).
		Msg("QuantPilot scheduler running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	a.log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	cancel()
	sched.Stop()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	a.log.Info().Msg("Shutdown complete")
	return exitOK
}

// registerHandlers binds every task type to its job body
func registerHandlers(a *app, sched *scheduler.Scheduler) {
	metrics := telemetry.GetMetrics()

	runCycle := func(ctx context.Context, _ map[string]interface{}) error {
		_, err := a.runner.Run(ctx, cycle.Options{ExecuteTrades: true})
		if errors.Is(err, cycle.ErrCycleRunning) {
			a.log.Info().Msg("Cycle already in flight, skipping scheduled run")
			return nil
		}
		return err
	}
	sched.RegisterHandler(scheduler.TaskTradingCycle, runCycle)
	sched.RegisterHandler(scheduler.TaskMomentumScan, runCycle)

	scanPositions := func(ctx context.Context, _ map[string]interface{}) error {
		exits, err := a.monitor.Scan(ctx)
		for _, e := range exits {
			metrics.AutoExits.WithLabelValues(string(e.Reason)).Inc()
		}
		return err
	}
	sched.RegisterHandler(scheduler.TaskPositionMonitor, scanPositions)
	sched.RegisterHandler(scheduler.TaskStopLossReview, scanPositions)

	sched.RegisterHandler(scheduler.TaskHealthCheck, func(ctx context.Context, _ map[string]interface{}) error {
		report := a.healthChecker(false).Run(ctx)
		switch report.Status {
		case telemetry.StatusBlocked:
			_ = a.alerts.Critical(ctx, "health check blocked", "one or more readiness checks failed",
				map[string]interface{}{"checks": report.Checks})
			return fmt.Errorf("health check blocked")
		case telemetry.StatusDegraded:
			_ = a.alerts.Warning(ctx, "health check degraded", "readiness checks reported warnings",
				map[string]interface{}{"checks": report.Checks})
		}
		return nil
	})

	sched.RegisterHandler(scheduler.TaskWatchlistMonitor, func(ctx context.Context, _ map[string]interface{}) error {
		fired, err := a.watchlist.CheckTriggers(ctx)
		for _, item := range fired {
			metrics.WatchlistTriggers.Inc()
			msg, fields := watchlistTriggerAlert(item)
			_ = a.alerts.Info(ctx, "watchlist trigger", msg, fields)
		}
		return err
	})

	sched.RegisterHandler(scheduler.TaskDiversificationScan, func(ctx context.Context, _ map[string]interface{}) error {
		byTicker, err := a.engine.ScanUniverse(ctx, a.cfg.Trading.DefaultTickers, a.cfg.Trading.MinConfidence)
		if err != nil {
			return err
		}
		ranked := make([]watchlist.RankedStock, 0, len(byTicker))
		for ticker, signals := range byTicker {
			best := 0.0
			for _, s := range signals {
				if s.Confidence > best {
					best = s.Confidence
				}
			}
			ranked = append(ranked, watchlist.RankedStock{Symbol: ticker, AIScore: best / 10})
		}
		added, err := a.watchlist.AutoEnrichFromRanking(ctx, ranked, 6.5, 2, 5)
		if err != nil {
			return err
		}
		a.log.Info().Int("added", added).Msg("Diversification scan finished")
		return nil
	})

	sched.RegisterHandler(scheduler.TaskDailySnapshot, func(ctx context.Context, _ map[string]interface{}) error {
		if confirmed, err := a.history.SyncPending(ctx, a.orderLookup); err != nil {
			a.log.Warn().Err(err).Msg("Pending order sync failed before snapshot")
		} else if confirmed > 0 {
			a.log.Info().Int("confirmed", confirmed).Msg("Pending orders confirmed")
		}

		acct, err := a.broker.GetAccount(ctx)
		if err != nil {
			return err
		}
		positions, err := a.broker.GetPositions(ctx)
		if err != nil {
			return err
		}
		unrealized := 0.0
		for _, p := range positions {
			unrealized += p.UnrealizedPL
		}

		today := time.Now().In(a.cfg.Trading.Location())
		starting := acct.Equity
		if prev, err := a.history.Snapshots().Get(ctx, today.AddDate(0, 0, -1)); err == nil && prev != nil {
			starting = prev.EndingEquity
		}
		_, err = a.history.TakeDailySnapshot(ctx, today, starting, acct.Equity, unrealized)
		return err
	})
}

// watchlistTriggerAlert renders the alert payload for a fired watchlist item
func watchlistTriggerAlert(item watchlist.Item) (string, map[string]interface{}) {
	return fmt.Sprintf("%s met its %s condition", item.Ticker, item.EntryCondition),
		map[string]interface{}{"ticker": item.Ticker, "condition": string(item.EntryCondition)}
}

func cmdRunCycle(args []string) int {
	fs := flag.NewFlagSet("run-cycle", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	dryRun := fs.Bool("dry-run", false, "record decisions without submitting orders")
	tickers := fs.String("tickers", "", "comma-separated ticker universe override")
	minConfidence := fs.Float64("min-confidence", 0, "confidence floor override")
	maxSignals := fs.Int("max-signals", 0, "max signals override")
	_ = fs.Parse(args)

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return errorExitCode(err)
	}
	defer a.Close()

	opts := cycle.Options{
		ExecuteTrades: true,
		DryRun:        *dryRun,
		MinConfidence: *minConfidence,
		MaxSignals:    *maxSignals,
	}
	if *tickers != "" {
		for _, t := range strings.Split(*tickers, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				opts.Tickers = append(opts.Tickers, t)
			}
		}
	}

	result, err := a.runner.Run(ctx, opts)
	if result != nil {
		printJSON(result)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cycle failed: %v\n", err)
		return errorExitCode(err)
	}
	return exitOK
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	runLimit := fs.Int("runs", 10, "recent task runs to show")
	_ = fs.Parse(args)

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return errorExitCode(err)
	}
	defer a.Close()

	status := struct {
		LastHeartbeat  *time.Time                 `json:"last_heartbeat,omitempty"`
		HeartbeatStale bool                       `json:"heartbeat_stale"`
		PendingTrades  int                        `json:"pending_trades"`
		RecentRuns     []scheduler.TaskRun        `json:"recent_runs,omitempty"`
		Performance    history.PerformanceMetrics `json:"performance_30d"`

		ByStrategy map[string]history.PerformanceMetrics `json:"performance_by_strategy,omitempty"`
	}{}

	if hb, err := a.hbStore.LastHeartbeat(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Heartbeat lookup failed")
	} else if hb != nil {
		status.LastHeartbeat = hb
		status.HeartbeatStale = time.Since(*hb) > cfg.Scheduler.StaleThreshold()
	} else {
		status.HeartbeatStale = true
	}

	if pending, err := a.history.Trades().ListPending(ctx); err == nil {
		status.PendingTrades = len(pending)
	}
	if runs, err := a.taskStore.ListRuns(ctx, *runLimit); err == nil {
		status.RecentRuns = runs
	}
	since := time.Now().AddDate(0, 0, -30)
	if perf, err := a.history.Metrics(ctx, since); err == nil {
		status.Performance = perf
	}
	if byStrategy, err := a.history.MetricsByStrategy(ctx, since); err == nil {
		status.ByStrategy = byStrategy
	}

	printJSON(status)
	return exitOK
}

func cmdSyncOrders(args []string) int {
	fs := flag.NewFlagSet("sync-orders", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	days := fs.Int("days", 7, "lookback window for reconciliation")
	recomputePnL := fs.Bool("recompute-pnl", false, "replay FIFO matching for recently traded tickers")
	_ = fs.Parse(args)

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return errorExitCode(err)
	}
	defer a.Close()

	confirmed, err := a.history.SyncPending(ctx, a.orderLookup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "order sync failed: %v\n", err)
		return errorExitCode(err)
	}

	closed := 0
	if *recomputePnL {
		since := time.Now().AddDate(0, 0, -*days)
		tickers, err := a.history.Trades().ActiveTickers(ctx, since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ticker listing failed: %v\n", err)
			return errorExitCode(err)
		}
		for _, ticker := range tickers {
			n, err := a.history.ReconcileTicker(ctx, ticker)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reconciliation failed for %s: %v\n", ticker, err)
				return errorExitCode(err)
			}
			closed += n
		}
	}

	printJSON(map[string]interface{}{
		"confirmed_fills": confirmed,
		"closed_legs":     closed,
	})
	return exitOK
}

func cmdHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	preMarket := fs.Bool("pre-market", false, "skip the market clock check")
	_ = fs.Parse(args)

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return errorExitCode(err)
	}
	defer a.Close()

	report := a.healthChecker(*preMarket).Run(ctx)
	printJSON(report)
	if report.Status == telemetry.StatusBlocked {
		return exitFailure
	}
	return exitOK
}

func cmdStop(args []string) int {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	_ = fs.Parse(args)

	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running daemon found: %v\n", err)
		return exitFailure
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "malformed pid file: %v\n", err)
		return exitFailure
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process %d not found: %v\n", pid, err)
		return exitFailure
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal process %d: %v\n", pid, err)
		return exitFailure
	}
	fmt.Printf("sent SIGTERM to %d\n", pid)
	return exitOK
}

func pidFilePath() string {
	return filepath.Join(os.TempDir(), "quantpilot.pid")
}

func writePidFile() error {
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePidFile() {
	_ = os.Remove(pidFilePath())
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding failed: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
