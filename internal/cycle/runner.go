package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpilot/quantpilot/internal/broker"
	"github.com/quantpilot/quantpilot/internal/config"
	"github.com/quantpilot/quantpilot/internal/history"
	"github.com/quantpilot/quantpilot/internal/risk"
	"github.com/quantpilot/quantpilot/internal/strategy"
	"github.com/quantpilot/quantpilot/internal/telemetry"
)

// ErrCycleRunning is returned when a cycle is requested while one is in
// flight. Invocations are rejected, never queued.
var ErrCycleRunning = errors.New("trading cycle already running")

// State is the cycle's terminal state
type State string

const (
	StateCompleted State = "completed"
	StateErrored   State = "errored"
	StateCancelled State = "cancelled"
)

// Options parameterizes one cycle run. Zero values fall back to config.
type Options struct {
	Tickers       []string
	MinConfidence float64
	MaxSignals    int
	ExecuteTrades bool
	DryRun        bool
}

// Result summarizes one cycle run
type Result struct {
	State           State     `json:"state"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
	TickersScreened int       `json:"tickers_screened"`
	SignalsFound    int       `json:"signals_found"`
	ResearchDone    int       `json:"mazo_validated"` // legacy key kept for downstream dashboards
	TradesAnalyzed  int       `json:"trades_analyzed"`
	TradesExecuted  int       `json:"trades_executed"`
	StageErrors     []string  `json:"stage_errors,omitempty"`
	DryRun          bool      `json:"dry_run,omitempty"`
}

// Gateway is the broker surface the cycle depends on
type Gateway interface {
	SyncPortfolio(ctx context.Context) (*broker.PortfolioSnapshot, error)
	CheckPDTStatus(ctx context.Context) (*broker.PDTStatus, error)
	IsFractionable(ctx context.Context, symbol string) bool
	ExecuteDecision(ctx context.Context, symbol string, action broker.TradeAction, qty float64, clientOrderID string) (*broker.OrderResult, error)
}

// Scanner is the strategy engine surface the cycle depends on
type Scanner interface {
	ScanUniverse(ctx context.Context, tickers []string, minConfidence float64) (map[string][]strategy.TradingSignal, error)
	EnableSmallAccountStrategies()
}

// Recorder is the trade history surface the cycle depends on
type Recorder interface {
	RecordSubmission(ctx context.Context, trade *history.TradeRecord, decision *history.DecisionContext) error
	ReconcileTicker(ctx context.Context, ticker string) (int, error)
}

// WatchSource supplies watchlist tickers for universe building
type WatchSource interface {
	WatchingTickers(ctx context.Context) ([]string, error)
}

// Runner owns the at-most-one cycle flag and a short result history
type Runner struct {
	gateway    Gateway
	scanner    Scanner
	risk       *risk.Manager
	recorder   Recorder
	watch      WatchSource
	researcher Researcher
	decider    Decider
	events     *telemetry.EventLogger
	metrics    *telemetry.Metrics
	cfg        *config.Config
	log        zerolog.Logger

	running atomic.Bool

	mu         sync.Mutex
	lastResult *Result
	recent     []Result // newest last, bounded
}

const recentResultsCap = 20

// NewRunner wires the cycle pipeline
func NewRunner(gateway Gateway, scanner Scanner, riskMgr *risk.Manager, recorder Recorder, watch WatchSource,
	researcher Researcher, decider Decider, events *telemetry.EventLogger, cfg *config.Config, log zerolog.Logger) *Runner {
	return &Runner{
		gateway:    gateway,
		scanner:    scanner,
		risk:       riskMgr,
		recorder:   recorder,
		watch:      watch,
		researcher: researcher,
		decider:    decider,
		events:     events,
		metrics:    telemetry.GetMetrics(),
		cfg:        cfg,
		log:        log.With().Str("component", "trading_cycle").Logger(),
	}
}

// Running reports whether a cycle is in flight
func (r *Runner) Running() bool {
	return r.running.Load()
}

// LastResult returns the most recent cycle result, or nil
func (r *Runner) LastResult() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastResult
}

// RecentResults returns the short in-memory result history, oldest first
func (r *Runner) RecentResults() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.recent...)
}

// Run executes one trading cycle. Concurrent invocations fail fast with
// ErrCycleRunning and emit no workflow events. The running flag is released
// on every exit path.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer r.running.Store(false)

	if opts.MinConfidence <= 0 {
		opts.MinConfidence = r.cfg.Trading.MinConfidence
	}
	if opts.MaxSignals <= 0 {
		opts.MaxSignals = r.cfg.Trading.MaxSignals
	}

	started := time.Now().UTC()
	result := &Result{State: StateCompleted, StartedAt: started, DryRun: opts.DryRun}
	wf := r.events.StartWorkflow(ctx, "trading_cycle")

	err := r.runStages(ctx, wf, opts, result)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		result.State = StateCancelled
	case err != nil:
		result.State = StateErrored
		result.StageErrors = append(result.StageErrors, err.Error())
	}
	result.DurationMS = time.Since(started).Milliseconds()

	wf.Emit(ctx, telemetry.EventWorkflow, "trading_cycle_complete", map[string]interface{}{
		"state":            string(result.State),
		"tickers_screened": result.TickersScreened,
		"signals_found":    result.SignalsFound,
		"trades_executed":  result.TradesExecuted,
		"duration_ms":      result.DurationMS,
	})
	wf.Finish(ctx, err)

	r.metrics.CyclesTotal.WithLabelValues(string(result.State)).Inc()
	r.metrics.CycleDuration.Observe(time.Since(started).Seconds())

	r.mu.Lock()
	r.lastResult = result
	r.recent = append(r.recent, *result)
	if len(r.recent) > recentResultsCap {
		r.recent = r.recent[1:]
	}
	r.mu.Unlock()

	r.log.Info().
		Str("state", string(result.State)).
		Int("screened", result.TickersScreened).
		Int("signals", result.SignalsFound).
		Int("executed", result.TradesExecuted).
		Int64("duration_ms", result.DurationMS).
		Msg("Trading cycle finished")
	return result, err
}

// runStages drives the strictly ordered pipeline. Cancellation is observed
// at every stage boundary.
func (r *Runner) runStages(ctx context.Context, wf *telemetry.Workflow, opts Options, result *Result) error {
	var snapshot *broker.PortfolioSnapshot
	if err := wf.Step(ctx, "sync_portfolio", func(ctx context.Context) error {
		var err error
		snapshot, err = r.gateway.SyncPortfolio(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("portfolio sync failed: %w", err)
	}

	profile := r.risk.ProfileFor(snapshot.Account.Equity, r.cfg.Trading)
	if profile.SmallAccount {
		r.scanner.EnableSmallAccountStrategies()
		r.log.Info().Float64("equity", snapshot.Account.Equity).Msg("Small-account mode active")
	}
	minConfidence := opts.MinConfidence
	if profile.MinConfidence > minConfidence {
		minConfidence = profile.MinConfidence
	}
	maxSignals := opts.MaxSignals
	if profile.MaxSignals < maxSignals {
		maxSignals = profile.MaxSignals
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Screening
	tickers := r.buildUniverse(ctx, opts.Tickers, snapshot)
	result.TickersScreened = len(tickers)

	var signals []strategy.TradingSignal
	if err := wf.Step(ctx, "screening", func(ctx context.Context) error {
		byTicker, err := r.scanner.ScanUniverse(ctx, tickers, minConfidence)
		if err != nil {
			return err
		}
		for _, s := range byTicker {
			signals = append(signals, s...)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("screening failed: %w", err)
	}

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].Confidence != signals[j].Confidence {
			return signals[i].Confidence > signals[j].Confidence
		}
		return signals[i].Ticker < signals[j].Ticker
	})
	result.SignalsFound = len(signals)
	r.metrics.SignalsFound.Add(float64(len(signals)))
	if len(signals) > maxSignals {
		signals = signals[:maxSignals]
	}
	if len(signals) == 0 {
		return nil
	}

	// PDT gate applies to the whole batch before any research spend
	pdt, err := r.gateway.CheckPDTStatus(ctx)
	if err != nil {
		return fmt.Errorf("PDT check failed: %w", err)
	}
	if !pdt.CanDayTrade {
		result.StageErrors = append(result.StageErrors, fmt.Sprintf("preflight: PDT gate blocked trading: %s", pdt.Warning))
		return nil
	}
	if pdt.Warning != "" {
		r.log.Warn().Str("warning", pdt.Warning).Msg("PDT warning, trading allowed")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Research
	research := make(map[string]*Research, len(signals))
	_ = wf.Step(ctx, "research", func(ctx context.Context) error {
		for _, sig := range signals {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			research[sig.Ticker] = r.researchSignal(ctx, wf, sig)
			result.ResearchDone++
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	// Decision
	type approved struct {
		sig      strategy.TradingSignal
		decision *Decision
		summary  string
	}
	var decisions []approved
	_ = wf.Step(ctx, "decision", func(ctx context.Context) error {
		for _, sig := range signals {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary := sentimentUnknown
			if res := research[sig.Ticker]; res != nil && res.Success {
				summary = res.Answer
			}
			d, err := r.decideSignal(ctx, sig, summary, *snapshot)
			if err != nil {
				result.StageErrors = append(result.StageErrors, fmt.Sprintf("decision %s: %v", sig.Ticker, err))
				continue
			}
			result.TradesAnalyzed++
			if d.Action == broker.ActionHold {
				continue
			}
			decisions = append(decisions, approved{sig: sig, decision: d, summary: summary})
			wf.Emit(ctx, telemetry.EventPMDecision, sig.Ticker, map[string]interface{}{
				"action":     string(d.Action),
				"quantity":   d.Quantity,
				"confidence": d.Confidence,
			})
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	// Execution
	if !opts.ExecuteTrades {
		return nil
	}
	return wf.Step(ctx, "execution", func(ctx context.Context) error {
		for _, a := range decisions {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := r.executeDecision(ctx, wf, a.sig, a.decision, a.summary, snapshot, opts.DryRun, result); err != nil {
				result.StageErrors = append(result.StageErrors, fmt.Sprintf("execution %s: %v", a.sig.Ticker, err))
			}
		}
		return nil
	})
}

// buildUniverse assembles the ticker universe: caller's list, or
// watchlist + positions + default pool, deduplicated and capped
func (r *Runner) buildUniverse(ctx context.Context, requested []string, snapshot *broker.PortfolioSnapshot) []string {
	if len(requested) > 0 {
		return dedupCap(requested, r.cfg.Trading.MaxUniverseSize)
	}

	var tickers []string
	if r.watch != nil {
		watching, err := r.watch.WatchingTickers(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("Watchlist unavailable for universe building")
		} else {
			tickers = append(tickers, watching...)
		}
	}
	for _, pos := range snapshot.Positions {
		tickers = append(tickers, pos.Symbol)
	}
	tickers = append(tickers, r.cfg.Trading.DefaultTickers...)
	return dedupCap(tickers, r.cfg.Trading.MaxUniverseSize)
}

func dedupCap(tickers []string, max int) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// researchSignal asks the collaborator with a deadline; failure degrades
// to an unsuccessful result rather than aborting the cycle
func (r *Runner) researchSignal(ctx context.Context, wf *telemetry.Workflow, sig strategy.TradingSignal) *Research {
	if r.researcher == nil {
		return &Research{Success: false, Error: "no researcher configured"}
	}

	rctx, cancel := context.WithTimeout(ctx, r.cfg.Research.ResearchTimeout())
	defer cancel()

	query := fmt.Sprintf("Current sentiment and near-term catalysts for %s given a %s %s signal", sig.Ticker, sig.Direction, sig.Strategy)
	res, err := r.researcher.Research(rctx, query, r.cfg.Research.Depth)
	if err != nil {
		r.log.Warn().Err(err).Str("ticker", sig.Ticker).Msg("Research failed, degrading to unknown sentiment")
		return &Research{Success: false, Error: err.Error()}
	}
	wf.Emit(ctx, telemetry.EventAgentSignal, sig.Ticker, map[string]interface{}{
		"research_confidence": res.Confidence,
		"sources":             len(res.Sources),
	})
	return res
}

// decideSignal asks the PM collaborator with a deadline
func (r *Runner) decideSignal(ctx context.Context, sig strategy.TradingSignal, summary string, snapshot broker.PortfolioSnapshot) (*Decision, error) {
	if r.decider == nil {
		return nil, errors.New("no decider configured")
	}
	dctx, cancel := context.WithTimeout(ctx, r.cfg.Decision.DecisionTimeout())
	defer cancel()
	return r.decider.Decide(dctx, sig, summary, snapshot)
}

// executeDecision runs pre-flight checks, sizes the order, submits it and
// records the trade with its full decision context
func (r *Runner) executeDecision(ctx context.Context, wf *telemetry.Workflow, sig strategy.TradingSignal,
	d *Decision, summary string, snapshot *broker.PortfolioSnapshot, dryRun bool, result *Result) error {

	if err := r.risk.CheckCooldown(sig.Ticker); err != nil {
		return err
	}
	held := false
	for _, pos := range snapshot.Positions {
		if pos.Symbol == sig.Ticker {
			held = true
			break
		}
	}
	if err := r.risk.CheckPositionCap(len(snapshot.Positions), sig.Ticker, held); err != nil {
		return err
	}

	fractionable := r.cfg.Trading.AllowFractional && r.gateway.IsFractionable(ctx, sig.Ticker)
	sizing, err := r.risk.SizePosition(sig, &snapshot.Account, fractionable)
	if err != nil {
		return err
	}
	qty := sizing.Quantity
	if d.Quantity > 0 && d.Quantity < qty {
		qty = d.Quantity // PM may size down, never up
	}

	clientOrderID := uuid.New().String()
	trade := &history.TradeRecord{
		Ticker:        sig.Ticker,
		Action:        history.TradeAction(d.Action),
		Quantity:      qty,
		EntryPrice:    sig.EntryPrice,
		EntryTime:     time.Now().UTC(),
		Strategy:      sig.Strategy,
		Fractionable:  sizing.Fractional,
		ClientOrderID: clientOrderID,
	}
	decision := r.decisionContext(sig, d, summary, snapshot)

	if dryRun {
		trade.Notes = "dry_run"
		if err := r.recorder.RecordSubmission(ctx, trade, decision); err != nil {
			return err
		}
		r.log.Info().Str("ticker", sig.Ticker).Float64("qty", qty).Msg("Dry run, order not submitted")
		return nil
	}

	orderResult, err := r.gateway.ExecuteDecision(ctx, sig.Ticker, d.Action, qty, clientOrderID)
	if err != nil {
		return err
	}
	if orderResult.NoOp {
		return nil
	}

	if err := r.recorder.RecordSubmission(ctx, trade, decision); err != nil {
		r.log.Error().Err(err).Str("ticker", sig.Ticker).Msg("Trade record write failed after submission")
	}
	r.risk.RecordTrade(sig.Ticker)
	result.TradesExecuted++
	r.metrics.TradesExecuted.WithLabelValues(string(d.Action)).Inc()

	wf.Emit(ctx, telemetry.EventTradeExecution, sig.Ticker, map[string]interface{}{
		"action":   string(d.Action),
		"quantity": qty,
		"notional": sizing.Notional,
	})

	if history.TradeAction(d.Action).IsClosing() {
		if _, err := r.recorder.ReconcileTicker(ctx, sig.Ticker); err != nil {
			r.log.Warn().Err(err).Str("ticker", sig.Ticker).Msg("Post-trade reconciliation failed")
		}
	}
	return nil
}

// decisionContext captures the immutable decision bundle for auditing
func (r *Runner) decisionContext(sig strategy.TradingSignal, d *Decision, summary string, snapshot *broker.PortfolioSnapshot) *history.DecisionContext {
	sigJSON, _ := json.Marshal(sig)
	portfolioJSON, _ := json.Marshal(snapshot)
	return &history.DecisionContext{
		Ticker:          sig.Ticker,
		Signal:          sigJSON,
		ResearchSummary: summary,
		Action:          string(d.Action),
		Quantity:        d.Quantity,
		StopLossPct:     d.StopLossPct,
		TakeProfitPct:   d.TakeProfitPct,
		PMConfidence:    d.Confidence,
		PMReasoning:     d.Reasoning,
		Portfolio:       portfolioJSON,
	}
}
