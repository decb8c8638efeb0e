package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quantpilot/quantpilot/internal/market"
)

// builders maps strategy names to constructors. New strategies are added
// by registration, not inheritance.
var builders = map[string]func() Strategy{
	"momentum":        func() Strategy { return NewMomentum() },
	"mean_reversion":  func() Strategy { return NewMeanReversion() },
	"trend_following": func() Strategy { return NewTrendFollowing() },
	"vwap_scalper":    func() Strategy { return NewVWAPScalper() },
	"breakout_micro":  func() Strategy { return NewBreakoutMicro() },
}

// DefaultStrategies is the standard-account registry
var DefaultStrategies = []string{"momentum", "mean_reversion", "trend_following"}

// SmallAccountStrategies favor short holds and small notional
var SmallAccountStrategies = []string{"momentum", "vwap_scalper", "breakout_micro"}

// Engine runs the active strategy registry over a price universe
type Engine struct {
	provider     market.PriceProvider
	workers      int64
	lookbackDays int
	log          zerolog.Logger

	mu     sync.RWMutex
	active []Strategy
}

// NewEngine creates an engine with the default strategy registry.
// workers bounds the number of tickers screened concurrently.
func NewEngine(provider market.PriceProvider, workers int, log zerolog.Logger) *Engine {
	if workers < 1 {
		workers = 8
	}
	e := &Engine{
		provider:     provider,
		workers:      int64(workers),
		lookbackDays: 120, // calendar days, enough for SMA(50) in trading days
		log:          log.With().Str("component", "strategy_engine").Logger(),
	}
	if err := e.SetStrategies(DefaultStrategies); err != nil {
		panic(err) // defaults are always registered
	}
	return e
}

// SetStrategies reconfigures the active registry
func (e *Engine) SetStrategies(names []string) error {
	active := make([]Strategy, 0, len(names))
	for _, name := range names {
		build, ok := builders[name]
		if !ok {
			return fmt.Errorf("unknown strategy %q", name)
		}
		active = append(active, build())
	}

	e.mu.Lock()
	e.active = active
	e.mu.Unlock()

	e.log.Info().Strs("strategies", names).Msg("Active strategies configured")
	return nil
}

// EnableSmallAccountStrategies switches to the scalping-oriented registry
func (e *Engine) EnableSmallAccountStrategies() {
	_ = e.SetStrategies(SmallAccountStrategies) // fixed list, cannot fail
}

// ActiveStrategies returns the names of the active registry
func (e *Engine) ActiveStrategies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.active))
	for _, s := range e.active {
		names = append(names, s.Name())
	}
	return names
}

// fetchBars loads the lookback window for a ticker
func (e *Engine) fetchBars(ctx context.Context, ticker string) ([]market.PriceBar, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -e.lookbackDays)
	return e.provider.GetPrices(ctx, ticker, start, end)
}

// Analyze runs every active strategy over one ticker. Strategies run
// sequentially within the ticker; each emits at most one signal.
func (e *Engine) Analyze(ctx context.Context, ticker string) ([]TradingSignal, error) {
	bars, err := e.fetchBars(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("price fetch for %s failed: %w", ticker, err)
	}

	e.mu.RLock()
	active := e.active
	e.mu.RUnlock()

	var signals []TradingSignal
	for _, strat := range active {
		if len(bars) < strat.MinBars() {
			continue
		}
		if sig := strat.Analyze(ticker, bars); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, nil
}

// ScanUniverse screens tickers with bounded concurrency and returns
// signals at or above minConfidence grouped by ticker. Per-ticker failures
// are logged and skipped; the scan continues.
func (e *Engine) ScanUniverse(ctx context.Context, tickers []string, minConfidence float64) (map[string][]TradingSignal, error) {
	results := make(map[string][]TradingSignal)
	var mu sync.Mutex

	sem := semaphore.NewWeighted(e.workers)
	g, gctx := errgroup.WithContext(ctx)

	for _, ticker := range tickers {
		ticker := ticker
		if err := sem.Acquire(gctx, 1); err != nil {
			break // context cancelled
		}
		g.Go(func() error {
			defer sem.Release(1)

			signals, err := e.Analyze(gctx, ticker)
			if err != nil {
				e.log.Warn().Err(err).Str("ticker", ticker).Msg("Screening failed for ticker, skipping")
				return nil
			}

			kept := signals[:0]
			for _, sig := range signals {
				if sig.Confidence >= minConfidence && sig.Direction != DirectionNeutral {
					kept = append(kept, sig)
				}
			}
			if len(kept) == 0 {
				return nil
			}

			mu.Lock()
			results[ticker] = append([]TradingSignal(nil), kept...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetBestSignals screens the universe and returns the top n signals by
// descending confidence
func (e *Engine) GetBestSignals(ctx context.Context, tickers []string, topN int, minConfidence float64) ([]TradingSignal, error) {
	byTicker, err := e.ScanUniverse(ctx, tickers, minConfidence)
	if err != nil {
		return nil, err
	}

	var all []TradingSignal
	for _, signals := range byTicker {
		all = append(all, signals...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].Ticker < all[j].Ticker
	})

	if topN > 0 && len(all) > topN {
		all = all[:topN]
	}
	return all, nil
}
