package watchlist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/quantpilot/internal/db"
	"github.com/quantpilot/quantpilot/internal/market"
)

// breakout compares today's close against the high of this many prior
// trading days
const breakoutLookbackDays = 20

// Service evaluates watchlist triggers and manages enrichment
type Service struct {
	repo     *Repository
	provider market.PriceProvider
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates the watchlist service
func NewService(pool db.Pool, provider market.PriceProvider, log zerolog.Logger) *Service {
	return &Service{
		repo:     NewRepository(pool),
		provider: provider,
		log:      log.With().Str("component", "watchlist").Logger(),
		now:      time.Now,
	}
}

// AddItem validates and stores a new candidate
func (s *Service) AddItem(ctx context.Context, item *Item) error {
	switch item.EntryCondition {
	case ConditionAbove, ConditionBelow:
		if item.EntryTarget == nil {
			return fmt.Errorf("entry condition %q requires an entry target", item.EntryCondition)
		}
	case ConditionBreakout:
	default:
		return fmt.Errorf("unknown entry condition %q", item.EntryCondition)
	}
	if item.Priority < 0 || item.Priority > 10 {
		return fmt.Errorf("priority %d out of range [1,10]", item.Priority)
	}
	if item.ExpiresAt.IsZero() {
		item.ExpiresAt = s.now().UTC().AddDate(0, 0, 7)
	}
	return s.repo.Insert(ctx, item)
}

// UpdateItem rewrites a watching item
func (s *Service) UpdateItem(ctx context.Context, item *Item) error {
	return s.repo.Update(ctx, item)
}

// RemoveItem deletes an item
func (s *Service) RemoveItem(ctx context.Context, id string) error {
	return s.repo.Remove(ctx, id)
}

// CancelItem advances a watching item to cancelled
func (s *Service) CancelItem(ctx context.Context, id string) error {
	ok, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("watchlist item %s not found or no longer watching", id)
	}
	return nil
}

// GetWatchlist lists items filtered by status in the requested order
func (s *Service) GetWatchlist(ctx context.Context, status Status, sortBy string) ([]Item, error) {
	return s.repo.List(ctx, status, sortBy)
}

// GetSummary aggregates the watchlist by status
func (s *Service) GetSummary(ctx context.Context) (Summary, error) {
	return s.repo.CountByStatus(ctx)
}

// WatchingTickers returns the distinct tickers currently under watch,
// for universe building
func (s *Service) WatchingTickers(ctx context.Context) ([]string, error) {
	items, err := s.repo.List(ctx, StatusWatching, "priority")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(items))
	var tickers []string
	for _, it := range items {
		if !seen[it.Ticker] {
			seen[it.Ticker] = true
			tickers = append(tickers, it.Ticker)
		}
	}
	return tickers, nil
}

// CheckTriggers sweeps watching items: expired items are closed out, the
// rest are evaluated against the latest close. Triggering is advisory; no
// orders are placed here. Returns the items that fired.
func (s *Service) CheckTriggers(ctx context.Context) ([]Item, error) {
	items, err := s.repo.List(ctx, StatusWatching, "priority")
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var triggered []Item
	for _, item := range items {
		if !item.ExpiresAt.IsZero() && item.ExpiresAt.Before(now) {
			if _, err := s.repo.MarkExpired(ctx, item.ID); err != nil {
				s.log.Warn().Err(err).Str("ticker", item.Ticker).Msg("Watchlist expiry failed")
			}
			continue
		}

		bars, err := s.fetchBars(ctx, item.Ticker)
		if err != nil || len(bars) == 0 {
			s.log.Warn().Err(err).Str("ticker", item.Ticker).Msg("No prices for watchlist check, skipping")
			continue
		}
		latest := bars[len(bars)-1].Close

		if !s.conditionMet(item, latest, bars) {
			continue
		}

		ok, err := s.repo.MarkTriggered(ctx, item.ID, latest, now)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", item.Ticker).Msg("Watchlist trigger update failed")
			continue
		}
		if !ok {
			continue // lost the race, item already left watching
		}
		item.Status = StatusTriggered
		item.TriggeredAt = &now
		item.TriggeredPrice = &latest
		triggered = append(triggered, item)

		s.log.Info().
			Str("ticker", item.Ticker).
			Str("condition", string(item.EntryCondition)).
			Float64("price", latest).
			Msg("Watchlist item triggered")
	}
	return triggered, nil
}

func (s *Service) conditionMet(item Item, latest float64, bars []market.PriceBar) bool {
	switch item.EntryCondition {
	case ConditionBelow:
		return item.EntryTarget != nil && latest <= *item.EntryTarget
	case ConditionAbove:
		return item.EntryTarget != nil && latest >= *item.EntryTarget
	case ConditionBreakout:
		high, ok := priorHigh(bars, breakoutLookbackDays)
		return ok && latest > high
	default:
		return false
	}
}

// priorHigh is the max high over the last n bars excluding the latest bar
func priorHigh(bars []market.PriceBar, n int) (float64, bool) {
	if len(bars) < 2 {
		return 0, false
	}
	window := bars[:len(bars)-1]
	if len(window) > n {
		window = window[len(window)-n:]
	}
	high := window[0].High
	for _, b := range window {
		if b.High > high {
			high = b.High
		}
	}
	return high, true
}

func (s *Service) fetchBars(ctx context.Context, ticker string) ([]market.PriceBar, error) {
	end := s.now().UTC()
	start := end.AddDate(0, 0, -45) // covers 20 trading days plus slack
	return s.provider.GetPrices(ctx, ticker, start, end)
}

// ItemAnalysis pairs an item with its current distance from trigger
type ItemAnalysis struct {
	Item         Item    `json:"item"`
	CurrentPrice float64 `json:"current_price"`
	DistancePct  float64 `json:"distance_pct"` // positive means not yet at target
}

// AnalyzeWatchlist reports how far each watching item is from firing
func (s *Service) AnalyzeWatchlist(ctx context.Context) ([]ItemAnalysis, error) {
	items, err := s.repo.List(ctx, StatusWatching, "priority")
	if err != nil {
		return nil, err
	}

	var out []ItemAnalysis
	for _, item := range items {
		bars, err := s.fetchBars(ctx, item.Ticker)
		if err != nil || len(bars) == 0 {
			continue
		}
		latest := bars[len(bars)-1].Close

		var target float64
		switch item.EntryCondition {
		case ConditionBreakout:
			high, ok := priorHigh(bars, breakoutLookbackDays)
			if !ok {
				continue
			}
			target = high
		default:
			if item.EntryTarget == nil {
				continue
			}
			target = *item.EntryTarget
		}

		dist := (target - latest) / latest * 100
		if item.EntryCondition == ConditionBelow {
			dist = -dist
		}
		out = append(out, ItemAnalysis{Item: item, CurrentPrice: latest, DistancePct: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistancePct < out[j].DistancePct })
	return out, nil
}

// AutoEnrichFromRanking adds breakout candidates from an external AI
// ranking: scores at or above minScore, sorted descending with symbol
// tie-break, capped per sector and in total. Tickers already watching are
// skipped.
func (s *Service) AutoEnrichFromRanking(ctx context.Context, ranked []RankedStock, minScore float64, stocksPerSector, maxTotal int) (int, error) {
	existing, err := s.repo.List(ctx, StatusWatching, "ticker")
	if err != nil {
		return 0, err
	}
	watching := make(map[string]bool, len(existing))
	for _, it := range existing {
		watching[it.Ticker] = true
	}

	candidates := make([]RankedStock, 0, len(ranked))
	for _, r := range ranked {
		if r.AIScore >= minScore && !watching[r.Symbol] {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AIScore != candidates[j].AIScore {
			return candidates[i].AIScore > candidates[j].AIScore
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	added := 0
	perSector := make(map[string]int)
	for _, c := range candidates {
		if maxTotal > 0 && added >= maxTotal {
			break
		}
		if stocksPerSector > 0 && perSector[c.Sector] >= stocksPerSector {
			continue
		}

		item := &Item{
			Ticker:         c.Symbol,
			EntryCondition: ConditionBreakout,
			Priority:       priorityFromScore(c.AIScore),
			ExpiresAt:      s.now().UTC().AddDate(0, 0, 7),
			Notes:          fmt.Sprintf("auto-enriched: %s score %.1f", c.Sector, c.AIScore),
		}
		if err := s.repo.Insert(ctx, item); err != nil {
			s.log.Warn().Err(err).Str("ticker", c.Symbol).Msg("Auto-enrichment insert failed")
			continue
		}
		perSector[c.Sector]++
		added++
	}

	s.log.Info().Int("added", added).Float64("min_score", minScore).Msg("Watchlist auto-enrichment complete")
	return added, nil
}

// priorityFromScore maps a 0-10 AI score onto the 1-10 priority scale
func priorityFromScore(score float64) int {
	p := int(score)
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}
