package watchlist

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/quantpilot/internal/market"
)

func fptr(f float64) *float64 { return &f }

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func barsWithHighs(highs []float64, lastClose float64) []market.PriceBar {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.PriceBar, len(highs)+1)
	for i, h := range highs {
		bars[i] = market.PriceBar{Date: base.AddDate(0, 0, i), High: h, Close: h * 0.99}
	}
	bars[len(highs)] = market.PriceBar{Date: base.AddDate(0, 0, len(highs)), High: lastClose, Close: lastClose}
	return bars
}

func TestConditionMet(t *testing.T) {
	s := &Service{}

	tests := []struct {
		name   string
		item   Item
		latest float64
		bars   []market.PriceBar
		want   bool
	}{
		{
			name:   "below met at target",
			item:   Item{EntryCondition: ConditionBelow, EntryTarget: fptr(100)},
			latest: 100,
			want:   true,
		},
		{
			name:   "below not met",
			item:   Item{EntryCondition: ConditionBelow, EntryTarget: fptr(100)},
			latest: 100.01,
			want:   false,
		},
		{
			name:   "above met",
			item:   Item{EntryCondition: ConditionAbove, EntryTarget: fptr(50)},
			latest: 51,
			want:   true,
		},
		{
			name:   "above missing target",
			item:   Item{EntryCondition: ConditionAbove},
			latest: 51,
			want:   false,
		},
		{
			name:   "breakout strictly above prior high",
			item:   Item{EntryCondition: ConditionBreakout},
			latest: 105.01,
			bars:   barsWithHighs([]float64{100, 102, 105, 101}, 105.01),
			want:   true,
		},
		{
			name:   "breakout equal to prior high is not a trigger",
			item:   Item{EntryCondition: ConditionBreakout},
			latest: 105,
			bars:   barsWithHighs([]float64{100, 102, 105, 101}, 105),
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.conditionMet(tt.item, tt.latest, tt.bars))
		})
	}
}

func TestPriorHighExcludesLatestBar(t *testing.T) {
	// The latest bar's own high must not count as the breakout level
	bars := barsWithHighs([]float64{100, 101, 102}, 110)
	high, ok := priorHigh(bars, 20)
	require.True(t, ok)
	assert.Equal(t, 102.0, high)

	_, ok = priorHigh(bars[:1], 20)
	assert.False(t, ok)
}

func TestPriorHighWindowBound(t *testing.T) {
	highs := make([]float64, 30)
	for i := range highs {
		highs[i] = 100
	}
	highs[0] = 200 // outside the 20-day window
	bars := barsWithHighs(highs, 105)

	high, ok := priorHigh(bars, 20)
	require.True(t, ok)
	assert.Equal(t, 100.0, high)
}

func TestMarkTriggeredMonotone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Status guard matched nothing: the item already left watching
	mock.ExpectExec("UPDATE watchlist_items SET status").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepository(mock)
	ok, err := repo.MarkTriggered(context.Background(), "id-1", 105, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddItemValidation(t *testing.T) {
	s := &Service{now: time.Now}

	err := s.AddItem(context.Background(), &Item{Ticker: "AAPL", EntryCondition: ConditionBelow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry target")

	err = s.AddItem(context.Background(), &Item{Ticker: "AAPL", EntryCondition: "sideways"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entry condition")
}

func TestAutoEnrichFromRanking(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// No existing items
	mock.ExpectQuery("SELECT (.+) FROM watchlist_items").
		WithArgs(anyArgs(1)...).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "ticker", "entry_target", "entry_condition", "stop_loss", "take_profit",
			"position_size_pct", "priority", "status", "expires_at", "triggered_at", "triggered_price",
			"strategy", "notes", "created_at",
		}))
	// Three inserts expected: sector cap drops one, total cap drops one
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO watchlist_items").
			WithArgs(anyArgs(15)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	s := &Service{
		repo: NewRepository(mock),
		log:  zerolog.Nop(),
		now:  time.Now,
	}

	ranked := []RankedStock{
		{Symbol: "AAPL", Sector: "Tech", AIScore: 9.5},
		{Symbol: "MSFT", Sector: "Tech", AIScore: 9.0},
		{Symbol: "NVDA", Sector: "Tech", AIScore: 8.5}, // third in sector, dropped
		{Symbol: "JPM", Sector: "Financials", AIScore: 8.0},
		{Symbol: "XOM", Sector: "Energy", AIScore: 7.0},  // beyond maxTotal
		{Symbol: "LOW", Sector: "Retail", AIScore: 5.0},  // below minScore
	}

	added, err := s.AutoEnrichFromRanking(context.Background(), ranked, 6.0, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriorityFromScore(t *testing.T) {
	assert.Equal(t, 9, priorityFromScore(9.4))
	assert.Equal(t, 1, priorityFromScore(0.2))
	assert.Equal(t, 10, priorityFromScore(12))
}
