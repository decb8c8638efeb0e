package market

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBars() []PriceBar {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	return []PriceBar{
		{Date: base, Open: 100, High: 102, Low: 99, Close: 101, Volume: 1_000_000},
		{Date: base.AddDate(0, 0, 1), Open: 101, High: 104, Low: 100, Close: 103, Volume: 1_200_000},
	}
}

func newCacheFixture(t *testing.T, source PriceProvider) (*CachedPriceProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedPriceProvider(source, client, time.Minute), mr
}

func TestGetPricesMissFetchesFromSource(t *testing.T) {
	calls := 0
	source := PriceProviderFunc(func(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error) {
		calls++
		return testBars(), nil
	})
	cache, _ := newCacheFixture(t, source)

	bars, err := cache.GetPrices(context.Background(), "AAPL",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 1, calls)
}

func TestGetPricesHitSkipsSource(t *testing.T) {
	source := PriceProviderFunc(func(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error) {
		t.Fatal("source must not be called on a cache hit")
		return nil, nil
	})
	cache, mr := newCacheFixture(t, source)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	data, err := json.Marshal(testBars())
	require.NoError(t, err)
	require.NoError(t, mr.Set("prices:AAPL:2025-06-01:2025-06-10", string(data)))

	bars, err := cache.GetPrices(context.Background(), "AAPL", start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.InDelta(t, 103.0, bars[1].Close, 0.0001)
}

func TestGetPricesCorruptCacheFallsThrough(t *testing.T) {
	calls := 0
	source := PriceProviderFunc(func(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error) {
		calls++
		return testBars(), nil
	})
	cache, mr := newCacheFixture(t, source)
	require.NoError(t, mr.Set("prices:AAPL:2025-06-01:2025-06-10", "{not json"))

	bars, err := cache.GetPrices(context.Background(), "AAPL",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 1, calls)
}

func TestGetPricesRedisDownFallsThrough(t *testing.T) {
	source := PriceProviderFunc(func(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error) {
		return testBars(), nil
	})
	cache, mr := newCacheFixture(t, source)
	mr.Close()

	bars, err := cache.GetPrices(context.Background(), "AAPL",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestGetPricesSourceErrorPropagates(t *testing.T) {
	source := PriceProviderFunc(func(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error) {
		return nil, errors.New("data api unavailable")
	})
	cache, _ := newCacheFixture(t, source)

	_, err := cache.GetPrices(context.Background(), "AAPL",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	cache, mr := newCacheFixture(t, nil)
	require.NoError(t, cache.Ping(context.Background()))

	mr.Close()
	assert.Error(t, cache.Ping(context.Background()))
}
