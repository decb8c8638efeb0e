package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CachedPriceProvider wraps a PriceProvider with Redis caching.
// Cache failures never fail the request; they fall through to the source.
type CachedPriceProvider struct {
	source   PriceProvider
	redis    *redis.Client
	cacheTTL time.Duration
}

// NewCachedPriceProvider creates a cache-aside decorator
func NewCachedPriceProvider(source PriceProvider, redisClient *redis.Client, cacheTTL time.Duration) *CachedPriceProvider {
	return &CachedPriceProvider{
		source:   source,
		redis:    redisClient,
		cacheTTL: cacheTTL,
	}
}

// GetPrices fetches bars with caching
func (c *CachedPriceProvider) GetPrices(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error) {
	cacheKey := fmt.Sprintf("prices:%s:%s:%s", ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var bars []PriceBar
		if err := json.Unmarshal([]byte(cached), &bars); err == nil {
			log.Debug().Str("ticker", ticker).Str("cache_key", cacheKey).Msg("Cache hit for price bars")
			return bars, nil
		}
		log.Warn().Err(err).Msg("Failed to unmarshal cached bars, fetching fresh")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("Redis error during cache lookup")
	}

	bars, err := c.source.GetPrices(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	// Store in cache (async, don't block on cache write failure)
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(bars)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to marshal bars for cache")
			return
		}
		if err := c.redis.Set(cacheCtx, cacheKey, data, c.cacheTTL).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to cache price bars")
		}
	}()

	return bars, nil
}

// Ping checks cache connectivity for health reporting
func (c *CachedPriceProvider) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
