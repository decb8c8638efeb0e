// Package market defines the price-series contract the strategy engine
// consumes and a cached decorator for any provider implementation.
package market

import (
	"context"
	"time"
)

// PriceBar is one daily OHLCV bar. Immutable.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceProvider returns bars ordered ascending by date. Fewer bars than the
// requested range is normal (weekends, holidays).
type PriceProvider interface {
	GetPrices(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error)
}

// PriceProviderFunc adapts a function to the PriceProvider interface
type PriceProviderFunc func(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error)

// GetPrices implements PriceProvider
func (f PriceProviderFunc) GetPrices(ctx context.Context, ticker string, start, end time.Time) ([]PriceBar, error) {
	return f(ctx, ticker, start, end)
}
