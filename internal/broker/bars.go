package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/quantpilot/quantpilot/internal/market"
)

// wireBar is one daily bar in the market data API's compact encoding
type wireBar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type wireBarsPage struct {
	Bars          []wireBar `json:"bars"`
	Symbol        string    `json:"symbol"`
	NextPageToken *string   `json:"next_page_token"`
}

const barsPageLimit = 1000

// GetBars fetches daily bars for a symbol over [start, end], following
// pagination. Results are ordered ascending by date.
func (c *Client) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]market.PriceBar, error) {
	var bars []market.PriceBar
	var pageToken string

	for {
		query := url.Values{}
		query.Set("timeframe", "1Day")
		query.Set("start", start.UTC().Format(time.RFC3339))
		query.Set("end", end.UTC().Format(time.RFC3339))
		query.Set("limit", fmt.Sprintf("%d", barsPageLimit))
		query.Set("adjustment", "raw")
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var page wireBarsPage
		err := c.do(ctx, http.MethodGet, c.cfg.DataURL, "/stocks/"+symbol+"/bars", "get_bars", query, nil, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
		}

		for _, wb := range page.Bars {
			bars = append(bars, market.PriceBar{
				Date:   wb.Timestamp,
				Open:   wb.Open,
				High:   wb.High,
				Low:    wb.Low,
				Close:  wb.Close,
				Volume: wb.Volume,
			})
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			return bars, nil
		}
		pageToken = *page.NextPageToken
	}
}

// GetPrices implements market.PriceProvider over the daily bars endpoint
func (c *Client) GetPrices(ctx context.Context, ticker string, start, end time.Time) ([]market.PriceBar, error) {
	return c.GetBars(ctx, ticker, start, end)
}
