package broker

import (
	"context"
	"fmt"
)

// GetQuote fetches the latest quote for a symbol
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var w wireQuote
	if err := c.getData(ctx, "/stocks/"+symbol+"/quotes/latest", "get_quote", nil, &w); err != nil {
		return nil, err
	}
	return &Quote{
		Symbol:    symbol,
		BidPrice:  w.Quote.BidPrice,
		BidSize:   w.Quote.BidSize,
		AskPrice:  w.Quote.AskPrice,
		AskSize:   w.Quote.AskSize,
		Timestamp: w.Quote.Timestamp,
	}, nil
}

// GetLastTrade fetches the latest trade print for a symbol
func (c *Client) GetLastTrade(ctx context.Context, symbol string) (*Trade, error) {
	var w wireTrade
	if err := c.getData(ctx, "/stocks/"+symbol+"/trades/latest", "get_last_trade", nil, &w); err != nil {
		return nil, err
	}
	return &Trade{
		Symbol:    symbol,
		Price:     w.Trade.Price,
		Size:      w.Trade.Size,
		Timestamp: w.Trade.Timestamp,
	}, nil
}

// GetCurrentPrice resolves a tradable price via the discovery fallback
// chain: last trade, then quote midpoint, then the open position's mark.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if trade, err := c.GetLastTrade(ctx, symbol); err == nil && trade.Price > 0 {
		return trade.Price, nil
	}

	if quote, err := c.GetQuote(ctx, symbol); err == nil && quote.BidPrice > 0 && quote.AskPrice > 0 {
		return (quote.BidPrice + quote.AskPrice) / 2, nil
	}

	if pos, err := c.GetPosition(ctx, symbol); err == nil && pos != nil && pos.CurrentPrice > 0 {
		c.log.Debug().Str("symbol", symbol).Msg("Price discovery fell back to position mark")
		return pos.CurrentPrice, nil
	}

	return 0, fmt.Errorf("no price available for %s", symbol)
}
