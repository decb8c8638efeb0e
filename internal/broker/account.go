package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// GetAccount fetches the current account snapshot
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var w wireAccount
	if err := c.getTrading(ctx, "/account", "get_account", nil, &w); err != nil {
		return nil, err
	}
	acct := w.fromWire()
	return &acct, nil
}

// GetClock fetches the market calendar state
func (c *Client) GetClock(ctx context.Context) (*Clock, error) {
	var w wireClock
	if err := c.getTrading(ctx, "/clock", "get_clock", nil, &w); err != nil {
		return nil, err
	}
	return &Clock{IsOpen: w.IsOpen, NextOpen: w.NextOpen, NextClose: w.NextClose}, nil
}

// CheckPDTStatus evaluates the pattern-day-trader gate:
// equity >= 25k always passes; below the threshold a flagged account or a
// third day trade blocks, and the second day trade passes with a warning.
func (c *Client) CheckPDTStatus(ctx context.Context) (*PDTStatus, error) {
	acct, err := c.GetAccount(ctx)
	if err != nil {
		return nil, err
	}

	status := &PDTStatus{
		IsPDT:         acct.PatternDayTrader,
		DaytradeCount: acct.DaytradeCount,
		Equity:        acct.Equity,
		PDTThreshold:  PDTThreshold,
	}

	switch {
	case acct.Equity >= PDTThreshold:
		status.CanDayTrade = true
	case acct.PatternDayTrader:
		status.CanDayTrade = false
		status.Warning = fmt.Sprintf("account flagged PDT with equity $%.2f below $%.0f", acct.Equity, PDTThreshold)
	case acct.DaytradeCount >= 3:
		status.CanDayTrade = false
		status.Warning = fmt.Sprintf("%d day trades used in the rolling window; a 4th would trigger the PDT flag", acct.DaytradeCount)
	case acct.DaytradeCount == 2:
		status.CanDayTrade = true
		status.Warning = "2 day trades used; one more before the PDT limit"
	default:
		status.CanDayTrade = true
	}

	return status, nil
}

// SyncPortfolio bundles account and positions for downstream consumers
func (c *Client) SyncPortfolio(ctx context.Context) (*PortfolioSnapshot, error) {
	acct, err := c.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	return &PortfolioSnapshot{
		Account:   *acct,
		Positions: positions,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetPositions fetches all open positions
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var wires []wirePosition
	if err := c.getTrading(ctx, "/positions", "get_positions", nil, &wires); err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(wires))
	for i := range wires {
		positions = append(positions, wires[i].fromWire())
	}
	return positions, nil
}

// GetPosition fetches one position; returns nil when none is open
func (c *Client) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	var w wirePosition
	err := c.getTrading(ctx, "/positions/"+symbol, "get_position", nil, &w)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	pos := w.fromWire()
	return &pos, nil
}

// ClosePosition submits a closing order for a position. A zero qty closes
// the whole position.
func (c *Client) ClosePosition(ctx context.Context, symbol string, qty float64) (*Order, error) {
	path := "/positions/" + symbol
	query := map[string][]string{}
	if qty > 0 {
		query["qty"] = []string{formatQty(qty)}
	}

	var w wireOrder
	if err := c.do(ctx, http.MethodDelete, c.cfg.BaseURL, path, "close_position", query, nil, &w); err != nil {
		return nil, err
	}
	return w.fromWire(), nil
}

// CloseAllPositions liquidates everything
func (c *Client) CloseAllPositions(ctx context.Context) ([]Order, error) {
	var wires []wireOrder
	if err := c.do(ctx, http.MethodDelete, c.cfg.BaseURL, "/positions", "close_all_positions", nil, nil, &wires); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(wires))
	for i := range wires {
		orders = append(orders, *wires[i].fromWire())
	}
	return orders, nil
}
