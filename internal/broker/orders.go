package broker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SubmitOrderRequest carries the caller's order intent before the
// fractional policy is applied
type SubmitOrderRequest struct {
	Symbol        string
	Qty           float64
	Side          OrderSide
	Type          OrderType
	TimeInForce   TimeInForce
	LimitPrice    *float64
	StopPrice     *float64
	ClientOrderID string
}

// formatQty renders a quantity with at most 4 decimal places
func formatQty(qty float64) string {
	s := strconv.FormatFloat(roundQty(qty), 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// roundQty rounds to 4 decimals, the broker's fractional resolution
func roundQty(qty float64) float64 {
	return math.Round(qty*10000) / 10000
}

func isWholeShares(qty float64) bool {
	return qty == math.Trunc(qty)
}

// SubmitOrder applies the fractional order policy and submits the order.
//
// Quantities are rounded to 4 decimals. Non-integer quantities are rounded
// up to whole shares when fractional trading is globally off, rounded down
// to whole shares and submitted as MARKET+DAY when the asset itself is not
// fractionable, and otherwise forced to MARKET+DAY. A broker rejection
// naming fractional trading is retried exactly once with max(1, floor(qty))
// whole shares.
func (c *Client) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*OrderResult, error) {
	if req.Qty <= 0 {
		return nil, &PreconditionError{Reason: fmt.Sprintf("order quantity must be positive, got %v", req.Qty)}
	}
	if req.TimeInForce == "" {
		req.TimeInForce = TimeInForceDay
	}
	if req.Type == "" {
		req.Type = OrderTypeMarket
	}

	req.Qty = roundQty(req.Qty)
	notes := []string{}

	if !isWholeShares(req.Qty) {
		switch {
		case !c.cfg.AllowFractional:
			rounded := math.Max(1, math.Ceil(req.Qty))
			notes = append(notes, fmt.Sprintf("fractional trading disabled: rounded %s to %s shares", formatQty(req.Qty), formatQty(rounded)))
			req.Qty = rounded

		case !c.IsFractionable(ctx, req.Symbol):
			rounded := math.Max(1, math.Floor(req.Qty))
			notes = append(notes, fmt.Sprintf("%s is not fractionable: rounded %s to %s shares", req.Symbol, formatQty(req.Qty), formatQty(rounded)))
			req.Qty = rounded
			req.Type = OrderTypeMarket
			req.TimeInForce = TimeInForceDay
			req.LimitPrice = nil
			req.StopPrice = nil

		default:
			// Broker accepts fractional quantities only as market day orders
			if req.Type != OrderTypeMarket || req.TimeInForce != TimeInForceDay {
				c.log.Info().
					Str("symbol", req.Symbol).
					Str("from_type", string(req.Type)).
					Str("from_tif", string(req.TimeInForce)).
					Msg("Converting fractional order to MARKET DAY")
				notes = append(notes, "fractional order converted to market day")
			}
			req.Type = OrderTypeMarket
			req.TimeInForce = TimeInForceDay
			req.LimitPrice = nil
			req.StopPrice = nil
		}
	}

	order, err := c.postOrder(ctx, req)
	if err != nil && IsNotFractionable(err) && !isWholeShares(req.Qty) {
		fallbackQty := math.Max(1, math.Floor(req.Qty))
		c.log.Warn().
			Err(err).
			Str("symbol", req.Symbol).
			Float64("qty", req.Qty).
			Float64("fallback_qty", fallbackQty).
			Msg("Broker rejected fractional order, retrying with whole shares")
		notes = append(notes, fmt.Sprintf("broker rejected fractional quantity: retried with %s whole shares", formatQty(fallbackQty)))

		req.Qty = fallbackQty
		req.Type = OrderTypeMarket
		req.TimeInForce = TimeInForceDay
		req.LimitPrice = nil
		req.StopPrice = nil
		order, err = c.postOrder(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Float64("qty", req.Qty).
		Str("order_id", order.ID).
		Msg("Order submitted")

	return &OrderResult{Order: order, Message: strings.Join(notes, "; ")}, nil
}

// postOrder sends the POST /orders request. The client order id is passed
// through unchanged so broker-side idempotency holds across retries.
func (c *Client) postOrder(ctx context.Context, req SubmitOrderRequest) (*Order, error) {
	wire := wireOrderRequest{
		Symbol:        req.Symbol,
		Qty:           formatQty(req.Qty),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice != nil {
		wire.LimitPrice = strconv.FormatFloat(*req.LimitPrice, 'f', 2, 64)
	}
	if req.StopPrice != nil {
		wire.StopPrice = strconv.FormatFloat(*req.StopPrice, 'f', 2, 64)
	}

	var w wireOrder
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL, "/orders", "submit_order", nil, wire, &w); err != nil {
		return nil, err
	}
	return w.fromWire(), nil
}

// GetOrders lists orders filtered by status
func (c *Client) GetOrders(ctx context.Context, status string, limit int, symbols []string) ([]Order, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(symbols) > 0 {
		query.Set("symbols", strings.Join(symbols, ","))
	}

	var wires []wireOrder
	if err := c.getTrading(ctx, "/orders", "get_orders", query, &wires); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(wires))
	for i := range wires {
		orders = append(orders, *wires[i].fromWire())
	}
	return orders, nil
}

// GetOrder fetches one order by broker id
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var w wireOrder
	if err := c.getTrading(ctx, "/orders/"+orderID, "get_order", nil, &w); err != nil {
		return nil, err
	}
	return w.fromWire(), nil
}

// GetOrderByClientID fetches one order by our own client order id
func (c *Client) GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	query := url.Values{}
	query.Set("client_order_id", clientOrderID)

	var w wireOrder
	if err := c.getTrading(ctx, "/orders:by_client_order_id", "get_order", query, &w); err != nil {
		return nil, err
	}
	return w.fromWire(), nil
}

// CancelOrder cancels one open order
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, c.cfg.BaseURL, "/orders/"+orderID, "cancel_order", nil, nil, nil)
}

// CancelAllOrders cancels every open order
func (c *Client) CancelAllOrders(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, c.cfg.BaseURL, "/orders", "cancel_all_orders", nil, nil, nil)
}

// ExecuteDecision maps a portfolio-manager action onto broker verbs.
// hold and non-positive quantities are no-op successes.
func (c *Client) ExecuteDecision(ctx context.Context, symbol string, action TradeAction, qty float64, clientOrderID string) (*OrderResult, error) {
	if action == ActionHold || qty <= 0 {
		return &OrderResult{NoOp: true, Message: fmt.Sprintf("no-op: action=%s qty=%v", action, qty)}, nil
	}

	var side OrderSide
	switch action {
	case ActionBuy, ActionCover:
		side = OrderSideBuy
	case ActionSell, ActionShort:
		side = OrderSideSell
	default:
		return nil, fmt.Errorf("unknown trade action %q", action)
	}

	return c.SubmitOrder(ctx, SubmitOrderRequest{
		Symbol:        symbol,
		Qty:           qty,
		Side:          side,
		Type:          OrderTypeMarket,
		TimeInForce:   TimeInForceDay,
		ClientOrderID: clientOrderID,
	})
}
