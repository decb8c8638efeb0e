package broker

import (
	"strconv"
	"time"
)

// Alpaca serializes every numeric field as a string on the wire. These
// records mirror the raw JSON; conversion to the typed structs happens in
// the fromWire helpers.

type wireAccount struct {
	Cash              string `json:"cash"`
	BuyingPower       string `json:"buying_power"`
	Equity            string `json:"equity"`
	PortfolioValue    string `json:"portfolio_value"`
	PatternDayTrader  bool   `json:"pattern_day_trader"`
	DaytradeCount     int    `json:"daytrade_count"`
	ShortingEnabled   bool   `json:"shorting_enabled"`
	TradingBlocked    bool   `json:"trading_blocked"`
	Multiplier        string `json:"multiplier"`
	InitialMargin     string `json:"initial_margin"`
	MaintenanceMargin string `json:"maintenance_margin"`
}

type wirePosition struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	CurrentPrice   string `json:"current_price"`
	MarketValue    string `json:"market_value"`
	CostBasis      string `json:"cost_basis"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
	ChangeToday    string `json:"change_today"`
}

type wireOrder struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Qty            string     `json:"qty"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice string     `json:"filled_avg_price"`
	Status         string     `json:"status"`
	TimeInForce    string     `json:"time_in_force"`
	LimitPrice     string     `json:"limit_price"`
	StopPrice      string     `json:"stop_price"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

type wireAsset struct {
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Exchange          string `json:"exchange"`
	Class             string `json:"class"`
	Tradable          bool   `json:"tradable"`
	Fractionable      bool   `json:"fractionable"`
	Shortable         bool   `json:"shortable"`
	Marginable        bool   `json:"marginable"`
	MinOrderSize      string `json:"min_order_size"`
	MinTradeIncrement string `json:"min_trade_increment"`
	PriceIncrement    string `json:"price_increment"`
}

type wireQuote struct {
	Quote struct {
		BidPrice  float64   `json:"bp"`
		BidSize   float64   `json:"bs"`
		AskPrice  float64   `json:"ap"`
		AskSize   float64   `json:"as"`
		Timestamp time.Time `json:"t"`
	} `json:"quote"`
	Symbol string `json:"symbol"`
}

type wireTrade struct {
	Trade struct {
		Price     float64   `json:"p"`
		Size      float64   `json:"s"`
		Timestamp time.Time `json:"t"`
	} `json:"trade"`
	Symbol string `json:"symbol"`
}

type wireClock struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// wireOrderRequest is the POST /orders payload. Numeric fields go out as
// strings per the broker contract.
type wireOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// parseFloat tolerates empty strings, which the broker sends for unset
// numeric fields
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func (w *wireAccount) fromWire() Account {
	return Account{
		Cash:              parseFloat(w.Cash),
		BuyingPower:       parseFloat(w.BuyingPower),
		Equity:            parseFloat(w.Equity),
		PortfolioValue:    parseFloat(w.PortfolioValue),
		PatternDayTrader:  w.PatternDayTrader,
		DaytradeCount:     w.DaytradeCount,
		ShortingEnabled:   w.ShortingEnabled,
		TradingBlocked:    w.TradingBlocked,
		Multiplier:        parseFloat(w.Multiplier),
		InitialMargin:     parseFloat(w.InitialMargin),
		MaintenanceMargin: parseFloat(w.MaintenanceMargin),
	}
}

func (w *wirePosition) fromWire() Position {
	return Position{
		Symbol:          w.Symbol,
		Qty:             parseFloat(w.Qty),
		Side:            w.Side,
		AvgEntryPrice:   parseFloat(w.AvgEntryPrice),
		CurrentPrice:    parseFloat(w.CurrentPrice),
		MarketValue:     parseFloat(w.MarketValue),
		CostBasis:       parseFloat(w.CostBasis),
		UnrealizedPL:    parseFloat(w.UnrealizedPL),
		UnrealizedPLPct: parseFloat(w.UnrealizedPLPC) * 100,
		ChangeToday:     parseFloat(w.ChangeToday),
	}
}

func (w *wireOrder) fromWire() *Order {
	return &Order{
		ID:             w.ID,
		ClientOrderID:  w.ClientOrderID,
		Symbol:         w.Symbol,
		Side:           OrderSide(w.Side),
		Type:           OrderType(w.Type),
		Qty:            parseFloat(w.Qty),
		FilledQty:      parseFloat(w.FilledQty),
		FilledAvgPrice: parseFloat(w.FilledAvgPrice),
		Status:         w.Status,
		TimeInForce:    TimeInForce(w.TimeInForce),
		LimitPrice:     parseFloatPtr(w.LimitPrice),
		StopPrice:      parseFloatPtr(w.StopPrice),
		SubmittedAt:    w.SubmittedAt,
		FilledAt:       w.FilledAt,
	}
}

func (w *wireAsset) fromWire() AssetInfo {
	return AssetInfo{
		Symbol:            w.Symbol,
		Name:              w.Name,
		Exchange:          w.Exchange,
		AssetClass:        w.Class,
		Tradable:          w.Tradable,
		Fractionable:      w.Fractionable,
		Shortable:         w.Shortable,
		Marginable:        w.Marginable,
		MinOrderSize:      parseFloat(w.MinOrderSize),
		MinTradeIncrement: parseFloat(w.MinTradeIncrement),
		PriceIncrement:    parseFloat(w.PriceIncrement),
	}
}
