package broker

import "time"

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the broker order types
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce represents order lifetime
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
)

// TradeAction is a portfolio-manager verb mapped onto broker orders
type TradeAction string

const (
	ActionBuy   TradeAction = "buy"
	ActionSell  TradeAction = "sell"
	ActionShort TradeAction = "short"
	ActionCover TradeAction = "cover"
	ActionHold  TradeAction = "hold"
)

// Account is the broker account snapshot
type Account struct {
	Cash              float64 `json:"cash"`
	BuyingPower       float64 `json:"buying_power"`
	Equity            float64 `json:"equity"`
	PortfolioValue    float64 `json:"portfolio_value"`
	PatternDayTrader  bool    `json:"pattern_day_trader"`
	DaytradeCount     int     `json:"daytrade_count"`
	ShortingEnabled   bool    `json:"shorting_enabled"`
	TradingBlocked    bool    `json:"trading_blocked"`
	Multiplier        float64 `json:"multiplier"`
	InitialMargin     float64 `json:"initial_margin"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
}

// Position is a read-only snapshot of a broker-held position
type Position struct {
	Symbol          string  `json:"symbol"`
	Qty             float64 `json:"qty"`
	Side            string  `json:"side"` // "long" or "short"
	AvgEntryPrice   float64 `json:"avg_entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	CostBasis       float64 `json:"cost_basis"`
	UnrealizedPL    float64 `json:"unrealized_pl"`
	UnrealizedPLPct float64 `json:"unrealized_pl_pct"`
	ChangeToday     float64 `json:"change_today"`
}

// Order mirrors the broker order record. Updated only by refresh from the
// broker.
type Order struct {
	ID             string      `json:"id"`
	ClientOrderID  string      `json:"client_order_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            float64     `json:"qty"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	Status         string      `json:"status"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	LimitPrice     *float64    `json:"limit_price,omitempty"`
	StopPrice      *float64    `json:"stop_price,omitempty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
}

// AssetInfo describes a tradable asset. Cached in-process keyed by symbol.
type AssetInfo struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Exchange          string  `json:"exchange"`
	AssetClass        string  `json:"asset_class"`
	Tradable          bool    `json:"tradable"`
	Fractionable      bool    `json:"fractionable"`
	Shortable         bool    `json:"shortable"`
	Marginable        bool    `json:"marginable"`
	MinOrderSize      float64 `json:"min_order_size"`
	MinTradeIncrement float64 `json:"min_trade_increment"`
	PriceIncrement    float64 `json:"price_increment"`
}

// Quote is the latest NBBO quote for a symbol
type Quote struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	BidSize   float64   `json:"bid_size"`
	AskPrice  float64   `json:"ask_price"`
	AskSize   float64   `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`
}

// Trade is the latest trade print for a symbol
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock is the market calendar state
type Clock struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// PDTThreshold is the regulatory equity floor for unrestricted day trading
const PDTThreshold = 25000.0

// PDTStatus is the result of the pattern-day-trader gate
type PDTStatus struct {
	IsPDT         bool    `json:"is_pdt"`
	DaytradeCount int     `json:"daytrade_count"`
	Equity        float64 `json:"equity"`
	CanDayTrade   bool    `json:"can_day_trade"`
	Warning       string  `json:"warning,omitempty"`
	PDTThreshold  float64 `json:"pdt_threshold"`
}

// OrderResult is returned from SubmitOrder and ExecuteDecision
type OrderResult struct {
	Order   *Order `json:"order,omitempty"`
	Message string `json:"message,omitempty"`
	NoOp    bool   `json:"no_op,omitempty"`
}

// PortfolioSnapshot bundles account and positions for downstream consumers
type PortfolioSnapshot struct {
	Account   Account    `json:"account"`
	Positions []Position `json:"positions"`
	Timestamp time.Time  `json:"timestamp"`
}
