package domain

// BitmexMultiplier converts satoshi-denominated BitMEX balances to XBT.
const BitmexMultiplier = 0.00000001

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the side used to exit a position.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Contract is a tradable instrument on one exchange. Instances are built once
// from exchange metadata and shared read-only after that.
type Contract struct {
	Exchange         string  `json:"exchange"`
	Symbol           string  `json:"symbol"`
	BaseAsset        string  `json:"base_asset"`
	QuoteAsset       string  `json:"quote_asset"`
	PriceDecimals    int     `json:"price_decimals"`
	QuantityDecimals int     `json:"quantity_decimals"`
	TickSize         float64 `json:"tick_size"`
	LotSize          float64 `json:"lot_size"`

	// BitMEX settlement flags. Multiplier is 1 on exchanges without it.
	Inverse    bool    `json:"inverse"`
	Quanto     bool    `json:"quanto"`
	Multiplier float64 `json:"multiplier"`
}

// Balance is a per-asset margin snapshot, normalized to base-currency units
// (BitMEX reports satoshis and is scaled by BitmexMultiplier).
type Balance struct {
	InitialMargin     float64 `json:"initial_margin"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
	MarginBalance     float64 `json:"margin_balance"`
	WalletBalance     float64 `json:"wallet_balance"`
	UnrealizedPnl     float64 `json:"unrealized_pnl"`
}

// Candle is one OHLCV bar. Timestamp is epoch milliseconds aligned to the bar
// open. Only the most recent bar of a series is mutable.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Price is the best bid/ask pair kept in the connector price cache.
type Price struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// OrderStatus is the normalized result of placing, querying or canceling an
// order. Status is lower-cased across exchanges. AvgPrice is only meaningful
// once the order is filled.
type OrderStatus struct {
	OrderID  string  `json:"order_id"`
	Status   string  `json:"status"`
	AvgPrice float64 `json:"avg_price"`
}

// Trade is one strategy-initiated position. EntryPrice stays nil until the
// exchange confirms the fill and is set at most once. Status goes from "open"
// to "closed" at most once; trades are never deleted.
type Trade struct {
	Time       int64     `json:"time"`
	Contract   *Contract `json:"contract"`
	Strategy   string    `json:"strategy"`
	Side       Side      `json:"side"`
	EntryID    string    `json:"entry_id"`
	EntryPrice *float64  `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	Pnl        float64   `json:"pnl"`
	Status     string    `json:"status"`
}

// LogEntry is a connector log line kept for the UI collaborator. Displayed
// flips to true once the entry has been handed out.
type LogEntry struct {
	Message   string `json:"message"`
	Displayed bool   `json:"displayed"`
}

// StrategyRow is the persisted form of a strategy configuration.
type StrategyRow struct {
	StrategyType string
	Exchange     string
	Symbol       string
	Timeframe    string
	BalancePct   float64
	TakeProfit   float64
	StopLoss     float64
	ExtraParams  string // JSON blob of strategy-specific parameters
}

// WatchlistRow is one watched symbol.
type WatchlistRow struct {
	Symbol   string
	Exchange string
}
