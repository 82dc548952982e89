package domain

import "context"

// Order types shared by the connectors.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// StrategyHandler receives market-data events for one contract. Implemented
// by the strategy engine, invoked from the connector's stream goroutine.
type StrategyHandler interface {
	Symbol() string
	// OnTick feeds one raw trade tick (price, size, epoch ms timestamp).
	OnTick(price, size float64, timestamp int64)
	// OnPrice feeds a best bid/ask update for PnL tracking.
	OnPrice(bid, ask float64)
}

// Connector is the uniform capability set implemented once per exchange. REST
// and decode failures return an error; callers treat them as retryable and
// must distinguish "no result" from a legitimate empty result.
type Connector interface {
	Name() string

	GetContracts(ctx context.Context) (map[string]*Contract, error)
	GetBalances(ctx context.Context) (map[string]Balance, error)
	GetHistoricalCandles(ctx context.Context, contract *Contract, timeframe string) ([]Candle, error)
	GetBidAsk(ctx context.Context, contract *Contract) (*Price, error)

	// PlaceOrder rounds price to the contract tick size and quantity to the
	// lot size before submission. price <= 0 means no price (market orders).
	PlaceOrder(ctx context.Context, contract *Contract, orderType string, quantity float64, side Side, price float64, tif string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, contract *Contract, orderID string) (*OrderStatus, error)
	GetOrderStatus(ctx context.Context, contract *Contract, orderID string) (*OrderStatus, error)

	// GetTradeSize converts a percentage of the margin-asset balance into a
	// contract quantity rounded to the lot size. ErrNoBalance when the margin
	// asset is absent.
	GetTradeSize(ctx context.Context, contract *Contract, price float64, balancePct float64) (float64, error)

	// SubscribeChannel is idempotent per (symbol, channel) pair and re-issued
	// automatically after a reconnection.
	SubscribeChannel(contracts []*Contract, channel string) error

	RegisterStrategy(id int64, handler StrategyHandler)
	UnregisterStrategy(id int64)

	// Read accessors for the UI collaborator.
	Contracts() map[string]*Contract
	Contract(symbol string) (*Contract, bool)
	Prices() map[string]Price
	PopLogs() []LogEntry

	Disconnect()
}

// WorkspaceRepository persists strategy configurations and the watchlist. The
// core populates the in-memory structures; the repository does the I/O.
type WorkspaceRepository interface {
	SaveStrategies(ctx context.Context, rows []StrategyRow) error
	LoadStrategies(ctx context.Context) ([]StrategyRow, error)
	SaveWatchlist(ctx context.Context, rows []WatchlistRow) error
	LoadWatchlist(ctx context.Context) ([]WatchlistRow, error)
}
