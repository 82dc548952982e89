package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

// StrategyInstance is what the workspace (and the UI collaborator) sees of a
// running strategy, regardless of its signal variant.
type StrategyInstance interface {
	domain.StrategyHandler
	ID() int64
	Row() domain.StrategyRow
	Activate(ctx context.Context) error
	Deactivate()
	Active() bool
	Trades() []domain.Trade
}

// Workspace owns the watchlist and the strategy instances across connectors,
// and round-trips both through the WorkspaceRepository. It is the write
// surface exposed to the UI collaborator.
type Workspace struct {
	repo       domain.WorkspaceRepository
	connectors map[string]domain.Connector
	log        *zap.Logger

	mu         sync.Mutex
	watchlist  []domain.WatchlistRow
	strategies map[int64]StrategyInstance
}

func NewWorkspace(repo domain.WorkspaceRepository, connectors map[string]domain.Connector, log *zap.Logger) *Workspace {
	return &Workspace{
		repo:       repo,
		connectors: connectors,
		log:        log,
		strategies: make(map[int64]StrategyInstance),
	}
}

func (w *Workspace) connector(name string) (domain.Connector, error) {
	c, ok := w.connectors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange %q", name)
	}
	return c, nil
}

// marketChannels maps an exchange to its price and trade stream channels.
func marketChannels(exchange string) (priceChannel, tradeChannel string) {
	if exchange == "bitmex" {
		return "instrument", "trade"
	}
	return "bookTicker", "aggTrade"
}

// AddSymbol puts a contract on the watchlist and subscribes its price feed.
func (w *Workspace) AddSymbol(exchange, symbol string) error {
	conn, err := w.connector(exchange)
	if err != nil {
		return err
	}
	contract, ok := conn.Contract(symbol)
	if !ok {
		return fmt.Errorf("unknown contract %s on %s", symbol, exchange)
	}

	w.mu.Lock()
	for _, row := range w.watchlist {
		if row.Exchange == exchange && row.Symbol == symbol {
			w.mu.Unlock()
			return nil
		}
	}
	w.watchlist = append(w.watchlist, domain.WatchlistRow{Symbol: symbol, Exchange: exchange})
	w.mu.Unlock()

	priceChannel, _ := marketChannels(exchange)
	return conn.SubscribeChannel([]*domain.Contract{contract}, priceChannel)
}

func (w *Workspace) RemoveSymbol(exchange, symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, row := range w.watchlist {
		if row.Exchange == exchange && row.Symbol == symbol {
			w.watchlist = append(w.watchlist[:i], w.watchlist[i+1:]...)
			return
		}
	}
}

// Watchlist returns a snapshot of the watched symbols.
func (w *Workspace) Watchlist() []domain.WatchlistRow {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.WatchlistRow, len(w.watchlist))
	copy(out, w.watchlist)
	return out
}

// CreateStrategy builds an inactive strategy instance from a configuration
// row. Unknown strategy types and timeframes are configuration errors.
func (w *Workspace) CreateStrategy(row domain.StrategyRow) (StrategyInstance, error) {
	conn, err := w.connector(row.Exchange)
	if err != nil {
		return nil, err
	}
	contract, ok := conn.Contract(row.Symbol)
	if !ok {
		return nil, fmt.Errorf("unknown contract %s on %s", row.Symbol, row.Exchange)
	}

	var inst StrategyInstance
	switch strings.ToLower(row.StrategyType) {
	case "technical":
		params := TechnicalParams{RsiLength: 14, EmaFast: 12, EmaSlow: 26, EmaSignal: 9}
		if row.ExtraParams != "" {
			if err := json.Unmarshal([]byte(row.ExtraParams), &params); err != nil {
				return nil, fmt.Errorf("technical params decode: %w", err)
			}
		}
		inst, err = NewTechnicalStrategy(conn, contract, row.Timeframe, row.BalancePct, row.TakeProfit, row.StopLoss, params, w.log)
	case "breakout":
		var params BreakoutParams
		if row.ExtraParams != "" {
			if err := json.Unmarshal([]byte(row.ExtraParams), &params); err != nil {
				return nil, fmt.Errorf("breakout params decode: %w", err)
			}
		}
		inst, err = NewBreakoutStrategy(conn, contract, row.Timeframe, row.BalancePct, row.TakeProfit, row.StopLoss, params, w.log)
	default:
		return nil, fmt.Errorf("unsupported strategy type %q", row.StrategyType)
	}
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.strategies[inst.ID()] = inst
	w.mu.Unlock()
	return inst, nil
}

// ActivateStrategy loads history, registers the strategy for stream events
// and subscribes the price and trade channels of its contract.
func (w *Workspace) ActivateStrategy(ctx context.Context, id int64) error {
	w.mu.Lock()
	inst, ok := w.strategies[id]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown strategy %d", id)
	}

	if err := inst.Activate(ctx); err != nil {
		return err
	}

	row := inst.Row()
	conn, err := w.connector(row.Exchange)
	if err != nil {
		return err
	}
	contract, ok := conn.Contract(row.Symbol)
	if !ok {
		return fmt.Errorf("unknown contract %s on %s", row.Symbol, row.Exchange)
	}

	priceChannel, tradeChannel := marketChannels(row.Exchange)
	if err := conn.SubscribeChannel([]*domain.Contract{contract}, priceChannel); err != nil {
		return err
	}
	return conn.SubscribeChannel([]*domain.Contract{contract}, tradeChannel)
}

func (w *Workspace) DeactivateStrategy(id int64) error {
	w.mu.Lock()
	inst, ok := w.strategies[id]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown strategy %d", id)
	}
	inst.Deactivate()
	return nil
}

// Strategies returns the instances sorted by id.
func (w *Workspace) Strategies() []StrategyInstance {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]StrategyInstance, 0, len(w.strategies))
	for _, s := range w.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Save persists the strategy configurations and the watchlist.
func (w *Workspace) Save(ctx context.Context) error {
	strategies := w.Strategies()
	rows := make([]domain.StrategyRow, 0, len(strategies))
	for _, s := range strategies {
		rows = append(rows, s.Row())
	}
	if err := w.repo.SaveStrategies(ctx, rows); err != nil {
		return fmt.Errorf("saving strategies: %w", err)
	}
	if err := w.repo.SaveWatchlist(ctx, w.Watchlist()); err != nil {
		return fmt.Errorf("saving watchlist: %w", err)
	}
	return nil
}

// Load restores the saved workspace. Rows referring to contracts that no
// longer exist are logged and skipped, not fatal.
func (w *Workspace) Load(ctx context.Context) error {
	strategyRows, err := w.repo.LoadStrategies(ctx)
	if err != nil {
		return fmt.Errorf("loading strategies: %w", err)
	}
	for _, row := range strategyRows {
		if _, err := w.CreateStrategy(row); err != nil {
			w.log.Warn("skipping saved strategy", zap.String("symbol", row.Symbol), zap.Error(err))
		}
	}

	watchlistRows, err := w.repo.LoadWatchlist(ctx)
	if err != nil {
		return fmt.Errorf("loading watchlist: %w", err)
	}
	for _, row := range watchlistRows {
		if err := w.AddSymbol(row.Exchange, row.Symbol); err != nil {
			w.log.Warn("skipping saved watchlist symbol", zap.String("symbol", row.Symbol), zap.Error(err))
		}
	}
	return nil
}
