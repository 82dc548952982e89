package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

// Signal is a strategy's directional recommendation.
type Signal int

const (
	SignalNone Signal = iota
	SignalLong
	SignalShort
)

// SignalEvaluator is the single capability distinguishing strategy variants.
// CheckSignal is invoked with the strategy lock held.
type SignalEvaluator interface {
	CheckSignal() Signal
	// EvaluateOnTick reports whether signals are checked on every tick or
	// only when a bar closes.
	EvaluateOnTick() bool
}

const (
	// fillPollInterval is the pause between order-status polls for an entry
	// the exchange has not confirmed yet.
	fillPollInterval = 2 * time.Second
	// maxFillPolls bounds the poll loop so it cannot outlive its order.
	maxFillPolls = 150
)

var strategyIDs atomic.Int64

// Strategy holds the state shared by every strategy variant: configuration,
// the candle series, the trade list and the position lifecycle. Market-data
// events arrive from the connector's stream goroutine; accessors may be
// called from any goroutine.
type Strategy struct {
	id        int64
	name      string
	connector domain.Connector
	contract  *domain.Contract
	timeframe string
	periodMs  int64

	balancePct float64
	takeProfit float64
	stopLoss   float64
	extraJSON  string

	evaluator SignalEvaluator
	log       *zap.Logger

	mu              sync.Mutex
	series          *CandleSeries
	trades          []*domain.Trade
	ongoingPosition bool
	active          bool
	pollCancel      context.CancelFunc
}

func newStrategy(name string, connector domain.Connector, contract *domain.Contract, timeframe string, balancePct, takeProfit, stopLoss float64, log *zap.Logger) (*Strategy, error) {
	periodMs, ok := domain.TimeframeMs(timeframe)
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	if contract.TickSize <= 0 || contract.LotSize <= 0 {
		return nil, fmt.Errorf("contract %s has no tick/lot size", contract.Symbol)
	}

	return &Strategy{
		id:         strategyIDs.Add(1),
		name:       name,
		connector:  connector,
		contract:   contract,
		timeframe:  timeframe,
		periodMs:   periodMs,
		balancePct: balancePct,
		takeProfit: takeProfit,
		stopLoss:   stopLoss,
		log:        log,
		series:     NewCandleSeries(periodMs, log),
	}, nil
}

func (s *Strategy) ID() int64      { return s.id }
func (s *Strategy) Symbol() string { return s.contract.Symbol }

func (s *Strategy) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Row returns the persistable configuration of this strategy instance.
func (s *Strategy) Row() domain.StrategyRow {
	return domain.StrategyRow{
		StrategyType: s.name,
		Exchange:     s.contract.Exchange,
		Symbol:       s.contract.Symbol,
		Timeframe:    s.timeframe,
		BalancePct:   s.balancePct,
		TakeProfit:   s.takeProfit,
		StopLoss:     s.stopLoss,
		ExtraParams:  s.extraJSON,
	}
}

// Trades returns a snapshot of the strategy's trade list.
func (s *Strategy) Trades() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, *t)
	}
	return out
}

// Activate seeds the candle series from historical bars and registers for
// market-data events. Activation fails when no history is available, since
// the signal logic needs a tail to evaluate.
func (s *Strategy) Activate(ctx context.Context) error {
	candles, err := s.connector.GetHistoricalCandles(ctx, s.contract, s.timeframe)
	if err != nil {
		return fmt.Errorf("loading historical candles: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("no historical candles for %s %s", s.contract.Symbol, s.timeframe)
	}

	s.mu.Lock()
	s.series.Seed(candles)
	s.active = true
	s.mu.Unlock()

	s.connector.RegisterStrategy(s.id, s)
	s.log.Info("strategy activated",
		zap.String("strategy", s.name),
		zap.String("symbol", s.contract.Symbol),
		zap.String("timeframe", s.timeframe))
	return nil
}

// Deactivate stops signal evaluation and cancels any outstanding
// order-status poll. Open trades keep their state and can still be closed
// manually through the connector.
func (s *Strategy) Deactivate() {
	s.mu.Lock()
	s.active = false
	s.releasePollLocked()
	s.mu.Unlock()

	s.connector.UnregisterStrategy(s.id)
	s.log.Info("strategy deactivated", zap.String("strategy", s.name), zap.String("symbol", s.contract.Symbol))
}

// OnPrice recomputes the running PnL of the open trade from the best bid/ask
// (bid for longs, ask for shorts, as if closing at market).
func (s *Strategy) OnPrice(bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.openTradeLocked()
	if t == nil || t.EntryPrice == nil {
		return
	}
	price := bid
	if t.Side == domain.SideShort {
		price = ask
	}
	if price > 0 {
		t.Pnl = positionPnl(t, price)
	}
}

// OnTick folds the tick into the candle series, then drives the position
// lifecycle: exit checks while a position is open, signal evaluation while
// flat.
func (s *Strategy) OnTick(price, size float64, timestamp int64) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	outcome := s.series.ApplyTick(price, size, timestamp)

	// The fill-poll goroutine writes EntryPrice under the same lock, so the
	// entry is snapshotted here rather than read again later.
	var open *domain.Trade
	var entry float64
	entryKnown := false
	if s.ongoingPosition {
		open = s.openTradeLocked()
		if open != nil && open.EntryPrice != nil {
			entry = *open.EntryPrice
			entryKnown = true
		}
	}
	s.mu.Unlock()

	if open != nil {
		// New signals are ignored while a position is open; an entry still
		// waiting for its fill has no thresholds to check yet.
		if entryKnown {
			s.checkExit(open, entry, price)
		}
		return
	}

	if outcome != TickNewCandle && !s.evaluator.EvaluateOnTick() {
		return
	}

	s.mu.Lock()
	sig := s.evaluator.CheckSignal()
	s.mu.Unlock()
	if sig != SignalNone {
		s.openPosition(sig)
	}
}

func (s *Strategy) openTradeLocked() *domain.Trade {
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].Status == "open" {
			return s.trades[i]
		}
	}
	return nil
}

// openPosition sizes and submits the entry market order and records the
// Trade. The entry price stays nil until the exchange confirms the fill.
func (s *Strategy) openPosition(sig Signal) {
	s.mu.Lock()
	last, ok := s.series.Last()
	s.mu.Unlock()
	if !ok || last.Close <= 0 {
		return
	}

	ctx := context.Background()
	size, err := s.connector.GetTradeSize(ctx, s.contract, last.Close, s.balancePct)
	if err != nil {
		s.log.Warn("trade size unavailable", zap.String("symbol", s.contract.Symbol), zap.Error(err))
		return
	}
	if size <= 0 {
		return
	}

	side := domain.SideLong
	if sig == SignalShort {
		side = domain.SideShort
	}

	order, err := s.connector.PlaceOrder(ctx, s.contract, domain.OrderTypeMarket, size, side, 0, "")
	if err != nil {
		s.log.Error("entry order failed", zap.String("symbol", s.contract.Symbol), zap.Error(err))
		return
	}

	trade := &domain.Trade{
		Time:     time.Now().UnixMilli(),
		Contract: s.contract,
		Strategy: s.name,
		Side:     side,
		EntryID:  order.OrderID,
		Quantity: size,
		Status:   "open",
	}

	s.mu.Lock()
	s.trades = append(s.trades, trade)
	s.ongoingPosition = true
	if order.Status == "filled" && order.AvgPrice > 0 {
		entry := order.AvgPrice
		trade.EntryPrice = &entry
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		s.pollCancel = cancel
		go s.pollEntryFill(ctx, trade)
	}
	s.mu.Unlock()

	s.log.Info("position opened",
		zap.String("strategy", s.name),
		zap.String("symbol", s.contract.Symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", size),
		zap.String("order_id", order.OrderID))
}

// pollEntryFill polls the entry order on a fixed interval until it is
// filled, terminally rejected, canceled via strategy deactivation, or the
// attempt budget runs out.
func (s *Strategy) pollEntryFill(ctx context.Context, trade *domain.Trade) {
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxFillPolls; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := s.connector.GetOrderStatus(context.Background(), s.contract, trade.EntryID)
		if err != nil {
			// Retryable; keep polling.
			continue
		}

		switch status.Status {
		case "filled":
			s.mu.Lock()
			if trade.EntryPrice == nil {
				entry := status.AvgPrice
				trade.EntryPrice = &entry
			}
			s.releasePollLocked()
			s.mu.Unlock()
			s.log.Info("entry fill confirmed",
				zap.String("symbol", s.contract.Symbol),
				zap.Float64("entry_price", status.AvgPrice))
			return
		case "canceled", "expired", "rejected":
			s.mu.Lock()
			if trade.Status == "open" {
				trade.Status = "closed"
				s.ongoingPosition = false
			}
			s.releasePollLocked()
			s.mu.Unlock()
			s.log.Warn("entry order did not fill",
				zap.String("symbol", s.contract.Symbol),
				zap.String("status", status.Status))
			return
		}
	}

	s.mu.Lock()
	s.releasePollLocked()
	s.mu.Unlock()
	s.log.Warn("entry fill not confirmed after max attempts",
		zap.String("symbol", s.contract.Symbol),
		zap.String("order_id", trade.EntryID))
}

// releasePollLocked cancels and clears the fill-poll context. Caller holds
// s.mu.
func (s *Strategy) releasePollLocked() {
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
}

// checkExit applies the take-profit / stop-loss thresholds, computed as
// percentage offsets from the entry price, and exits at market when hit.
// entry is the caller's locked snapshot of the trade's entry price.
func (s *Strategy) checkExit(trade *domain.Trade, entry, price float64) {
	var reason string
	switch trade.Side {
	case domain.SideLong:
		if s.takeProfit > 0 && price >= entry*(1+s.takeProfit/100) {
			reason = "take profit"
		} else if s.stopLoss > 0 && price <= entry*(1-s.stopLoss/100) {
			reason = "stop loss"
		}
	case domain.SideShort:
		if s.takeProfit > 0 && price <= entry*(1-s.takeProfit/100) {
			reason = "take profit"
		} else if s.stopLoss > 0 && price >= entry*(1+s.stopLoss/100) {
			reason = "stop loss"
		}
	}
	if reason == "" {
		return
	}

	_, err := s.connector.PlaceOrder(context.Background(), s.contract, domain.OrderTypeMarket, trade.Quantity, trade.Side.Opposite(), 0, "")
	if err != nil {
		// Exit will be retried on the next tick.
		s.log.Error("exit order failed", zap.String("symbol", s.contract.Symbol), zap.Error(err))
		return
	}

	s.mu.Lock()
	if trade.Status == "open" {
		trade.Status = "closed"
		trade.Pnl = positionPnl(trade, price)
		s.ongoingPosition = false
	}
	s.mu.Unlock()

	s.log.Info("position closed",
		zap.String("strategy", s.name),
		zap.String("symbol", s.contract.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit_price", price))
}

// positionPnl is side-aware and accounts for inverse/quanto settlement.
func positionPnl(t *domain.Trade, price float64) float64 {
	entry := *t.EntryPrice
	mult := t.Contract.Multiplier
	if mult == 0 {
		mult = 1
	}

	if t.Contract.Inverse {
		if t.Side == domain.SideLong {
			return (1/entry - 1/price) * mult * t.Quantity
		}
		return (1/price - 1/entry) * mult * t.Quantity
	}
	if t.Side == domain.SideLong {
		return (price - entry) * mult * t.Quantity
	}
	return (entry - price) * mult * t.Quantity
}
