package exchange

import (
	"sync"
	"time"

	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

// reconnectDelay is the fixed pause between stream reconnection attempts.
const reconnectDelay = 2 * time.Second

// connectorState is the cache and registry shared by the exchange adapters:
// the contract table, the best bid/ask cache, registered strategy handlers
// and the UI log ring. The stream goroutine writes while foreground readers
// iterate, so everything is guarded by one mutex.
type connectorState struct {
	name string
	log  *zap.Logger

	mu         sync.RWMutex
	contracts  map[string]*domain.Contract
	prices     map[string]domain.Price
	strategies map[int64]domain.StrategyHandler
	logs       []domain.LogEntry

	reconnect bool
}

func newConnectorState(name string, log *zap.Logger) connectorState {
	return connectorState{
		name:       name,
		log:        log,
		contracts:  make(map[string]*domain.Contract),
		prices:     make(map[string]domain.Price),
		strategies: make(map[int64]domain.StrategyHandler),
		reconnect:  true,
	}
}

func (c *connectorState) Name() string { return c.name }

func (c *connectorState) setContracts(contracts map[string]*domain.Contract) {
	c.mu.Lock()
	c.contracts = contracts
	c.mu.Unlock()
}

// Contracts returns a snapshot of the contract table.
func (c *connectorState) Contracts() map[string]*domain.Contract {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*domain.Contract, len(c.contracts))
	for k, v := range c.contracts {
		out[k] = v
	}
	return out
}

func (c *connectorState) Contract(symbol string) (*domain.Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.contracts[symbol]
	return ct, ok
}

func (c *connectorState) setPrice(symbol string, bid, ask float64) domain.Price {
	c.mu.Lock()
	p := domain.Price{Bid: bid, Ask: ask}
	c.prices[symbol] = p
	c.mu.Unlock()
	return p
}

// Prices returns a snapshot of the best bid/ask cache.
func (c *connectorState) Prices() map[string]domain.Price {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Price, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

func (c *connectorState) RegisterStrategy(id int64, handler domain.StrategyHandler) {
	c.mu.Lock()
	c.strategies[id] = handler
	c.mu.Unlock()
}

func (c *connectorState) UnregisterStrategy(id int64) {
	c.mu.Lock()
	delete(c.strategies, id)
	c.mu.Unlock()
}

// handlersFor copies the handlers registered for a symbol so callbacks run
// outside the lock.
func (c *connectorState) handlersFor(symbol string) []domain.StrategyHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.StrategyHandler
	for _, h := range c.strategies {
		if h.Symbol() == symbol {
			out = append(out, h)
		}
	}
	return out
}

// addLog records a message for the UI collaborator and mirrors it to zap.
func (c *connectorState) addLog(msg string) {
	c.log.Info(msg)
	c.mu.Lock()
	c.logs = append(c.logs, domain.LogEntry{Message: msg})
	c.mu.Unlock()
}

// PopLogs returns the entries not yet handed out and marks them displayed.
func (c *connectorState) PopLogs() []domain.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.LogEntry
	for i := range c.logs {
		if !c.logs[i].Displayed {
			c.logs[i].Displayed = true
			out = append(out, c.logs[i])
		}
	}
	return out
}

func (c *connectorState) shouldReconnect() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnect
}

func (c *connectorState) stopReconnecting() {
	c.mu.Lock()
	c.reconnect = false
	c.mu.Unlock()
}
