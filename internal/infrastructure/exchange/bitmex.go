package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	BitmexBaseURL        = "https://www.bitmex.com"
	BitmexWSURL          = "wss://www.bitmex.com/realtime"
	BitmexTestnetBaseURL = "https://testnet.bitmex.com"
	BitmexTestnetWSURL   = "wss://testnet.bitmex.com/realtime"
)

// BitmexAdapter implements domain.Connector for BitMEX derivatives. The
// stream delivers bulk per-instrument snapshots instead of per-symbol
// channels, so subscriptions are recorded per topic.
type BitmexAdapter struct {
	connectorState

	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client

	wsMu   sync.Mutex
	wsConn *websocket.Conn
	topics map[string]bool
}

func NewBitmexAdapter(apiKey, apiSecret, baseURL, wsURL string, log *zap.Logger) *BitmexAdapter {
	return &BitmexAdapter{
		connectorState: newConnectorState("bitmex", log),
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		baseURL:        baseURL,
		wsURL:          wsURL,
		client:         &http.Client{Timeout: 10 * time.Second},
		topics:         make(map[string]bool),
	}
}

// BitmexURLs resolves the REST and websocket endpoints for the testnet flag.
func BitmexURLs(testnet bool) (string, string) {
	if testnet {
		return BitmexTestnetBaseURL, BitmexTestnetWSURL
	}
	return BitmexBaseURL, BitmexWSURL
}

// --- REST API ---

// sign computes the BitMEX signature: HMAC-SHA256 over verb + path
// (+ "?" + query when present) + expires.
func (b *BitmexAdapter) sign(method, path, expires, query string) string {
	message := method + path
	if query != "" {
		message += "?" + query
	}
	message += expires

	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BitmexAdapter) sendRequest(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported http method %q", method)
	}

	query := ""
	if params != nil {
		query = params.Encode()
	}
	reqURL := b.baseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}

	// Requests expire 5 seconds after the local clock; the clock has to be
	// in sync with the exchange or authentication is rejected.
	expires := strconv.FormatInt(time.Now().Unix()+5, 10)
	req.Header.Set("api-expires", expires)
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("api-signature", b.sign(method, endpoint, expires, query))

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Error("bitmex connection error", zap.String("method", method), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("bitmex %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		b.log.Error("bitmex request failed", zap.String("method", method), zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("bitmex %s %s: status %d: %s", method, endpoint, resp.StatusCode, string(body))
	}

	return body, nil
}

func (b *BitmexAdapter) GetContracts(ctx context.Context) (map[string]*domain.Contract, error) {
	body, err := b.sendRequest(ctx, http.MethodGet, "/api/v1/instrument/active", nil)
	if err != nil {
		return nil, err
	}

	var instruments []struct {
		Symbol        string  `json:"symbol"`
		RootSymbol    string  `json:"rootSymbol"`
		QuoteCurrency string  `json:"quoteCurrency"`
		TickSize      float64 `json:"tickSize"`
		LotSize       float64 `json:"lotSize"`
		Multiplier    float64 `json:"multiplier"`
		IsInverse     bool    `json:"isInverse"`
		IsQuanto      bool    `json:"isQuanto"`
	}
	if err := json.Unmarshal(body, &instruments); err != nil {
		return nil, fmt.Errorf("bitmex instruments decode: %w", err)
	}

	contracts := make(map[string]*domain.Contract, len(instruments))
	for _, ins := range instruments {
		if ins.TickSize <= 0 || ins.LotSize <= 0 {
			continue
		}
		contracts[ins.Symbol] = &domain.Contract{
			Exchange:         b.name,
			Symbol:           ins.Symbol,
			BaseAsset:        ins.RootSymbol,
			QuoteAsset:       ins.QuoteCurrency,
			PriceDecimals:    StepDecimals(ins.TickSize),
			QuantityDecimals: StepDecimals(ins.LotSize),
			TickSize:         ins.TickSize,
			LotSize:          ins.LotSize,
			Inverse:          ins.IsInverse,
			Quanto:           ins.IsQuanto,
			Multiplier:       ins.Multiplier,
		}
	}

	b.setContracts(contracts)
	return contracts, nil
}

func (b *BitmexAdapter) GetBalances(ctx context.Context) (map[string]domain.Balance, error) {
	params := url.Values{}
	params.Set("currency", "all")

	body, err := b.sendRequest(ctx, http.MethodGet, "/api/v1/user/margin", params)
	if err != nil {
		return nil, err
	}

	var margins []struct {
		Currency      string  `json:"currency"`
		InitMargin    float64 `json:"initMargin"`
		MaintMargin   float64 `json:"maintMargin"`
		MarginBalance float64 `json:"marginBalance"`
		WalletBalance float64 `json:"walletBalance"`
		UnrealisedPnl float64 `json:"unrealisedPnl"`
	}
	if err := json.Unmarshal(body, &margins); err != nil {
		return nil, fmt.Errorf("bitmex margin decode: %w", err)
	}

	// Satoshi-denominated; scale to XBT.
	balances := make(map[string]domain.Balance, len(margins))
	for _, m := range margins {
		balances[m.Currency] = domain.Balance{
			InitialMargin:     m.InitMargin * domain.BitmexMultiplier,
			MaintenanceMargin: m.MaintMargin * domain.BitmexMultiplier,
			MarginBalance:     m.MarginBalance * domain.BitmexMultiplier,
			WalletBalance:     m.WalletBalance * domain.BitmexMultiplier,
			UnrealizedPnl:     m.UnrealisedPnl * domain.BitmexMultiplier,
		}
	}
	return balances, nil
}

func (b *BitmexAdapter) GetHistoricalCandles(ctx context.Context, contract *domain.Contract, timeframe string) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("binSize", timeframe)
	// partial=true includes the still-open bar with its data so far.
	params.Set("partial", "true")
	params.Set("count", "500")
	params.Set("reverse", "true")

	body, err := b.sendRequest(ctx, http.MethodGet, "/api/v1/trade/bucketed", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Timestamp time.Time `json:"timestamp"`
		Open      *float64  `json:"open"`
		High      float64   `json:"high"`
		Low       float64   `json:"low"`
		Close     *float64  `json:"close"`
		Volume    float64   `json:"volume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("bitmex candles decode: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		c := raw[i]
		// Illiquid contracts return bars with missing data.
		if c.Open == nil || c.Close == nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Timestamp: c.Timestamp.UnixMilli(),
			Open:      *c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     *c.Close,
			Volume:    c.Volume,
		})
	}
	return candles, nil
}

func (b *BitmexAdapter) GetBidAsk(ctx context.Context, contract *domain.Contract) (*domain.Price, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)

	body, err := b.sendRequest(ctx, http.MethodGet, "/api/v1/instrument", params)
	if err != nil {
		return nil, err
	}

	var instruments []struct {
		BidPrice float64 `json:"bidPrice"`
		AskPrice float64 `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &instruments); err != nil {
		return nil, fmt.Errorf("bitmex instrument decode: %w", err)
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("bitmex: no instrument data for %s", contract.Symbol)
	}

	p := b.setPrice(contract.Symbol, instruments[0].BidPrice, instruments[0].AskPrice)
	return &p, nil
}

func (b *BitmexAdapter) PlaceOrder(ctx context.Context, contract *domain.Contract, orderType string, quantity float64, side domain.Side, price float64, tif string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	if side == domain.SideLong {
		params.Set("side", "Buy")
	} else {
		params.Set("side", "Sell")
	}
	params.Set("orderQty", strconv.FormatFloat(RoundToStep(quantity, contract.LotSize), 'f', -1, 64))
	params.Set("ordType", capitalize(orderType))
	if price > 0 {
		params.Set("price", FormatPrice(RoundToStep(price, contract.TickSize), contract.PriceDecimals))
	}
	if tif != "" {
		params.Set("timeInForce", tif)
	}

	body, err := b.sendRequest(ctx, http.MethodPost, "/api/v1/order", params)
	if err != nil {
		return nil, err
	}

	var o bitmexOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("bitmex order decode: %w", err)
	}
	return o.status(), nil
}

func (b *BitmexAdapter) CancelOrder(ctx context.Context, contract *domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("orderID", orderID)

	body, err := b.sendRequest(ctx, http.MethodDelete, "/api/v1/order", params)
	if err != nil {
		return nil, err
	}

	// Cancel accepts several orders per request and returns a list.
	var orders []bitmexOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("bitmex cancel decode: %w", err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("bitmex: cancel returned no orders")
	}
	return orders[0].status(), nil
}

// GetOrderStatus scans the recent order list for the requested id; BitMEX has
// no single-order lookup.
func (b *BitmexAdapter) GetOrderStatus(ctx context.Context, contract *domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("reverse", "true")

	body, err := b.sendRequest(ctx, http.MethodGet, "/api/v1/order", params)
	if err != nil {
		return nil, err
	}

	var orders []bitmexOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("bitmex orders decode: %w", err)
	}
	for _, o := range orders {
		if o.OrderID == orderID {
			return o.status(), nil
		}
	}
	return nil, fmt.Errorf("bitmex: order %s not found", orderID)
}

type bitmexOrder struct {
	OrderID   string  `json:"orderID"`
	OrdStatus string  `json:"ordStatus"`
	AvgPx     float64 `json:"avgPx"`
}

func (o bitmexOrder) status() *domain.OrderStatus {
	return &domain.OrderStatus{
		OrderID:  o.OrderID,
		Status:   strings.ToLower(o.OrdStatus),
		AvgPrice: o.AvgPx,
	}
}

// GetTradeSize converts a percentage of the XBt margin balance into a number
// of contracts, respecting inverse and quanto settlement.
func (b *BitmexAdapter) GetTradeSize(ctx context.Context, contract *domain.Contract, price float64, balancePct float64) (float64, error) {
	balances, err := b.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	bal, ok := balances["XBt"]
	if !ok {
		return 0, domain.ErrNoBalance
	}

	xbtSize := bal.WalletBalance * balancePct / 100

	var contractsNumber float64
	if contract.Inverse {
		contractsNumber = xbtSize / (contract.Multiplier / price)
	} else {
		contractsNumber = xbtSize / (contract.Multiplier * price)
	}
	// Whole contracts only.
	contractsNumber = math.Trunc(contractsNumber)

	b.log.Info("bitmex trade size computed",
		zap.String("symbol", contract.Symbol),
		zap.Float64("xbt_balance", bal.WalletBalance),
		zap.Float64("contracts", contractsNumber))
	return contractsNumber, nil
}

// --- WebSocket ---

func (b *BitmexAdapter) StartStream() {
	go func() {
		for b.shouldReconnect() {
			conn, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
			if err != nil {
				b.log.Error("bitmex websocket dial failed", zap.Error(err))
				time.Sleep(reconnectDelay)
				continue
			}

			b.wsMu.Lock()
			b.wsConn = conn
			b.wsMu.Unlock()

			b.addLog("Bitmex websocket connection opened")
			b.resubscribe()
			b.readLoop(conn)

			b.wsMu.Lock()
			b.wsConn = nil
			b.wsMu.Unlock()

			if !b.shouldReconnect() {
				return
			}
			b.log.Warn("bitmex websocket connection closed, reconnecting")
			time.Sleep(reconnectDelay)
		}
	}()
}

func (b *BitmexAdapter) Disconnect() {
	b.stopReconnecting()
	b.wsMu.Lock()
	if b.wsConn != nil {
		b.wsConn.Close()
	}
	b.wsMu.Unlock()
}

// resubscribe re-issues recorded topics after a (re)connection. The default
// instrument and trade feeds cover every active contract at once.
func (b *BitmexAdapter) resubscribe() {
	b.wsMu.Lock()
	b.topics["instrument"] = true
	b.topics["trade"] = true
	topics := make([]string, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	b.wsMu.Unlock()

	for _, t := range topics {
		if err := b.sendSubscribe(t); err != nil {
			b.log.Error("bitmex resubscribe failed", zap.String("topic", t), zap.Error(err))
		}
	}
}

// SubscribeChannel records a topic subscription. BitMEX topics are global
// (bulk snapshots for all instruments), so contracts are ignored; duplicates
// are no-ops.
func (b *BitmexAdapter) SubscribeChannel(contracts []*domain.Contract, channel string) error {
	b.wsMu.Lock()
	already := b.topics[channel]
	b.topics[channel] = true
	b.wsMu.Unlock()

	if already {
		return nil
	}
	return b.sendSubscribe(channel)
}

func (b *BitmexAdapter) sendSubscribe(topic string) error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsConn == nil {
		return nil
	}

	frame := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{topic},
	}
	if err := b.wsConn.WriteJSON(frame); err != nil {
		b.log.Error("bitmex subscribe write failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	b.log.Info("bitmex subscribed", zap.String("topic", topic))
	return nil
}

func (b *BitmexAdapter) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.log.Warn("bitmex websocket read error", zap.Error(err))
			conn.Close()
			return
		}

		var event struct {
			Table string `json:"table"`
			Data  []struct {
				Symbol    string   `json:"symbol"`
				BidPrice  *float64 `json:"bidPrice"`
				AskPrice  *float64 `json:"askPrice"`
				Price     float64  `json:"price"`
				Size      float64  `json:"size"`
				Timestamp string   `json:"timestamp"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.log.Warn("bitmex websocket decode error", zap.Error(err))
			continue
		}

		switch event.Table {
		case "instrument":
			for _, d := range event.Data {
				b.mu.Lock()
				p := b.prices[d.Symbol]
				if d.BidPrice != nil {
					p.Bid = *d.BidPrice
				}
				if d.AskPrice != nil {
					p.Ask = *d.AskPrice
				}
				b.prices[d.Symbol] = p
				b.mu.Unlock()

				if d.BidPrice == nil && d.AskPrice == nil {
					continue
				}
				for _, h := range b.handlersFor(d.Symbol) {
					h.OnPrice(p.Bid, p.Ask)
				}
			}
		case "trade":
			for _, d := range event.Data {
				ts, err := time.Parse(time.RFC3339, d.Timestamp)
				if err != nil {
					b.log.Warn("bitmex trade timestamp parse error", zap.String("timestamp", d.Timestamp), zap.Error(err))
					continue
				}
				for _, h := range b.handlersFor(d.Symbol) {
					h.OnTick(d.Price, d.Size, ts.UnixMilli())
				}
			}
		}
	}
}
