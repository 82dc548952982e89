package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	BinanceBaseURL        = "https://fapi.binance.com"
	BinanceWSURL          = "wss://fstream.binance.com/ws"
	BinanceTestnetBaseURL = "https://testnet.binancefuture.com"
	BinanceTestnetWSURL   = "wss://stream.binancefuture.com/ws"

	// Binance rejects connections carrying more than 200 stream names.
	binanceMaxStreams = 200
)

// BinanceAdapter implements domain.Connector for Binance USDT-M futures.
type BinanceAdapter struct {
	connectorState

	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client

	wsMu   sync.Mutex
	wsConn *websocket.Conn
	wsID   int
	subs   map[string]map[string]bool // channel -> symbol set
}

func NewBinanceAdapter(apiKey, apiSecret, baseURL, wsURL string, log *zap.Logger) *BinanceAdapter {
	return &BinanceAdapter{
		connectorState: newConnectorState("binance", log),
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		baseURL:        baseURL,
		wsURL:          wsURL,
		client:         &http.Client{Timeout: 10 * time.Second},
		wsID:           1,
		subs: map[string]map[string]bool{
			"bookTicker": {},
			"aggTrade":   {},
		},
	}
}

// BinanceURLs resolves the REST and websocket endpoints for the testnet flag.
func BinanceURLs(testnet bool) (string, string) {
	if testnet {
		return BinanceTestnetBaseURL, BinanceTestnetWSURL
	}
	return BinanceBaseURL, BinanceWSURL
}

// --- REST API ---

func (b *BinanceAdapter) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// sendRequest issues a call with the parameters in the query string. Signed
// endpoints get a local-clock timestamp (must be in sync with the exchange)
// and an HMAC-SHA256 signature over the encoded query.
func (b *BinanceAdapter) sendRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported http method %q", method)
	}

	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + b.sign(query)
	}

	reqURL := b.baseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Error("binance connection error", zap.String("method", method), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("binance %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		b.log.Error("binance request failed", zap.String("method", method), zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("binance %s %s: status %d: %s", method, endpoint, resp.StatusCode, string(body))
	}

	return body, nil
}

func (b *BinanceAdapter) GetContracts(ctx context.Context) (map[string]*domain.Contract, error) {
	body, err := b.sendRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}

	var info struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			BaseAsset         string `json:"baseAsset"`
			QuoteAsset        string `json:"quoteAsset"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("binance exchangeInfo decode: %w", err)
	}

	contracts := make(map[string]*domain.Contract, len(info.Symbols))
	for _, s := range info.Symbols {
		c := &domain.Contract{
			Exchange:         b.name,
			Symbol:           s.Symbol,
			BaseAsset:        s.BaseAsset,
			QuoteAsset:       s.QuoteAsset,
			PriceDecimals:    s.PricePrecision,
			QuantityDecimals: s.QuantityPrecision,
			Multiplier:       1,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				c.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				c.LotSize = parseFloat(f.StepSize)
			}
		}
		if c.TickSize <= 0 || c.LotSize <= 0 {
			continue
		}
		contracts[s.Symbol] = c
	}

	b.setContracts(contracts)
	return contracts, nil
}

func (b *BinanceAdapter) GetBalances(ctx context.Context) (map[string]domain.Balance, error) {
	body, err := b.sendRequest(ctx, http.MethodGet, "/fapi/v2/account", url.Values{}, true)
	if err != nil {
		return nil, err
	}

	var account struct {
		Assets []struct {
			Asset            string `json:"asset"`
			InitialMargin    string `json:"initialMargin"`
			MaintMargin      string `json:"maintMargin"`
			MarginBalance    string `json:"marginBalance"`
			WalletBalance    string `json:"walletBalance"`
			UnrealizedProfit string `json:"unrealizedProfit"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("binance account decode: %w", err)
	}

	balances := make(map[string]domain.Balance, len(account.Assets))
	for _, a := range account.Assets {
		balances[a.Asset] = domain.Balance{
			InitialMargin:     parseFloat(a.InitialMargin),
			MaintenanceMargin: parseFloat(a.MaintMargin),
			MarginBalance:     parseFloat(a.MarginBalance),
			WalletBalance:     parseFloat(a.WalletBalance),
			UnrealizedPnl:     parseFloat(a.UnrealizedProfit),
		}
	}
	return balances, nil
}

func (b *BinanceAdapter) GetHistoricalCandles(ctx context.Context, contract *domain.Contract, timeframe string) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("interval", timeframe)
	params.Set("limit", "1000")

	body, err := b.sendRequest(ctx, http.MethodGet, "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, err
	}

	// Kline rows mix numbers and strings: [openTime, "o", "h", "l", "c", "v", ...]
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance klines decode: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, r := range raw {
		if len(r) < 6 {
			continue
		}
		ts, ok := r[0].(float64)
		if !ok {
			continue
		}
		candles = append(candles, domain.Candle{
			Timestamp: int64(ts),
			Open:      toFloat(r[1]),
			High:      toFloat(r[2]),
			Low:       toFloat(r[3]),
			Close:     toFloat(r[4]),
			Volume:    toFloat(r[5]),
		})
	}
	return candles, nil
}

func (b *BinanceAdapter) GetBidAsk(ctx context.Context, contract *domain.Contract) (*domain.Price, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)

	body, err := b.sendRequest(ctx, http.MethodGet, "/fapi/v1/ticker/bookTicker", params, false)
	if err != nil {
		return nil, err
	}

	var book struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("binance bookTicker decode: %w", err)
	}

	p := b.setPrice(contract.Symbol, parseFloat(book.BidPrice), parseFloat(book.AskPrice))
	return &p, nil
}

func (b *BinanceAdapter) PlaceOrder(ctx context.Context, contract *domain.Contract, orderType string, quantity float64, side domain.Side, price float64, tif string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	if side == domain.SideLong {
		params.Set("side", "BUY")
	} else {
		params.Set("side", "SELL")
	}
	params.Set("quantity", strconv.FormatFloat(RoundToStep(quantity, contract.LotSize), 'f', -1, 64))
	params.Set("type", strings.ToUpper(orderType))
	if price > 0 {
		params.Set("price", FormatPrice(RoundToStep(price, contract.TickSize), contract.PriceDecimals))
	}
	if tif != "" {
		params.Set("timeInForce", tif)
	}

	body, err := b.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	return decodeBinanceOrder(body)
}

func (b *BinanceAdapter) CancelOrder(ctx context.Context, contract *domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("orderId", orderID)

	body, err := b.sendRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	return decodeBinanceOrder(body)
}

func (b *BinanceAdapter) GetOrderStatus(ctx context.Context, contract *domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("orderId", orderID)

	body, err := b.sendRequest(ctx, http.MethodGet, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	return decodeBinanceOrder(body)
}

func decodeBinanceOrder(body []byte) (*domain.OrderStatus, error) {
	var o struct {
		OrderID  int64  `json:"orderId"`
		Status   string `json:"status"`
		AvgPrice string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("binance order decode: %w", err)
	}
	return &domain.OrderStatus{
		OrderID:  strconv.FormatInt(o.OrderID, 10),
		Status:   strings.ToLower(o.Status),
		AvgPrice: parseFloat(o.AvgPrice),
	}, nil
}

// GetTradeSize converts a percentage of the quote-asset balance into a
// quantity rounded to the contract lot size.
func (b *BinanceAdapter) GetTradeSize(ctx context.Context, contract *domain.Contract, price float64, balancePct float64) (float64, error) {
	balances, err := b.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	bal, ok := balances[contract.QuoteAsset]
	if !ok {
		return 0, domain.ErrNoBalance
	}

	size := (bal.WalletBalance * balancePct / 100) / price
	size = RoundToStep(size, contract.LotSize)

	b.log.Info("binance trade size computed",
		zap.String("symbol", contract.Symbol),
		zap.Float64("balance", bal.WalletBalance),
		zap.Float64("size", size))
	return size, nil
}

// --- WebSocket ---

// StartStream launches the stream goroutine: dial, read until failure,
// reconnect after a fixed delay until Disconnect is called.
func (b *BinanceAdapter) StartStream() {
	go func() {
		for b.shouldReconnect() {
			conn, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
			if err != nil {
				b.log.Error("binance websocket dial failed", zap.Error(err))
				time.Sleep(reconnectDelay)
				continue
			}

			b.wsMu.Lock()
			b.wsConn = conn
			b.wsMu.Unlock()

			b.addLog("Binance websocket connection opened")
			b.resubscribe()
			b.readLoop(conn)

			b.wsMu.Lock()
			b.wsConn = nil
			b.wsMu.Unlock()

			if !b.shouldReconnect() {
				return
			}
			b.log.Warn("binance websocket connection closed, reconnecting")
			time.Sleep(reconnectDelay)
		}
	}()
}

func (b *BinanceAdapter) Disconnect() {
	b.stopReconnecting()
	b.wsMu.Lock()
	if b.wsConn != nil {
		b.wsConn.Close()
	}
	b.wsMu.Unlock()
}

// resubscribe re-issues every recorded subscription after a (re)connection,
// so subscribers never have to repair drops themselves. BTCUSDT bookTicker is
// always kept for the watchlist default.
func (b *BinanceAdapter) resubscribe() {
	b.wsMu.Lock()
	frames := make(map[string][]string)
	for channel, symbols := range b.subs {
		for symbol := range symbols {
			frames[channel] = append(frames[channel], symbol)
		}
	}
	if !b.subs["bookTicker"]["BTCUSDT"] {
		if _, ok := b.Contract("BTCUSDT"); ok {
			b.subs["bookTicker"]["BTCUSDT"] = true
			frames["bookTicker"] = append(frames["bookTicker"], "BTCUSDT")
		}
	}
	b.wsMu.Unlock()

	for channel, symbols := range frames {
		sort.Strings(symbols)
		if err := b.sendSubscribe(symbols, channel); err != nil {
			b.log.Error("binance resubscribe failed", zap.String("channel", channel), zap.Error(err))
		}
	}
}

// SubscribeChannel records and issues a stream subscription. Duplicate
// (symbol, channel) pairs are no-ops; exceeding the per-connection stream
// limit is surfaced as a warning, not a failure.
func (b *BinanceAdapter) SubscribeChannel(contracts []*domain.Contract, channel string) error {
	if channel != "bookTicker" && channel != "aggTrade" {
		return fmt.Errorf("unknown binance channel %q", channel)
	}

	b.wsMu.Lock()
	var symbols []string
	total := len(b.subs["bookTicker"]) + len(b.subs["aggTrade"])
	for _, c := range contracts {
		if b.subs[channel][c.Symbol] {
			continue
		}
		b.subs[channel][c.Symbol] = true
		symbols = append(symbols, c.Symbol)
		total++
	}
	b.wsMu.Unlock()

	if total > binanceMaxStreams {
		b.addLog(fmt.Sprintf("Binance: %d streams subscribed, above the %d per-connection limit; subscribe only for watched symbols and running strategies", total, binanceMaxStreams))
	}
	if len(symbols) == 0 {
		return nil
	}
	return b.sendSubscribe(symbols, channel)
}

func (b *BinanceAdapter) sendSubscribe(symbols []string, channel string) error {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, strings.ToLower(s)+"@"+channel)
	}

	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsConn == nil {
		// Not connected yet; the recorded subscription is flushed on connect.
		return nil
	}

	frame := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     b.wsID,
	}
	b.wsID++

	if err := b.wsConn.WriteJSON(frame); err != nil {
		b.log.Error("binance subscribe write failed", zap.Error(err))
		return err
	}
	b.log.Info("binance subscribed", zap.Strings("streams", params))
	return nil
}

// readLoop decodes inbound frames until the connection fails. A malformed
// message is logged and skipped, never tears down the connection.
func (b *BinanceAdapter) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.log.Warn("binance websocket read error", zap.Error(err))
			conn.Close()
			return
		}

		var event struct {
			Event     string `json:"e"`
			Symbol    string `json:"s"`
			Bid       string `json:"b"`
			Ask       string `json:"a"`
			UpdateID  int64  `json:"u"`
			BestAskQ  string `json:"A"`
			Price     string `json:"p"`
			Quantity  string `json:"q"`
			TradeTime int64  `json:"T"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.log.Warn("binance websocket decode error", zap.Error(err))
			continue
		}

		// Spot book tickers carry no event name; normalize like futures.
		if event.Event == "" && event.UpdateID != 0 && event.BestAskQ != "" {
			event.Event = "bookTicker"
		}

		switch event.Event {
		case "bookTicker":
			bid, ask := parseFloat(event.Bid), parseFloat(event.Ask)
			b.setPrice(event.Symbol, bid, ask)
			for _, h := range b.handlersFor(event.Symbol) {
				h.OnPrice(bid, ask)
			}
		case "aggTrade":
			for _, h := range b.handlersFor(event.Symbol) {
				h.OnTick(parseFloat(event.Price), parseFloat(event.Quantity), event.TradeTime)
			}
		}
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	default:
		return 0
	}
}
