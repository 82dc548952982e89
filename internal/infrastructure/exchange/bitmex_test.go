package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

func xbtusdContract() *domain.Contract {
	return &domain.Contract{
		Exchange:         "bitmex",
		Symbol:           "XBTUSD",
		BaseAsset:        "XBT",
		QuoteAsset:       "USD",
		PriceDecimals:    1,
		QuantityDecimals: 0,
		TickSize:         0.5,
		LotSize:          1,
		Inverse:          true,
		Multiplier:       -1,
	}
}

func TestBitmexSignMessage(t *testing.T) {
	b := NewBitmexAdapter("key", "secret", "", "", zap.NewNop())

	// The signed message is verb + path + "?" + query + expires.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("GET/api/v1/order?symbol=XBTUSD1700000000"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, b.sign("GET", "/api/v1/order", "1700000000", "symbol=XBTUSD"))
}

func TestBitmexSignMessageNoQuery(t *testing.T) {
	b := NewBitmexAdapter("key", "secret", "", "", zap.NewNop())

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("GET/api/v1/instrument/active1700000000"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, b.sign("GET", "/api/v1/instrument/active", "1700000000", ""))
}

func TestBitmexAuthHeaders(t *testing.T) {
	const secret = "test-secret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expires := r.Header.Get("api-expires")
		require.NotEmpty(t, expires)
		assert.Equal(t, "test-key", r.Header.Get("api-key"))

		message := r.Method + r.URL.Path
		if r.URL.RawQuery != "" {
			message += "?" + r.URL.RawQuery
		}
		message += expires
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(message))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("api-signature"))

		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("test-key", secret, srv.URL, "", zap.NewNop())
	_, err := b.GetBalances(context.Background())
	require.NoError(t, err)
}

func TestBitmexGetBalancesScalesSatoshis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/user/margin", r.URL.Path)
		require.Equal(t, "all", r.URL.Query().Get("currency"))
		w.Write([]byte(`[{"currency":"XBt","initMargin":0,"maintMargin":0,"marginBalance":100000000,"walletBalance":100000000,"unrealisedPnl":50000}]`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("k", "s", srv.URL, "", zap.NewNop())
	balances, err := b.GetBalances(context.Background())
	require.NoError(t, err)

	bal, ok := balances["XBt"]
	require.True(t, ok)
	assert.InDelta(t, 1.0, bal.WalletBalance, 1e-12)
	assert.InDelta(t, 0.0005, bal.UnrealizedPnl, 1e-12)
}

func TestBitmexGetTradeSizeInverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 2 XBT in satoshis.
		w.Write([]byte(`[{"currency":"XBt","walletBalance":200000000}]`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("k", "s", srv.URL, "", zap.NewNop())

	c := xbtusdContract()
	c.Multiplier = 0.5

	// 50% of 2 XBT = 1 XBT; inverse: 1 / (0.5 / 8) = 16 whole contracts.
	size, err := b.GetTradeSize(context.Background(), c, 8, 50)
	require.NoError(t, err)
	assert.Equal(t, 16.0, size)
}

func TestBitmexGetTradeSizeVanilla(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"currency":"XBt","walletBalance":200000000}]`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("k", "s", srv.URL, "", zap.NewNop())

	c := xbtusdContract()
	c.Inverse = false
	c.Multiplier = 0.5

	// 50% of 2 XBT = 1 XBT; vanilla: 1 / (0.5 * 0.25) = 8 whole contracts.
	size, err := b.GetTradeSize(context.Background(), c, 0.25, 50)
	require.NoError(t, err)
	assert.Equal(t, 8.0, size)
}

func TestBitmexGetTradeSizeNoXBtMargin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"currency":"USDt","walletBalance":100000000}]`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("k", "s", srv.URL, "", zap.NewNop())
	_, err := b.GetTradeSize(context.Background(), xbtusdContract(), 50000, 10)
	assert.ErrorIs(t, err, domain.ErrNoBalance)
}

func TestBitmexGetHistoricalCandlesReordersAndSkipsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/trade/bucketed", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("reverse"))
		assert.Equal(t, "true", q.Get("partial"))
		// Reverse order: newest first, middle bar has no trades.
		w.Write([]byte(`[
			{"timestamp":"2023-11-14T22:15:00.000Z","open":102,"high":103,"low":101,"close":102.5,"volume":7},
			{"timestamp":"2023-11-14T22:14:00.000Z","open":null,"high":0,"low":0,"close":null,"volume":0},
			{"timestamp":"2023-11-14T22:13:00.000Z","open":100,"high":101,"low":99,"close":100.5,"volume":12}
		]`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("k", "s", srv.URL, "", zap.NewNop())
	candles, err := b.GetHistoricalCandles(context.Background(), xbtusdContract(), "1m")
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 102.5, candles[1].Close)
	assert.Less(t, candles[0].Timestamp, candles[1].Timestamp)
}

func TestBitmexPlaceOrderParams(t *testing.T) {
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		query = r.URL.Query()
		w.Write([]byte(`{"orderID":"abc-123","ordStatus":"New","avgPx":0}`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("k", "s", srv.URL, "", zap.NewNop())
	status, err := b.PlaceOrder(context.Background(), xbtusdContract(), domain.OrderTypeLimit, 100.7, domain.SideShort, 50000.3, "GoodTillCancel")
	require.NoError(t, err)

	assert.Equal(t, "Sell", query["side"][0])
	assert.Equal(t, "Limit", query["ordType"][0])
	assert.Equal(t, "101", query["orderQty"][0], "quantity rounds to the lot size")
	assert.Equal(t, "50000.5", query["price"][0], "price rounds to the tick size")
	assert.Equal(t, "GoodTillCancel", query["timeInForce"][0])

	assert.Equal(t, "abc-123", status.OrderID)
	assert.Equal(t, "new", status.Status)
}

func TestBitmexGetOrderStatusScansList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"orderID":"other","ordStatus":"Filled","avgPx":49000},
			{"orderID":"abc-123","ordStatus":"Filled","avgPx":50001.5}
		]`))
	}))
	defer srv.Close()

	b := NewBitmexAdapter("k", "s", srv.URL, "", zap.NewNop())
	status, err := b.GetOrderStatus(context.Background(), xbtusdContract(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "filled", status.Status)
	assert.Equal(t, 50001.5, status.AvgPrice)

	_, err = b.GetOrderStatus(context.Background(), xbtusdContract(), "missing")
	assert.Error(t, err)
}

func TestBitmexSubscribeRecordsTopicOnce(t *testing.T) {
	b := NewBitmexAdapter("k", "s", "", "", zap.NewNop())

	require.NoError(t, b.SubscribeChannel(nil, "instrument"))
	require.NoError(t, b.SubscribeChannel(nil, "instrument"))

	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	assert.Len(t, b.topics, 1)
}
