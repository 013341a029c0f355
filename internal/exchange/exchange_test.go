package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bybitStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "NOPE" {
			_, _ = io.WriteString(w, `{"retCode":10001,"retMsg":"Not supported symbols","result":{}}`)
			return
		}
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","lastPrice":"92.5","prevPrice24h":"100","highPrice24h":"101","lowPrice24h":"91"}]}}`)
	})
	mux.HandleFunc("/v5/market/kline", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "D", r.URL.Query().Get("interval"))
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","list":[
			["3","0","0","0","103","0","0"],
			["2","0","0","0","102","0","0"],
			["1","0","0","0","101","0","0"]]}}`)
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Sell", body["side"])
		assert.Equal(t, "3", body["qty"])
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"orderId":"abc"}}`)
	})
	mux.HandleFunc("/v5/order/realtime", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"orderId":"abc","orderStatus":"Filled","avgPrice":"92.4"}]}}`)
	})
	mux.HandleFunc("/v5/account/wallet-balance", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"totalEquity":"1500","totalAvailableBalance":"1200","coin":[{"coin":"BTC","walletBalance":"2.7"},{"coin":"DUST","walletBalance":"0.1"}]}]}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBybitClient_MarketData(t *testing.T) {
	srv := bybitStub(t)
	c := NewBybitClient("key", "secret", srv.URL, DefaultBybitOptions())
	ctx := context.Background()

	price, err := c.GetLatestPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 92.5, price)

	q, err := c.GetIntraday(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Open)
	assert.Equal(t, 91.0, q.Low)

	closes, err := c.GetPriceHistory(ctx, "BTCUSDT", 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 102, 103}, closes)

	_, err = c.GetPrice(ctx, "NOPE")
	assert.True(t, errors.Is(err, domain.ErrExchangeAPI))
}

func TestBybitClient_TradingEndpoints(t *testing.T) {
	srv := bybitStub(t)
	c := NewBybitClient("key", "secret", srv.URL, DefaultBybitOptions())
	ctx := context.Background()

	res, err := c.PlaceOrder(ctx, "BTCUSDT", 3, domain.ActionSell)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ID)
	assert.Equal(t, "Filled", res.Status)
	assert.Equal(t, 92.4, res.FillPrice)

	positions, err := c.GetPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"BTC": 2}, positions)

	info, err := c.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, info.Equity)
	assert.Equal(t, 1200.0, info.Cash)
}

func TestBybitClient_BreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewBybitClient("key", "secret", srv.URL, DefaultBybitOptions())
	for i := 0; i < 5; i++ {
		_, err := c.GetPrice(context.Background(), "BTCUSDT")
		assert.True(t, errors.Is(err, domain.ErrInfrastructure))
	}
	assert.Equal(t, 3, calls)
}

func TestPaperBroker(t *testing.T) {
	market := NewPaperMarket()
	market.SetHistory("XYZ", []float64{98, 99, 100})
	broker := NewPaperBroker(market, 1000)
	ctx := context.Background()

	res, err := broker.PlaceOrder(ctx, "XYZ", 5, domain.ActionBuy)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.FillPrice)

	_, err = broker.PlaceOrder(ctx, "XYZ", 6, domain.ActionSell)
	assert.True(t, errors.Is(err, domain.ErrPositionTooSmall))

	market.SetPrice("XYZ", 90)
	info, err := broker.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 950, info.Equity, 1e-9)

	q, err := market.GetIntraday(ctx, "XYZ")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Open)
	assert.Equal(t, 90.0, q.Last)

	market.CloseSession()
	h, err := market.GetPriceHistory(ctx, "XYZ", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 90}, h)
}
