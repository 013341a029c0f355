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
	"strconv"
	"strings"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// BybitClient брокер и источник рыночных данных поверх Bybit v5
type BybitClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	client     *http.Client
	recvWindow string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	now        func() time.Time
}

// envelope общая обертка ответов v5
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type tickerResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		LastPrice    string `json:"lastPrice"`
		PrevPrice24h string `json:"prevPrice24h"`
		HighPrice24h string `json:"highPrice24h"`
		LowPrice24h  string `json:"lowPrice24h"`
	} `json:"list"`
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

type walletResult struct {
	List []struct {
		TotalEquity           string `json:"totalEquity"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
		Coin                  []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
		} `json:"coin"`
	} `json:"list"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderQueryResult struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
		AvgPrice    string `json:"avgPrice"`
	} `json:"list"`
}

// BybitOptions лимиты клиента
type BybitOptions struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

func DefaultBybitOptions() BybitOptions {
	return BybitOptions{RequestsPerSecond: 10, Burst: 10, Timeout: 30 * time.Second}
}

func NewBybitClient(apiKey, apiSecret, baseURL string, opts BybitOptions) *BybitClient {
	if opts.RequestsPerSecond <= 0 {
		opts = DefaultBybitOptions()
	}

	st := gobreaker.Settings{Name: "bybit"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &BybitClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: opts.Timeout},
		recvWindow: domain.BybitRecvWindow,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		breaker:    gobreaker.NewCircuitBreaker(st),
		now:        time.Now,
	}
}

func (b *BybitClient) Name() string { return "bybit" }

// GetPrice текущая цена актива
func (b *BybitClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := b.ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}

// GetLatestPrice для MarketData
func (b *BybitClient) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return b.GetPrice(ctx, symbol)
}

// GetIntraday открытие берется как цена 24 часа назад
func (b *BybitClient) GetIntraday(ctx context.Context, symbol string) (*domain.IntradayQuote, error) {
	return b.ticker(ctx, symbol)
}

func (b *BybitClient) ticker(ctx context.Context, symbol string) (*domain.IntradayQuote, error) {
	params := url.Values{}
	params.Set("category", domain.BybitCategorySpot)
	params.Set("symbol", symbol)

	var res tickerResult
	if err := b.get(ctx, "/v5/market/tickers", params, false, &res); err != nil {
		return nil, err
	}
	if len(res.List) == 0 {
		return nil, fmt.Errorf("%w: no price data for symbol %s", domain.ErrExchangeAPI, symbol)
	}

	item := res.List[0]
	last, err := parseFloat(item.LastPrice)
	if err != nil || last <= 0 {
		return nil, fmt.Errorf("%w: bad last price %q for %s", domain.ErrExchangeAPI, item.LastPrice, symbol)
	}
	open, _ := parseFloat(item.PrevPrice24h)
	if open <= 0 {
		open = last
	}
	high, _ := parseFloat(item.HighPrice24h)
	low, _ := parseFloat(item.LowPrice24h)

	return &domain.IntradayQuote{
		Symbol: symbol,
		Open:   open,
		High:   high,
		Low:    low,
		Last:   last,
		At:     b.now(),
	}, nil
}

// GetPriceHistory дневные закрытия, от старых к новым
func (b *BybitClient) GetPriceHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", domain.ErrInvalidInput)
	}
	if days > 1000 {
		days = 1000
	}
	params := url.Values{}
	params.Set("category", domain.BybitCategorySpot)
	params.Set("symbol", symbol)
	params.Set("interval", "D")
	params.Set("limit", strconv.Itoa(days))

	var res klineResult
	if err := b.get(ctx, "/v5/market/kline", params, false, &res); err != nil {
		return nil, err
	}

	// Bybit отдает свечи от новых к старым
	closes := make([]float64, 0, len(res.List))
	for i := len(res.List) - 1; i >= 0; i-- {
		row := res.List[i]
		if len(row) < 5 {
			continue
		}
		c, err := parseFloat(row[4])
		if err != nil {
			return nil, fmt.Errorf("failed to parse close for %s: %w", symbol, err)
		}
		closes = append(closes, c)
	}
	return closes, nil
}

// PlaceOrder рыночный ордер; средняя цена исполнения запрашивается отдельно
func (b *BybitClient) PlaceOrder(ctx context.Context, symbol string, quantity int, side domain.Action) (*domain.OrderResult, error) {
	bybitSide := domain.BybitSideBuy
	if side == domain.ActionSell {
		bybitSide = domain.BybitSideSell
	}
	params := map[string]interface{}{
		"category":  domain.BybitCategorySpot,
		"symbol":    symbol,
		"side":      bybitSide,
		"orderType": domain.OrderTypeMarket,
		"qty":       strconv.Itoa(quantity),
	}
	if side == domain.ActionBuy {
		params["marketUnit"] = "baseCoin"
	}

	var created orderCreateResult
	if err := b.post(ctx, "/v5/order/create", params, &created); err != nil {
		return nil, err
	}

	result := &domain.OrderResult{
		ID:        created.OrderID,
		Status:    "New",
		Timestamp: b.now(),
	}

	q := url.Values{}
	q.Set("category", domain.BybitCategorySpot)
	q.Set("orderId", created.OrderID)
	var status orderQueryResult
	if err := b.get(ctx, "/v5/order/realtime", q, true, &status); err == nil && len(status.List) > 0 {
		result.Status = status.List[0].OrderStatus
		if avg, err := parseFloat(status.List[0].AvgPrice); err == nil {
			result.FillPrice = avg
		}
	}
	return result, nil
}

// GetPositions балансы монет, округленные вниз до целого
func (b *BybitClient) GetPositions(ctx context.Context) (map[string]int, error) {
	wallet, err := b.wallet(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, acc := range wallet.List {
		for _, c := range acc.Coin {
			bal, err := parseFloat(c.WalletBalance)
			if err != nil || bal < 1 {
				continue
			}
			out[c.Coin] = int(bal)
		}
	}
	return out, nil
}

func (b *BybitClient) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	wallet, err := b.wallet(ctx)
	if err != nil {
		return nil, err
	}
	if len(wallet.List) == 0 {
		return nil, fmt.Errorf("%w: empty wallet response", domain.ErrExchangeAPI)
	}
	equity, _ := parseFloat(wallet.List[0].TotalEquity)
	available, _ := parseFloat(wallet.List[0].TotalAvailableBalance)
	return &domain.AccountInfo{
		AccountID:   domain.BybitAccountUnified,
		Cash:        available,
		BuyingPower: available,
		Equity:      equity,
	}, nil
}

func (b *BybitClient) wallet(ctx context.Context) (*walletResult, error) {
	params := url.Values{}
	params.Set("accountType", domain.BybitAccountUnified)
	var res walletResult
	if err := b.get(ctx, "/v5/account/wallet-balance", params, true, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (b *BybitClient) get(ctx context.Context, endpoint string, params url.Values, signed bool, out interface{}) error {
	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+endpoint+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if signed {
		ts := strconv.FormatInt(b.now().UnixMilli(), 10)
		b.setAuthHeaders(req, ts, b.generateSignature(ts, query))
	}
	return b.do(ctx, req, out)
}

func (b *BybitClient) post(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	b.setAuthHeaders(req, ts, b.generateSignature(ts, string(body)))
	return b.do(ctx, req, out)
}

// do лимит запросов, затем вызов через circuit breaker
func (b *BybitClient) do(ctx context.Context, req *http.Request, out interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", domain.ErrInfrastructure, err)
	}

	raw, err := b.breaker.Execute(func() (interface{}, error) {
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("bybit http %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}

	var env envelope
	if err := json.Unmarshal(raw.([]byte), &env); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", domain.ErrExchangeAPI, err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("%w: %s (code %d)", domain.ErrExchangeAPI, env.RetMsg, env.RetCode)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal result: %v", domain.ErrExchangeAPI, err)
	}
	return nil
}

// generateSignature генерирует подпись для запросов (GET и POST)
func (b *BybitClient) generateSignature(timestamp, payload string) string {
	message := timestamp + b.apiKey + b.recvWindow + payload
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// setAuthHeaders устанавливает заголовки авторизации для запроса
func (b *BybitClient) setAuthHeaders(req *http.Request, timestamp, signature string) {
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", b.recvWindow)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	return strconv.ParseFloat(s, 64)
}
