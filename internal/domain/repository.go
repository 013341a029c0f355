package domain

import "context"

// Broker узкий интерфейс брокера
type Broker interface {
	Name() string
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, symbol string, quantity int, side Action) (*OrderResult, error)
	GetPositions(ctx context.Context) (map[string]int, error)
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
}

// MarketData источник рыночных данных
type MarketData interface {
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	GetPriceHistory(ctx context.Context, symbol string, days int) ([]float64, error)
	GetIntraday(ctx context.Context, symbol string) (*IntradayQuote, error)
}
