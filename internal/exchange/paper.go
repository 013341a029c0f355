package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirillm/riskgate/internal/domain"
)

// PaperMarket рыночные данные в памяти: история закрытий и котировки дня
type PaperMarket struct {
	mu      sync.RWMutex
	history map[string][]float64
	open    map[string]float64
	last    map[string]float64
	now     func() time.Time
}

func NewPaperMarket() *PaperMarket {
	return &PaperMarket{
		history: make(map[string][]float64),
		open:    make(map[string]float64),
		last:    make(map[string]float64),
		now:     time.Now,
	}
}

// SetHistory закрытия от старых к новым; последнее становится текущей ценой и открытием дня
func (m *PaperMarket) SetHistory(symbol string, closes []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[symbol] = append([]float64(nil), closes...)
	if n := len(closes); n > 0 {
		m.open[symbol] = closes[n-1]
		m.last[symbol] = closes[n-1]
	}
}

// SetPrice текущая цена дня; открытие задается первой ценой
func (m *PaperMarket) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[symbol]; !ok {
		m.open[symbol] = price
	}
	m.last[symbol] = price
}

// CloseSession дописывает текущую цену в историю и открывает новый день
func (m *PaperMarket) CloseSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sym, price := range m.last {
		m.history[sym] = append(m.history[sym], price)
		m.open[sym] = price
	}
}

func (m *PaperMarket) GetLatestPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.last[symbol]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: no paper price for %s", domain.ErrPriceUnavailable, symbol)
	}
	return price, nil
}

func (m *PaperMarket) GetPriceHistory(_ context.Context, symbol string, days int) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[symbol]
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: no paper history for %s", domain.ErrPriceUnavailable, symbol)
	}
	if days > 0 && len(h) > days {
		h = h[len(h)-days:]
	}
	return append([]float64(nil), h...), nil
}

func (m *PaperMarket) GetIntraday(_ context.Context, symbol string) (*domain.IntradayQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last, ok := m.last[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no paper quote for %s", domain.ErrPriceUnavailable, symbol)
	}
	open := m.open[symbol]
	high, low := open, open
	if last > high {
		high = last
	}
	if last < low {
		low = last
	}
	return &domain.IntradayQuote{Symbol: symbol, Open: open, High: high, Low: low, Last: last, At: m.now()}, nil
}

// PaperBroker исполняет ордера по текущей цене PaperMarket
type PaperBroker struct {
	market *PaperMarket

	mu        sync.Mutex
	cash      float64
	positions map[string]int
}

func NewPaperBroker(market *PaperMarket, cash float64) *PaperBroker {
	return &PaperBroker{market: market, cash: cash, positions: make(map[string]int)}
}

func (b *PaperBroker) Name() string { return "paper" }

func (b *PaperBroker) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return b.market.GetLatestPrice(ctx, symbol)
}

func (b *PaperBroker) PlaceOrder(ctx context.Context, symbol string, quantity int, side domain.Action) (*domain.OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	price, err := b.market.GetLatestPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	notional := price * float64(quantity)
	switch side {
	case domain.ActionBuy:
		if notional > b.cash {
			return nil, fmt.Errorf("%w: paper cash %.2f < %.2f", domain.ErrExchangeAPI, b.cash, notional)
		}
		b.cash -= notional
		b.positions[symbol] += quantity
	case domain.ActionSell:
		if b.positions[symbol] < quantity {
			return nil, fmt.Errorf("%w: paper position %d < %d", domain.ErrPositionTooSmall, b.positions[symbol], quantity)
		}
		b.cash += notional
		b.positions[symbol] -= quantity
	default:
		return nil, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidInput, side)
	}

	return &domain.OrderResult{
		ID:        "paper-" + uuid.NewString(),
		Status:    "Filled",
		FillPrice: price,
		Timestamp: b.market.now(),
	}, nil
}

func (b *PaperBroker) GetPositions(context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.positions))
	for sym, qty := range b.positions {
		if qty > 0 {
			out[sym] = qty
		}
	}
	return out, nil
}

func (b *PaperBroker) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	cash := b.cash
	positions := make(map[string]int, len(b.positions))
	for sym, qty := range b.positions {
		positions[sym] = qty
	}
	b.mu.Unlock()

	equity := cash
	for sym, qty := range positions {
		price, err := b.market.GetLatestPrice(ctx, sym)
		if err != nil {
			return nil, err
		}
		equity += price * float64(qty)
	}
	return &domain.AccountInfo{AccountID: "paper", Cash: cash, BuyingPower: cash, Equity: equity}, nil
}
