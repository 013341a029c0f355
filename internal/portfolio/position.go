package portfolio

import (
	"fmt"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
)

const sessionWindow = 3

// AssetPosition позиция и текущая статистика по одному символу
type AssetPosition struct {
	Symbol                string     `json:"symbol"`
	Position              int        `json:"position"`
	AvgPrice              float64    `json:"avg_price"`
	CurrentPrice          float64    `json:"current_price"`
	PrevPrice             float64    `json:"prev_price"`
	LowestPriceSinceEntry float64    `json:"lowest_price_since_entry"`
	DrawdownPct           float64    `json:"drawdown_pct"`
	Drawdown3D            float64    `json:"drawdown_3d"`
	ConsecutiveDownDays   int        `json:"consecutive_down_days"`
	ClosedDownDays        int        `json:"closed_down_days"`
	IntradayDropPct       float64    `json:"intraday_drop_pct"`
	RecentCloses          []float64  `json:"recent_closes"`
	HoldingDays           int        `json:"holding_days"`
	LastRealizedPnL       float64    `json:"last_realized_pnl"`
	RealizedPnL           float64    `json:"realized_pnl"`
	SilentDaysLeft        int        `json:"silent_days_left"`
	KillSwitch            bool       `json:"kill_switch"`
	LastSlippagePct       float64    `json:"last_slippage_pct"`
	EntryTime             *time.Time `json:"entry_time"`
	LastTradeTime         *time.Time `json:"last_trade_time"`
	LastPriceTime         *time.Time `json:"last_price_time"`
}

func newAssetPosition(symbol string) *AssetPosition {
	return &AssetPosition{Symbol: symbol}
}

// MarketValue position * current_price
func (a *AssetPosition) MarketValue() float64 {
	return float64(a.Position) * a.CurrentPrice
}

// Locked true если на активе висит любая блокировка
func (a *AssetPosition) Locked() bool {
	return a.KillSwitch || a.SilentDaysLeft > 0
}

// RecordTrade обновляет среднюю цену и реализованный PnL
func (a *AssetPosition) RecordTrade(action domain.Action, quantity int, price float64, at time.Time) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	}

	switch action {
	case domain.ActionBuy:
		total := a.AvgPrice*float64(a.Position) + price*float64(quantity)
		if a.Position == 0 {
			entry := at
			a.EntryTime = &entry
			a.LowestPriceSinceEntry = price
		}
		a.Position += quantity
		a.AvgPrice = total / float64(a.Position)
		if price < a.LowestPriceSinceEntry {
			a.LowestPriceSinceEntry = price
		}
		a.LastRealizedPnL = 0

	case domain.ActionSell:
		if quantity > a.Position {
			return 0, fmt.Errorf("%w: sell %d of %s, position %d", domain.ErrPositionTooSmall, quantity, a.Symbol, a.Position)
		}
		pnl := (price - a.AvgPrice) * float64(quantity)
		a.Position -= quantity
		a.LastRealizedPnL = pnl
		a.RealizedPnL += pnl
		if a.Position == 0 {
			a.resetFlat()
		}

	default:
		return 0, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action)
	}

	if a.CurrentPrice == 0 {
		a.CurrentPrice = price
	}
	ts := at
	a.LastTradeTime = &ts
	return a.LastRealizedPnL, nil
}

func (a *AssetPosition) resetFlat() {
	a.AvgPrice = 0
	a.EntryTime = nil
	a.HoldingDays = 0
	a.LowestPriceSinceEntry = 0
	a.DrawdownPct = 0
	// статистика сессий относится к закрытой позиции
	a.PrevPrice = 0
	a.RecentCloses = nil
	a.ClosedDownDays = 0
	a.ConsecutiveDownDays = 0
	a.Drawdown3D = 0
	a.IntradayDropPct = 0
}

// markPrice обновляет цену и производные метрики, идемпотентно для одной цены
func (a *AssetPosition) markPrice(price float64, at time.Time) {
	a.CurrentPrice = price
	ts := at
	a.LastPriceTime = &ts

	if a.PrevPrice == 0 {
		a.PrevPrice = price
	}
	if price < a.PrevPrice {
		a.ConsecutiveDownDays = a.ClosedDownDays + 1
	} else {
		a.ConsecutiveDownDays = 0
	}

	if a.Position > 0 && (a.LowestPriceSinceEntry == 0 || price < a.LowestPriceSinceEntry) {
		a.LowestPriceSinceEntry = price
	}

	if a.AvgPrice > 0 {
		a.DrawdownPct = (price - a.AvgPrice) / a.AvgPrice
	} else {
		a.DrawdownPct = 0
	}

	a.Drawdown3D = 0
	if high := maxOf(a.RecentCloses); high > 0 && price < high {
		a.Drawdown3D = (price - high) / high
	}
}

func (a *AssetPosition) markIntraday(q *domain.IntradayQuote) {
	a.IntradayDropPct = 0
	if q != nil && q.Open > 0 && q.Last < q.Open {
		a.IntradayDropPct = (q.Open - q.Last) / q.Open
	}
}

// closeSession фиксирует цену закрытия дня; пустые позиции окно не копят
func (a *AssetPosition) closeSession() {
	if a.Position == 0 || a.CurrentPrice <= 0 {
		return
	}
	a.ClosedDownDays = a.ConsecutiveDownDays
	a.PrevPrice = a.CurrentPrice
	a.RecentCloses = append(a.RecentCloses, a.CurrentPrice)
	if len(a.RecentCloses) > sessionWindow {
		a.RecentCloses = a.RecentCloses[len(a.RecentCloses)-sessionWindow:]
	}
	a.HoldingDays++
}

func (a *AssetPosition) clone() *AssetPosition {
	c := *a
	c.RecentCloses = append([]float64(nil), a.RecentCloses...)
	c.EntryTime = cloneTime(a.EntryTime)
	c.LastTradeTime = cloneTime(a.LastTradeTime)
	c.LastPriceTime = cloneTime(a.LastPriceTime)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func maxOf(xs []float64) float64 {
	m := 0.0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
