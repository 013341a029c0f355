package portfolio

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
)

const maxDailyHistory = 60

// Portfolio агрегат одного тенанта; все изменения только через методы
type Portfolio struct {
	TenantID              string                    `json:"tenant_id"`
	Cash                  float64                   `json:"cash"`
	Assets                map[string]*AssetPosition `json:"assets"`
	SilentDaysLeft        int                       `json:"silent_days_left"`
	KillSwitch            bool                      `json:"kill_switch"`
	AccountPeakValue      float64                   `json:"account_peak_value"`
	CurrentNetValue       float64                   `json:"current_net_value"`
	AccountDrawdownPct    float64                   `json:"account_drawdown_pct"`
	PrevNetValue          float64                   `json:"prev_net_value"`
	StartOfMonthValue     float64                   `json:"start_of_month_value"`
	DailyReturnPct        float64                   `json:"daily_return_pct"`
	MonthlyReturnPct      float64                   `json:"monthly_return_pct"`
	DailyReturns          []float64                 `json:"daily_returns"`
	ConsecutiveLosingDays int                       `json:"consecutive_losing_days"`
	DailyTick             int                       `json:"daily_tick"`
	LastUpdated           *time.Time                `json:"last_updated"`
	LastDailyUpdate       *time.Time                `json:"last_daily_update"`
}

// New портфель с начальным капиталом
func New(tenantID string, cash float64) *Portfolio {
	return &Portfolio{
		TenantID:          tenantID,
		Cash:              cash,
		Assets:            make(map[string]*AssetPosition),
		AccountPeakValue:  cash,
		CurrentNetValue:   cash,
		PrevNetValue:      cash,
		StartOfMonthValue: cash,
	}
}

// Asset nil если символ не отслеживается
func (p *Portfolio) Asset(symbol string) *AssetPosition {
	return p.Assets[symbol]
}

// EnsureAsset создает запись символа при необходимости
func (p *Portfolio) EnsureAsset(symbol string) *AssetPosition {
	if p.Assets == nil {
		p.Assets = make(map[string]*AssetPosition)
	}
	a, ok := p.Assets[symbol]
	if !ok {
		a = newAssetPosition(symbol)
		p.Assets[symbol] = a
	}
	return a
}

func (p *Portfolio) Position(symbol string) int {
	if a := p.Assets[symbol]; a != nil {
		return a.Position
	}
	return 0
}

// HeldSymbols символы с ненулевой позицией, отсортированы
func (p *Portfolio) HeldSymbols() []string {
	out := make([]string, 0, len(p.Assets))
	for sym, a := range p.Assets {
		if a.Position > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Symbols все отслеживаемые символы, отсортированы
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Assets))
	for sym := range p.Assets {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// FillInput исполненная сделка для применения к портфелю
type FillInput struct {
	Action      domain.Action
	Symbol      string
	Quantity    int
	Price       float64 // цена исполнения, уже со слиппеджем
	SlippagePct float64
	Commission  float64
	At          time.Time
}

// ApplyFill меняет кэш и позицию; возвращает реализованный PnL
func (p *Portfolio) ApplyFill(f FillInput) (float64, error) {
	if f.Action == domain.ActionSell && f.Quantity > p.Position(f.Symbol) {
		return 0, fmt.Errorf("%w: sell %d of %s, position %d", domain.ErrPositionTooSmall, f.Quantity, f.Symbol, p.Position(f.Symbol))
	}

	a := p.EnsureAsset(f.Symbol)
	realized, err := a.RecordTrade(f.Action, f.Quantity, f.Price, f.At)
	if err != nil {
		return 0, err
	}

	notional := float64(f.Quantity) * f.Price
	if f.Action == domain.ActionBuy {
		p.Cash -= notional + f.Commission
	} else {
		p.Cash += notional - f.Commission
	}
	a.LastSlippagePct = f.SlippagePct
	a.CurrentPrice = f.Price

	p.Revalue(f.At)
	return realized, nil
}

// RefreshValuation тянет цены по удерживаемым активам и пересчитывает метрики
func (p *Portfolio) RefreshValuation(ctx context.Context, market domain.MarketData, now time.Time) error {
	for _, sym := range p.HeldSymbols() {
		price, err := market.GetLatestPrice(ctx, sym)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrPriceUnavailable, sym, err)
		}
		if price <= 0 {
			return fmt.Errorf("%w: %s: non-positive price %.4f", domain.ErrPriceUnavailable, sym, price)
		}
		quote, err := market.GetIntraday(ctx, sym)
		if err != nil {
			return fmt.Errorf("%w: intraday %s: %v", domain.ErrPriceUnavailable, sym, err)
		}

		a := p.Assets[sym]
		a.markPrice(price, now)
		a.markIntraday(quote)
	}

	p.Revalue(now)
	return nil
}

// Revalue пересчитывает net value, пик и просадку счета без запросов цен
func (p *Portfolio) Revalue(now time.Time) {
	net := p.Cash
	for _, a := range p.Assets {
		net += a.MarketValue()
	}
	p.CurrentNetValue = net

	if net > p.AccountPeakValue {
		p.AccountPeakValue = net
	}
	if p.AccountPeakValue > 0 && net < p.AccountPeakValue {
		p.AccountDrawdownPct = (net - p.AccountPeakValue) / p.AccountPeakValue
	} else {
		p.AccountDrawdownPct = 0
	}

	ts := now
	p.LastUpdated = &ts
}

// Locked блокировка на уровне счета
func (p *Portfolio) Locked() bool {
	return p.KillSwitch || p.SilentDaysLeft > 0
}

// Clone глубокая копия для аудита и отчетов
func (p *Portfolio) Clone() *Portfolio {
	c := *p
	c.Assets = make(map[string]*AssetPosition, len(p.Assets))
	for sym, a := range p.Assets {
		c.Assets[sym] = a.clone()
	}
	c.DailyReturns = append([]float64(nil), p.DailyReturns...)
	c.LastUpdated = cloneTime(p.LastUpdated)
	c.LastDailyUpdate = cloneTime(p.LastDailyUpdate)
	return &c
}

// Snapshot компактный срез для аудит-записей
type Snapshot struct {
	Cash               float64                  `json:"cash"`
	NetValue           float64                  `json:"net_value"`
	PeakValue          float64                  `json:"peak_value"`
	AccountDrawdownPct float64                  `json:"account_drawdown_pct"`
	SilentDaysLeft     int                      `json:"silent_days_left"`
	KillSwitch         bool                     `json:"kill_switch"`
	Positions          map[string]AssetSnapshot `json:"positions"`
}

type AssetSnapshot struct {
	Position       int     `json:"position"`
	AvgPrice       float64 `json:"avg_price"`
	CurrentPrice   float64 `json:"current_price"`
	DrawdownPct    float64 `json:"drawdown_pct"`
	SilentDaysLeft int     `json:"silent_days_left"`
	KillSwitch     bool    `json:"kill_switch"`
}

func (p *Portfolio) Snapshot() Snapshot {
	s := Snapshot{
		Cash:               p.Cash,
		NetValue:           p.CurrentNetValue,
		PeakValue:          p.AccountPeakValue,
		AccountDrawdownPct: p.AccountDrawdownPct,
		SilentDaysLeft:     p.SilentDaysLeft,
		KillSwitch:         p.KillSwitch,
		Positions:          make(map[string]AssetSnapshot, len(p.Assets)),
	}
	for sym, a := range p.Assets {
		if a.Position == 0 && !a.Locked() {
			continue
		}
		s.Positions[sym] = AssetSnapshot{
			Position:       a.Position,
			AvgPrice:       a.AvgPrice,
			CurrentPrice:   a.CurrentPrice,
			DrawdownPct:    a.DrawdownPct,
			SilentDaysLeft: a.SilentDaysLeft,
			KillSwitch:     a.KillSwitch,
		}
	}
	return s
}
