package trigger

import (
	"sort"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/portfolio"
)

// AssetFlags метрики и сработавшие правила по одному символу
type AssetFlags struct {
	Symbol              string              `json:"symbol"`
	Position            int                 `json:"position"`
	DrawdownPct         float64             `json:"drawdown_pct"`
	Drawdown3D          float64             `json:"drawdown_3d"`
	ConsecutiveDownDays int                 `json:"consecutive_down_days"`
	IntradayDropPct     float64             `json:"intraday_drop_pct"`
	SlippagePct         float64             `json:"slippage_pct"`
	Flags               []domain.ReasonCode `json:"flags,omitempty"`
	Frozen              bool                `json:"frozen"`
	SilentDaysLeft      int                 `json:"silent_days_left"`
}

// Report результат прогона движка; идет в periodic_scan / daily_summary
type Report struct {
	TenantID              string                `json:"tenant_id"`
	Source                string                `json:"source"`
	At                    time.Time             `json:"at"`
	NetValue              float64               `json:"net_value"`
	PeakValue             float64               `json:"peak_value"`
	AccountDrawdownPct    float64               `json:"account_drawdown_pct"`
	DailyReturnPct        float64               `json:"daily_return_pct"`
	MonthlyReturnPct      float64               `json:"monthly_return_pct"`
	ConsecutiveLosingDays int                   `json:"consecutive_losing_days"`
	AccountFlags          []domain.ReasonCode   `json:"account_flags,omitempty"`
	AccountFrozen         bool                  `json:"account_frozen"`
	AccountSilentDaysLeft int                   `json:"account_silent_days_left"`
	Assets                map[string]AssetFlags `json:"assets"`
}

func newReport(p *portfolio.Portfolio, source string, at time.Time) *Report {
	return &Report{
		TenantID:              p.TenantID,
		Source:                source,
		At:                    at,
		NetValue:              p.CurrentNetValue,
		PeakValue:             p.AccountPeakValue,
		AccountDrawdownPct:    p.AccountDrawdownPct,
		DailyReturnPct:        p.DailyReturnPct,
		MonthlyReturnPct:      p.MonthlyReturnPct,
		ConsecutiveLosingDays: p.ConsecutiveLosingDays,
		Assets:                make(map[string]AssetFlags),
	}
}

func assetFlags(a *portfolio.AssetPosition) AssetFlags {
	return AssetFlags{
		Symbol:              a.Symbol,
		Position:            a.Position,
		DrawdownPct:         a.DrawdownPct,
		Drawdown3D:          a.Drawdown3D,
		ConsecutiveDownDays: a.ConsecutiveDownDays,
		IntradayDropPct:     a.IntradayDropPct,
		SlippagePct:         a.LastSlippagePct,
	}
}

// Triggered все коды, по которым реально включилась блокировка
func (r *Report) Triggered() []domain.ReasonCode {
	var out []domain.ReasonCode
	if r.AccountFrozen {
		out = append(out, r.AccountFlags...)
	}
	for _, sym := range r.symbols() {
		if f := r.Assets[sym]; f.Frozen {
			out = append(out, f.Flags...)
		}
	}
	return out
}

// Flagged все коды, включая те, где скоуп уже был заморожен
func (r *Report) Flagged() []domain.ReasonCode {
	out := append([]domain.ReasonCode(nil), r.AccountFlags...)
	for _, sym := range r.symbols() {
		out = append(out, r.Assets[sym].Flags...)
	}
	return out
}

func (r *Report) symbols() []string {
	syms := make([]string, 0, len(r.Assets))
	for sym := range r.Assets {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}
