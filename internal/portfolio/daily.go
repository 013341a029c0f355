package portfolio

import "time"

// DailyResult итог закрытия торгового дня
type DailyResult struct {
	Date                  string  `json:"date"`
	NetValue              float64 `json:"net_value"`
	PrevNetValue          float64 `json:"prev_net_value"`
	DailyReturnPct        float64 `json:"daily_return_pct"`
	MonthlyReturnPct      float64 `json:"monthly_return_pct"`
	ConsecutiveLosingDays int     `json:"consecutive_losing_days"`
	NewMonth              bool    `json:"new_month"`
	PrevMonthReturnPct    float64 `json:"prev_month_return_pct"`
	DailyTick             int     `json:"daily_tick"`
}

// CloseDay фиксирует дневную и месячную доходность, сдвигает цены закрытия.
// Ожидается вызов после RefreshValuation и один раз за торговый день.
func (p *Portfolio) CloseDay(now time.Time) DailyResult {
	res := DailyResult{
		Date:         now.Format("2006-01-02"),
		NetValue:     p.CurrentNetValue,
		PrevNetValue: p.PrevNetValue,
	}

	if p.LastDailyUpdate != nil && !sameMonth(*p.LastDailyUpdate, now) {
		res.NewMonth = true
		res.PrevMonthReturnPct = p.MonthlyReturnPct
		p.StartOfMonthValue = p.PrevNetValue
	}

	if p.PrevNetValue > 0 {
		p.DailyReturnPct = (p.CurrentNetValue - p.PrevNetValue) / p.PrevNetValue
	} else {
		p.DailyReturnPct = 0
	}
	if p.StartOfMonthValue > 0 {
		p.MonthlyReturnPct = (p.CurrentNetValue - p.StartOfMonthValue) / p.StartOfMonthValue
	} else {
		p.MonthlyReturnPct = 0
	}

	p.DailyReturns = append(p.DailyReturns, p.DailyReturnPct)
	if len(p.DailyReturns) > maxDailyHistory {
		p.DailyReturns = p.DailyReturns[len(p.DailyReturns)-maxDailyHistory:]
	}
	if p.DailyReturnPct < 0 {
		p.ConsecutiveLosingDays++
	} else {
		p.ConsecutiveLosingDays = 0
	}

	for _, a := range p.Assets {
		a.closeSession()
	}

	p.PrevNetValue = p.CurrentNetValue
	p.DailyTick++
	ts := now
	p.LastDailyUpdate = &ts

	res.DailyReturnPct = p.DailyReturnPct
	res.MonthlyReturnPct = p.MonthlyReturnPct
	res.ConsecutiveLosingDays = p.ConsecutiveLosingDays
	res.DailyTick = p.DailyTick
	return res
}

// DaysLeftInMonth дни после текущего до конца месяца, минимум 1
func DaysLeftInMonth(now time.Time) int {
	firstOfNext := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
	lastDay := firstOfNext.AddDate(0, 0, -1).Day()
	if left := lastDay - now.Day(); left > 0 {
		return left
	}
	return 1
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
