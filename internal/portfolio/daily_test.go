package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseDay_ReturnsAndRolls(t *testing.T) {
	p := New("t1", 1000)
	_, err := p.ApplyFill(FillInput{Action: domain.ActionBuy, Symbol: "XYZ", Quantity: 10, Price: 100, At: t0})
	require.NoError(t, err)

	market := &fakeMarket{prices: map[string]float64{}}
	day := t0
	closes := []float64{100, 95, 90, 85}
	for i, price := range closes {
		market.prices["XYZ"] = price
		require.NoError(t, p.RefreshValuation(context.Background(), market, day))
		res := p.CloseDay(day)
		assert.Equal(t, i+1, res.DailyTick)
		day = day.AddDate(0, 0, 1)
	}

	a := p.Asset("XYZ")
	assert.Equal(t, 4, a.HoldingDays)
	assert.Equal(t, []float64{95, 90, 85}, a.RecentCloses)
	assert.Equal(t, 3, a.ConsecutiveDownDays)
	assert.Equal(t, 3, p.ConsecutiveLosingDays)
	assert.InDelta(t, 850, p.PrevNetValue, 1e-9)
	assert.InDelta(t, (850.0-900)/900, p.DailyReturnPct, 1e-9)
	assert.InDelta(t, -0.15, p.MonthlyReturnPct, 1e-9)
	assert.Len(t, p.DailyReturns, 4)

	// next session: 3-day drawdown is measured against the window high
	market.prices["XYZ"] = 80
	require.NoError(t, p.RefreshValuation(context.Background(), market, day))
	assert.InDelta(t, (80.0-95)/95, a.Drawdown3D, 1e-9)
	assert.Equal(t, 4, a.ConsecutiveDownDays)

	market.prices["XYZ"] = 86
	require.NoError(t, p.RefreshValuation(context.Background(), market, day))
	assert.Zero(t, a.ConsecutiveDownDays)
}

func TestCloseDay_NewMonthResetsBaseline(t *testing.T) {
	p := New("t1", 1000)
	march := time.Date(2025, 3, 31, 21, 0, 0, 0, time.UTC)
	p.Revalue(march)
	p.CloseDay(march)

	p.Cash = 900
	p.Revalue(march)
	res := p.CloseDay(march.AddDate(0, 0, 1))
	assert.True(t, res.NewMonth)
	assert.InDelta(t, 1000, p.StartOfMonthValue, 1e-9)
	assert.InDelta(t, -0.10, res.MonthlyReturnPct, 1e-9)
	assert.InDelta(t, -0.10, res.DailyReturnPct, 1e-9)
}

func TestDaysLeftInMonth(t *testing.T) {
	tests := []struct {
		date time.Time
		want int
	}{
		{time.Date(2025, 10, 19, 17, 0, 0, 0, time.UTC), 12},
		{time.Date(2025, 2, 1, 17, 0, 0, 0, time.UTC), 27},
		{time.Date(2024, 2, 28, 17, 0, 0, 0, time.UTC), 1},
		{time.Date(2025, 10, 31, 17, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		t.Run(tt.date.Format("2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, DaysLeftInMonth(tt.date))
		})
	}
}

func TestCloseDay_FlatAssetDropsSessionWindow(t *testing.T) {
	p := New("t1", 10000)
	_, err := p.ApplyFill(FillInput{Action: domain.ActionBuy, Symbol: "XYZ", Quantity: 10, Price: 100, At: t0})
	require.NoError(t, err)

	market := &fakeMarket{prices: map[string]float64{"XYZ": 100}}
	day := t0
	require.NoError(t, p.RefreshValuation(context.Background(), market, day))
	p.CloseDay(day)

	_, err = p.ApplyFill(FillInput{Action: domain.ActionSell, Symbol: "XYZ", Quantity: 10, Price: 100, At: day})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		day = day.AddDate(0, 0, 1)
		require.NoError(t, p.RefreshValuation(context.Background(), market, day))
		p.CloseDay(day)
	}

	a := p.Asset("XYZ")
	assert.Empty(t, a.RecentCloses)
	assert.Zero(t, a.PrevPrice)
	assert.Zero(t, a.HoldingDays)

	day = day.AddDate(0, 0, 1)
	market.prices["XYZ"] = 50
	_, err = p.ApplyFill(FillInput{Action: domain.ActionBuy, Symbol: "XYZ", Quantity: 10, Price: 50, At: day})
	require.NoError(t, err)
	require.NoError(t, p.RefreshValuation(context.Background(), market, day))

	assert.Zero(t, a.Drawdown3D)
	assert.Zero(t, a.ConsecutiveDownDays)
	assert.Zero(t, a.DrawdownPct)
}
