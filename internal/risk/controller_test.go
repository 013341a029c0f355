package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntent(t *testing.T, action domain.Action, qty int) *domain.TradeIntent {
	t.Helper()
	intent, err := domain.NewTradeIntent(domain.IntentParams{
		TenantID: "t1", Symbol: "XYZ", Action: action, Quantity: qty,
	}, time.Now())
	require.NoError(t, err)
	return intent
}

func flatCommission(int, float64) float64 { return 1 }

func TestApproveTrade_Sell(t *testing.T) {
	c := NewController(nil, policy.NewDefaultEngine(), flatCommission)
	signals := domain.Signals(domain.RegimeBear, 0.5, -0.5, -0.5)

	tests := []struct {
		name     string
		qty      int
		position int
		approved bool
	}{
		{"covered", 5, 10, true},
		{"exact", 10, 10, true},
		{"oversell", 11, 10, false},
		{"flat", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.ApproveTrade(newIntent(t, domain.ActionSell, tt.qty), signals, domain.StyleConservative, TradeContext{Position: tt.position})
			assert.Equal(t, tt.approved, d.Approved)
			if tt.approved {
				assert.Equal(t, tt.qty, d.Quantity)
				return
			}
			assert.Equal(t, domain.ReasonPositionTooSmall, d.ReasonCode)
			assert.Zero(t, d.Quantity)
		})
	}
}

func TestApproveTrade_BuyScenarios(t *testing.T) {
	c := NewController(nil, policy.NewDefaultEngine(), flatCommission)
	tc := TradeContext{Cash: 100000, Price: 100, NetValue: 100000}

	tests := []struct {
		name     string
		style    domain.RiskStyle
		signals  domain.RiskSignalSet
		qty      int
		approved bool
		code     domain.ReasonCode
		sizing   int
	}{
		{
			name:     "moderate pivots approve",
			style:    domain.StyleModerate,
			signals:  domain.Signals(domain.RegimeNeutral, 0.02, -0.03, -0.04),
			qty:      10,
			approved: true,
			sizing:   10,
		},
		{
			name:    "conservative deep var",
			style:   domain.StyleConservative,
			signals: domain.Signals(domain.RegimeNeutral, 0.02, -0.10, -0.04),
			qty:     10,
			code:    domain.ReasonVaRViolation,
		},
		{
			name:    "conservative tightens volatility",
			style:   domain.StyleConservative,
			signals: domain.Signals(domain.RegimeBull, 0.025, -0.03, -0.04),
			qty:     10,
			code:    domain.ReasonVolExceed,
		},
		{
			name:     "moderate accepts same volatility",
			style:    domain.StyleModerate,
			signals:  domain.Signals(domain.RegimeBull, 0.025, -0.03, -0.04),
			qty:      10,
			approved: true,
			sizing:   10,
		},
		{
			name:    "moderate rejects high volatility",
			style:   domain.StyleModerate,
			signals: domain.Signals(domain.RegimeNeutral, 0.05, -0.03, -0.04),
			qty:     10,
			code:    domain.ReasonVolExceed,
		},
		{
			name:     "aggressive rescues high volatility with reduced size",
			style:    domain.StyleAggressive,
			signals:  domain.Signals(domain.RegimeBull, 0.045, -0.03, -0.04),
			qty:      10,
			approved: true,
			sizing:   2,
		},
		{
			name:    "aggressive cannot rescue extreme var",
			style:   domain.StyleAggressive,
			signals: domain.Signals(domain.RegimeNeutral, 0.02, -0.07, -0.04),
			qty:     10,
			code:    domain.ReasonVaRViolation,
		},
		{
			name:     "low score limits sizing",
			style:    domain.StyleModerate,
			signals:  domain.Signals(domain.RegimeBear, 0.02, -0.03, -0.04),
			qty:      10,
			approved: true,
			sizing:   5,
		},
		{
			name:    "score below floor",
			style:   domain.StyleModerate,
			signals: domain.Signals(domain.RegimeBear, 0.03, -0.03, -0.04),
			qty:     10,
			code:    domain.ReasonLowScore,
		},
		{
			name:    "insufficient cash",
			style:   domain.StyleAggressive,
			signals: domain.Signals(domain.RegimeBull, 0.01, -0.01, -0.02),
			qty:     1000,
			code:    domain.ReasonInsufficientCash,
		},
		{
			name:     "missing signals do not reject",
			style:    domain.StyleConservative,
			signals:  domain.EmptySignals(),
			qty:      1,
			approved: true,
			sizing:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.ApproveTrade(newIntent(t, domain.ActionBuy, tt.qty), tt.signals, tt.style, tc)
			assert.Equal(t, tt.approved, d.Approved, d.Reason)
			assert.Equal(t, tt.code, d.ReasonCode)
			assert.Equal(t, tt.sizing, d.Quantity)
			assert.Equal(t, tt.style, d.RiskStyle)
			assert.Equal(t, tt.signals.Score(), d.Score)
		})
	}
}

func TestApproveTrade_MaxLoss(t *testing.T) {
	c := NewController(nil, policy.NewDefaultEngine(), flatCommission)
	signals := domain.Signals(domain.RegimeBull, 0.01, -0.02, -0.04)

	d := c.ApproveTrade(newIntent(t, domain.ActionBuy, 100), signals, domain.StyleModerate,
		TradeContext{Cash: 100000, Price: 100, NetValue: 10000})
	assert.False(t, d.Approved)
	assert.Equal(t, domain.ReasonMaxLossExceed, d.ReasonCode)
}

func TestApproveTrade_UnknownStyleFallsBack(t *testing.T) {
	c := NewController(nil, policy.NewDefaultEngine(), nil)
	d := c.ApproveTrade(newIntent(t, domain.ActionBuy, 1), domain.EmptySignals(), "unknown",
		TradeContext{Cash: 1000, Price: 10, NetValue: 1000})
	assert.True(t, d.Approved)
	assert.Equal(t, domain.StyleModerate, d.RiskStyle)
}

func TestApproveTrade_NoPrice(t *testing.T) {
	c := NewController(nil, nil, nil)
	d := c.ApproveTrade(newIntent(t, domain.ActionBuy, 1), domain.EmptySignals(), domain.StyleModerate,
		TradeContext{Cash: 1000})
	assert.False(t, d.Approved)
	assert.Equal(t, domain.ReasonUnknown, d.ReasonCode)
}

type stubSource struct {
	signals domain.RiskSignalSet
	err     error
}

func (s stubSource) Estimate(context.Context, string) (domain.RiskSignalSet, error) {
	return s.signals, s.err
}

func TestEvaluate(t *testing.T) {
	want := domain.Signals(domain.RegimeBull, 0.01, -0.02, -0.03)
	c := NewController(stubSource{signals: want}, nil, nil)

	got, err := c.Evaluate(context.Background(), "t1", "XYZ")
	require.NoError(t, err)
	assert.Equal(t, want.Score(), got.Score())

	c = NewController(stubSource{signals: domain.EmptySignals(), err: domain.ErrPriceUnavailable}, nil, nil)
	_, err = c.Evaluate(context.Background(), "t1", "XYZ")
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))
}
