package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestRiskSignalSet_Score(t *testing.T) {
	tests := []struct {
		name string
		in   SignalInputs
		want float64
	}{
		{
			name: "neutral at pivots",
			in:   SignalInputs{Regime: RegimeNeutral, Volatility: ptr(0.02), VaR: ptr(-0.03), CVaR: ptr(-0.04)},
			want: 0.0,
		},
		{
			name: "bull at pivots",
			in:   SignalInputs{Regime: RegimeBull, Volatility: ptr(0.02), VaR: ptr(-0.03), CVaR: ptr(-0.04)},
			want: 0.4,
		},
		{
			name: "bear with deep var",
			in:   SignalInputs{Regime: RegimeBear, Volatility: ptr(0.02), VaR: ptr(-0.10), CVaR: ptr(-0.04)},
			want: -2.15,
		},
		{
			name: "high volatility",
			in:   SignalInputs{Regime: RegimeNeutral, Volatility: ptr(0.03), VaR: ptr(-0.03), CVaR: ptr(-0.04)},
			want: -0.25,
		},
		{
			name: "missing inputs contribute zero",
			in:   SignalInputs{Regime: RegimeBull},
			want: 0.4,
		},
		{
			name: "only var present",
			in:   SignalInputs{VaR: ptr(-0.05)},
			want: -0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRiskSignalSet(tt.in)
			assert.InDelta(t, tt.want, s.Score(), 1e-9)
			assert.Equal(t, s.Score(), NewRiskSignalSet(tt.in).Score())
		})
	}
}

func TestRiskSignalSet_Empty(t *testing.T) {
	s := EmptySignals()
	assert.Equal(t, RegimeNeutral, s.Regime())
	assert.Equal(t, 0.0, s.Score())
	_, ok := s.Volatility()
	assert.False(t, ok)
}

func TestRiskSignalSet_WithRecomputes(t *testing.T) {
	base := Signals(RegimeNeutral, 0.02, -0.03, -0.04)
	worse := base.WithVaR(-0.10)

	assert.Equal(t, 0.0, base.Score(), "original must not change")
	assert.InDelta(t, -1.75, worse.Score(), 1e-9)

	bull := worse.WithRegime(RegimeBull)
	assert.InDelta(t, -1.35, bull.Score(), 1e-9)
}

func TestRiskSignalSet_InputsAreCopied(t *testing.T) {
	vol := 0.02
	s := NewRiskSignalSet(SignalInputs{Volatility: &vol})
	vol = 0.5

	got, ok := s.Volatility()
	require.True(t, ok)
	assert.Equal(t, 0.02, got)
}

func TestRiskSignalSet_JSONRecomputesScore(t *testing.T) {
	raw := []byte(`{"regime":"Bull","volatility":0.02,"var":-0.03,"cvar":null,"score":99}`)

	var s RiskSignalSet
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, RegimeBull, s.Regime())
	assert.InDelta(t, 0.4, s.Score(), 1e-9)

	_, ok := s.CVaR()
	assert.False(t, ok)
}
