package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngine(t *testing.T) {
	e := NewDefaultEngine()

	assert.Equal(t, domain.StyleModerate, e.DefaultStyle())
	assert.Equal(t, []domain.RiskStyle{domain.StyleAggressive, domain.StyleConservative, domain.StyleModerate}, e.Styles())

	conservative, style := e.Profile(domain.StyleConservative)
	assert.Equal(t, domain.StyleConservative, style)
	assert.Equal(t, 0.02, conservative.StrictMaxVolatility)
	assert.Equal(t, -0.04, conservative.StrictMinVaR)

	aggressive, _ := e.Profile(domain.StyleAggressive)
	assert.True(t, aggressive.RescueEnabled)
	assert.Equal(t, -0.065, aggressive.RescueMinVaR)

	_, fallback := e.Profile("yolo")
	assert.Equal(t, domain.StyleModerate, fallback)

	assert.Equal(t, 7, e.Daily().AssetSilentDays)
	assert.Equal(t, -0.05, e.Intraday().AccountDrawdown)
}

func TestParse_OverlaysYAML(t *testing.T) {
	doc := []byte(`
default_style: conservative
risk_profiles:
  moderate:
    max_volatility: 0.05
    min_var: -0.06
    score_floor: -0.8
    score_limit: -0.4
    limit_sizing_factor: 0.5
    max_trade_loss_pct: 0.03
    slippage_buffer: 0.002
intraday:
  account_drawdown: -0.04
  asset_drawdown: -0.07
  consecutive_down_days: 3
  intraday_drop: 0.08
  drawdown_3d: -0.1
  slippage: 0.005
  account_silent_days: 2
  asset_silent_days: 1
`)

	e, err := Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, domain.StyleConservative, e.DefaultStyle())
	moderate, _ := e.Profile(domain.StyleModerate)
	assert.Equal(t, 0.05, moderate.MaxVolatility)
	assert.Equal(t, "moderate", moderate.ProfileName)
	assert.Equal(t, 2, e.Intraday().AccountSilentDays)
	assert.Equal(t, DefaultDailyRules(), e.Daily())
}

func TestParse_PartialYAMLKeepsDefaults(t *testing.T) {
	doc := []byte(`
intraday:
  account_drawdown: -0.04
risk_profiles:
  conservative:
    max_volatility: 0.03
    min_var: -0.05
`)

	e, err := Parse(doc)
	require.NoError(t, err)

	want := DefaultIntradayRules()
	want.AccountDrawdown = -0.04
	assert.Equal(t, want, e.Intraday())
	assert.Equal(t, DefaultDailyRules(), e.Daily())

	conservative, _ := e.Profile(domain.StyleConservative)
	assert.Equal(t, 0.03, conservative.MaxVolatility)
	assert.Equal(t, -0.05, conservative.MinVaR)
	assert.Equal(t, 0.02, conservative.StrictMaxVolatility)
	assert.Equal(t, -0.04, conservative.StrictMinVaR)
	assert.Equal(t, 0.001, conservative.SlippageBuffer)
	assert.Equal(t, "conservative", conservative.ProfileName)

	aggressive, _ := e.Profile(domain.StyleAggressive)
	assert.Equal(t, DefaultProfiles()[domain.StyleAggressive], aggressive)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "risk_profiles: [::"},
		{"unknown default", "default_style: reckless"},
		{"positive var", "risk_profiles:\n  moderate:\n    max_volatility: 0.04\n    min_var: 0.01\n"},
		{"zero volatility", "risk_profiles:\n  moderate:\n    max_volatility: 0\n"},
		{"zero silent days", "intraday:\n  asset_silent_days: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestNewEngine_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_style: aggressive\n"), 0o644))

	e, err := NewEngine(path)
	require.NoError(t, err)
	assert.Equal(t, domain.StyleAggressive, e.DefaultStyle())

	_, err = NewEngine(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	e, err = NewEngine("")
	require.NoError(t, err)
	assert.Equal(t, domain.StyleModerate, e.DefaultStyle())
}
