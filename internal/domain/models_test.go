package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTradeIntent_Validation(t *testing.T) {
	valid := IntentParams{TenantID: "t1", Symbol: " xyz ", Action: ActionBuy, Quantity: 10}

	tests := []struct {
		name   string
		mutate func(p *IntentParams)
		ok     bool
	}{
		{"valid", func(p *IntentParams) {}, true},
		{"missing tenant", func(p *IntentParams) { p.TenantID = "" }, false},
		{"missing symbol", func(p *IntentParams) { p.Symbol = "  " }, false},
		{"bad action", func(p *IntentParams) { p.Action = "hold" }, false},
		{"zero quantity", func(p *IntentParams) { p.Quantity = 0 }, false},
		{"negative quantity", func(p *IntentParams) { p.Quantity = -5 }, false},
		{"bad source", func(p *IntentParams) { p.Source = "robot" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			intent, err := NewTradeIntent(p, time.Now())
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, intent.ID)
			assert.Equal(t, "XYZ", intent.Symbol)
			assert.Equal(t, SourceManual, intent.Source)
		})
	}
}

func TestTradeIntent_ApprovalOnce(t *testing.T) {
	intent, err := NewTradeIntent(IntentParams{TenantID: "t1", Symbol: "XYZ", Action: ActionSell, Quantity: 1}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, intent.Approval())

	require.NoError(t, intent.AttachApproval(ApprovalDecision{Approved: true, Quantity: 1}))
	err = intent.AttachApproval(ApprovalDecision{Approved: false})
	assert.True(t, errors.Is(err, ErrApprovalAlreadySet))
	assert.True(t, intent.Approval().Approved)
}

func TestTradeIntent_MissingID(t *testing.T) {
	intent := &TradeIntent{TenantID: "t1", Symbol: "XYZ", Action: ActionBuy, Quantity: 1, Source: SourceManual}
	assert.True(t, errors.Is(intent.Validate(), ErrInvalidInput))
}

func TestMatchReason(t *testing.T) {
	tests := map[string]ReasonCode{
		"Silent mode active on AAPL":   ReasonSilentMode,
		"score below floor":            ReasonLowScore,
		"Volatility too high":          ReasonVolExceed,
		"Not enough capital":           ReasonInsufficientCash,
		"strategy throttled":           ReasonStrategyThrottled,
		"sell quantity exceeds":        ReasonPositionTooSmall,
		"something else entirely":      ReasonUnknown,
		"killswitch enforced by admin": ReasonKillSwitch,
	}
	for text, want := range tests {
		t.Run(text, func(t *testing.T) {
			assert.Equal(t, want, MatchReason(text))
		})
	}
	assert.Equal(t, "Market is closed", ReasonMarketClosed.Text())
	assert.True(t, TriggerAccountDD5.Known())
}
