package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_Terminal(t *testing.T) {
	terminal := []TradeLifecycleState{
		StateExecuted, StateExecutedAuditFailed, StateRejected, StateBlocked,
		StateError, StateCancelled, StateSkipped, StateTimeout,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []TradeLifecycleState{StateInit, StateApproved, StateHeld} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []TradeLifecycleState
		wantErr bool
	}{
		{"happy path", []TradeLifecycleState{StateApproved, StateExecuted}, false},
		{"audit failed", []TradeLifecycleState{StateApproved, StateExecutedAuditFailed}, false},
		{"rejected", []TradeLifecycleState{StateRejected}, false},
		{"held then timeout", []TradeLifecycleState{StateHeld, StateHeld, StateTimeout}, false},
		{"terminal is final", []TradeLifecycleState{StateRejected, StateApproved}, true},
		{"executed is final", []TradeLifecycleState{StateApproved, StateExecuted, StateExecutedAuditFailed}, true},
		{"cannot skip approval", []TradeLifecycleState{StateExecuted}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle(time.Now())
			var err error
			for _, s := range tt.path {
				if err = lc.Transition(s, time.Now()); err != nil {
					break
				}
			}
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], lc.State())
			assert.Len(t, lc.History(), len(tt.path)+1)
		})
	}
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, "EXEC_OK", StateExecuted.StatusCode())
	assert.Equal(t, "EXEC_AUDIT_FAIL", StateExecutedAuditFailed.StatusCode())
	assert.Equal(t, "REJ_SILENT_MODE", StatusCodeFor(StateBlocked, ReasonSilentMode))
	assert.Equal(t, "REJ_KILLSWITCH", StatusCodeFor(StateBlocked, ReasonKillSwitch))
	assert.Equal(t, "UNKNOWN", TradeLifecycleState("bogus").StatusCode())
}
