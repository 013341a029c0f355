package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	calls int
	err   error
}

func (s *recordingSink) MirrorAudit(context.Context, string, domain.Category, string, []byte) error {
	s.calls++
	return s.err
}

var at = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func newTrail(t *testing.T, sinks ...Sink) *Trail {
	t.Helper()
	trail, err := NewTrail(t.TempDir(), time.UTC, nil, sinks...)
	require.NoError(t, err)
	return trail
}

func decision(intentID, status string, code domain.ReasonCode) DecisionRecord {
	return DecisionRecord{
		RecordedAt: at,
		TenantID:   "t1",
		Intent:     &domain.TradeIntent{ID: intentID, TenantID: "t1", Symbol: "XYZ", Action: domain.ActionBuy, Quantity: 1},
		Execution:  ExecutionSection{Status: status, ReasonCode: code},
	}
}

func TestTrail_AppendPartitions(t *testing.T) {
	sink := &recordingSink{}
	trail := newTrail(t, sink)
	ctx := context.Background()

	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("a", domain.ExecStatusOK, "")))
	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("b", domain.ExecStatusNotSent, domain.ReasonLowScore)))
	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryKillSwitch, at, LockEvent{TenantID: "t1", Event: EventTrigger}))
	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at.AddDate(0, 0, 1), decision("c", domain.ExecStatusOK, "")))

	path := trail.Path("t1", domain.CategoryDecisions, "2025-03-10")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	dates, err := trail.Dates("t1", domain.CategoryDecisions)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-10", "2025-03-11"}, dates)

	lines, err := trail.ReadLines("t1", domain.CategoryKillSwitch, "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	assert.Equal(t, 4, sink.calls)
}

func TestTrail_MirrorFailureIsNotFatal(t *testing.T) {
	trail := newTrail(t, &recordingSink{err: errors.New("db down")})
	err := trail.Append(context.Background(), "t1", domain.CategoryDecisions, at, decision("a", domain.ExecStatusOK, ""))
	assert.NoError(t, err)
}

func TestTrail_RejectsBadKeys(t *testing.T) {
	trail := newTrail(t)
	ctx := context.Background()

	err := trail.Append(ctx, "../escape", domain.CategoryDecisions, at, struct{}{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	err = trail.Append(ctx, "t1", domain.Category("payments"), at, struct{}{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestTrail_WriteFailureIsPersistenceError(t *testing.T) {
	trail := newTrail(t)
	// a regular file where the tenant directory should be
	require.NoError(t, os.WriteFile(filepath.Join(trail.root, "t1"), []byte("x"), 0o644))

	err := trail.Append(context.Background(), "t1", domain.CategoryDecisions, at, decision("a", domain.ExecStatusOK, ""))
	assert.True(t, errors.Is(err, domain.ErrPersistence))
}

func TestTrail_VerifyDecision(t *testing.T) {
	trail := newTrail(t)
	ctx := context.Background()

	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("ok-1", domain.ExecStatusOK, "")))
	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("err-1", domain.ExecStatusError, "")))

	assert.NoError(t, trail.VerifyDecision("t1", at, "ok-1"))
	assert.True(t, errors.Is(trail.VerifyDecision("t1", at, "err-1"), domain.ErrAuditIntegrity))
	assert.True(t, errors.Is(trail.VerifyDecision("t1", at, "missing"), domain.ErrAuditIntegrity))
}

func TestTrail_FindAndSummarize(t *testing.T) {
	trail := newTrail(t)
	ctx := context.Background()

	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("a", domain.ExecStatusNotSent, domain.ReasonLowScore)))
	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("b", domain.ExecStatusNotSent, domain.ReasonLowScore)))
	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("c", domain.ExecStatusNotSent, domain.ReasonKillSwitch)))
	require.NoError(t, trail.Append(ctx, "t1", domain.CategoryDecisions, at, decision("d", domain.ExecStatusOK, "")))

	found, err := trail.FindDecisions("t1", "c")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, domain.ReasonKillSwitch, found[0].Execution.ReasonCode)

	summary, err := trail.RejectionSummary("t1", "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, map[domain.ReasonCode]int{domain.ReasonLowScore: 2, domain.ReasonKillSwitch: 1}, summary)

	empty, err := trail.RejectionSummary("t1", "1999-01-01")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
