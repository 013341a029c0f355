package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAuditor struct {
	records []interface{}
	cats    []domain.Category
	err     error
}

func (m *memAuditor) Append(_ context.Context, _ string, cat domain.Category, _ time.Time, rec interface{}) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	m.cats = append(m.cats, cat)
	return nil
}

func (m *memAuditor) last(t *testing.T) audit.LockEvent {
	t.Helper()
	require.NotEmpty(t, m.records)
	ev, ok := m.records[len(m.records)-1].(audit.LockEvent)
	require.True(t, ok)
	return ev
}

type countingNotifier struct{ events []audit.LockEvent }

func (c *countingNotifier) NotifyLock(ev audit.LockEvent) { c.events = append(c.events, ev) }

var now = time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC)

func newManager() (*Manager, *memAuditor) {
	aud := &memAuditor{}
	m := NewManager(aud, nil)
	m.SetClock(func() time.Time { return now })
	return m, aud
}

func operator(code domain.ReasonCode) Event {
	return Event{Code: code, Actor: "ops-1", Source: domain.TriggerSourceManual}
}

func intent(symbol string) *domain.TradeIntent {
	return &domain.TradeIntent{ID: "i1", TenantID: "t1", Symbol: symbol, Action: domain.ActionBuy, Quantity: 1}
}

func TestShouldBlock_Precedence(t *testing.T) {
	m, _ := newManager()

	tests := []struct {
		name   string
		setup  func(p *portfolio.Portfolio)
		symbol string
		block  bool
		code   domain.ReasonCode
	}{
		{"clear", func(p *portfolio.Portfolio) {}, "XYZ", false, domain.ReasonNone},
		{"account kill beats account silent", func(p *portfolio.Portfolio) {
			p.KillSwitch = true
			p.SilentDaysLeft = 3
		}, "XYZ", true, domain.ReasonKillSwitch},
		{"account silent beats asset kill", func(p *portfolio.Portfolio) {
			p.SilentDaysLeft = 1
			p.EnsureAsset("XYZ").KillSwitch = true
		}, "XYZ", true, domain.ReasonSilentMode},
		{"asset kill beats asset silent", func(p *portfolio.Portfolio) {
			a := p.EnsureAsset("XYZ")
			a.KillSwitch = true
			a.SilentDaysLeft = 2
		}, "XYZ", true, domain.ReasonKillSwitch},
		{"asset silent", func(p *portfolio.Portfolio) {
			p.EnsureAsset("XYZ").SilentDaysLeft = 2
		}, "XYZ", true, domain.ReasonSilentMode},
		{"other asset locked", func(p *portfolio.Portfolio) {
			p.EnsureAsset("ABC").KillSwitch = true
		}, "XYZ", false, domain.ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := portfolio.New("t1", 1000)
			tt.setup(p)
			block, code, _ := m.ShouldBlock(p, intent(tt.symbol))
			assert.Equal(t, tt.block, block)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestSilent_ReleasesOnNthTick(t *testing.T) {
	m, aud := newManager()
	p := portfolio.New("t1", 1000)
	ctx := context.Background()

	require.NoError(t, m.TriggerSilent(ctx, p, Account(), 3, operator(domain.TriggerDailyLoss5)))
	trig := aud.last(t)
	assert.Equal(t, audit.EventTrigger, trig.Event)
	assert.Equal(t, 3, trig.Days)
	require.NotNil(t, trig.ExpectedRelease)
	assert.Equal(t, now.AddDate(0, 0, 3), *trig.ExpectedRelease)
	assert.Equal(t, domain.CategoryCoolingOff, aud.cats[0])

	for i := 1; i <= 2; i++ {
		released, err := m.DailyTick(ctx, p)
		require.NoError(t, err)
		assert.Empty(t, released)
		assert.True(t, IsSilent(p, Account()), "tick %d", i)
	}

	released, err := m.DailyTick(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []Scope{Account()}, released)
	assert.False(t, IsSilent(p, Account()))

	rel := aud.last(t)
	assert.Equal(t, audit.EventRelease, rel.Event)
	assert.Equal(t, domain.ReleaseAuto, rel.ReleaseType)
	assert.Equal(t, domain.ActorSystem, rel.ReleasedBy)
}

func TestSilent_OverwritesCounter(t *testing.T) {
	m, _ := newManager()
	p := portfolio.New("t1", 1000)
	ctx := context.Background()

	require.NoError(t, m.TriggerSilent(ctx, p, Asset("XYZ"), 7, operator(domain.TriggerDrawPos15)))
	require.NoError(t, m.TriggerSilent(ctx, p, Asset("XYZ"), 2, operator(domain.TriggerDrop8)))
	assert.Equal(t, 2, p.Asset("XYZ").SilentDaysLeft)

	err := m.TriggerSilent(ctx, p, Asset("XYZ"), 0, operator(domain.TriggerDrop8))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestKillSwitch_SurvivesTicks(t *testing.T) {
	m, aud := newManager()
	notifier := &countingNotifier{}
	m.SetNotifier(notifier)
	p := portfolio.New("t1", 1000)
	ctx := context.Background()

	require.NoError(t, m.TriggerKillSwitch(ctx, p, Asset("XYZ"), operator(domain.TriggerManualOperator)))
	assert.Equal(t, domain.CategoryKillSwitch, aud.cats[0])

	for i := 0; i < 10; i++ {
		_, err := m.DailyTick(ctx, p)
		require.NoError(t, err)
	}
	block, code, _ := m.ShouldBlock(p, intent("XYZ"))
	assert.True(t, block)
	assert.Equal(t, domain.ReasonKillSwitch, code)

	require.NoError(t, m.ReleaseKillSwitch(ctx, p, Asset("XYZ"), "ops-2"))
	block, _, _ = m.ShouldBlock(p, intent("XYZ"))
	assert.False(t, block)

	rel := aud.last(t)
	assert.Equal(t, domain.ReleaseManual, rel.ReleaseType)
	assert.Equal(t, "ops-2", rel.ReleasedBy)
	assert.Len(t, notifier.events, 2)
}

func TestRelease_NotActive(t *testing.T) {
	m, aud := newManager()
	p := portfolio.New("t1", 1000)
	ctx := context.Background()

	assert.True(t, errors.Is(m.ReleaseKillSwitch(ctx, p, Account(), "ops"), ErrLockNotActive))
	assert.True(t, errors.Is(m.ReleaseSilent(ctx, p, Account(), "ops"), ErrLockNotActive))
	assert.Empty(t, aud.records)
}

func TestRelease_UnknownSymbolLeavesPortfolioUntouched(t *testing.T) {
	m, aud := newManager()
	p := portfolio.New("t1", 1000)
	ctx := context.Background()

	assert.ErrorIs(t, m.ReleaseKillSwitch(ctx, p, Asset("NOPE"), "ops"), ErrLockNotActive)
	assert.ErrorIs(t, m.ReleaseSilent(ctx, p, Asset("NOPE"), "ops"), ErrLockNotActive)
	assert.Nil(t, p.Asset("NOPE"))
	assert.Empty(t, p.Symbols())
	assert.Empty(t, aud.records)
}

func TestTrigger_RequiresActorAndCode(t *testing.T) {
	m, _ := newManager()
	p := portfolio.New("t1", 1000)
	ctx := context.Background()

	err := m.TriggerKillSwitch(ctx, p, Account(), Event{Code: domain.TriggerManualOperator})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	err = m.TriggerKillSwitch(ctx, p, Account(), Event{Actor: "ops"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.False(t, p.KillSwitch)
}

func TestAuditFailure_RollsBack(t *testing.T) {
	m, aud := newManager()
	p := portfolio.New("t1", 1000)
	ctx := context.Background()
	aud.err = domain.ErrPersistence

	err := m.TriggerKillSwitch(ctx, p, Account(), operator(domain.TriggerManualOperator))
	assert.True(t, errors.Is(err, domain.ErrPersistence))
	assert.False(t, p.KillSwitch)

	err = m.TriggerSilent(ctx, p, Account(), 2, operator(domain.TriggerDailyLoss5))
	assert.Error(t, err)
	assert.Equal(t, 0, p.SilentDaysLeft)

	aud.err = nil
	require.NoError(t, m.TriggerSilent(ctx, p, Account(), 1, operator(domain.TriggerDailyLoss5)))
	aud.err = domain.ErrPersistence
	released, err := m.DailyTick(ctx, p)
	assert.Error(t, err)
	assert.Empty(t, released)
	assert.Equal(t, 1, p.SilentDaysLeft)
}
