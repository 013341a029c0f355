package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/exchange"
	"github.com/kirillm/riskgate/internal/guard"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/policy"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/kirillm/riskgate/internal/tenant"
	"github.com/kirillm/riskgate/internal/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sharedSchedule подменяет Redis в тестах
type sharedSchedule struct {
	mu      sync.Mutex
	records map[string]storage.Schedule
	scans   int
	dailies int
}

func newSharedSchedule() *sharedSchedule {
	return &sharedSchedule{records: make(map[string]storage.Schedule)}
}

func (s *sharedSchedule) Get(_ context.Context, tenantID string) (storage.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[tenantID], nil
}

func (s *sharedSchedule) MarkScan(_ context.Context, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[tenantID]
	rec.LastScan = &at
	s.records[tenantID] = rec
	s.scans++
	return nil
}

func (s *sharedSchedule) MarkDaily(_ context.Context, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[tenantID]
	rec.LastDaily = &at
	s.records[tenantID] = rec
	s.dailies++
	return nil
}

type harness struct {
	sched    *Scheduler
	trail    *audit.Trail
	market   *exchange.PaperMarket
	registry *tenant.Registry
	locks    *lock.Manager
	guard    *guard.SystemGuard
	clock    *clock
}

func tenantConfig(id string) config.TenantConfig {
	return config.TenantConfig{
		ID:           id,
		Enabled:      true,
		RiskStyle:    domain.StyleModerate,
		DryRun:       true,
		InitialCash:  100000,
		ScanInterval: 5 * time.Minute,
		Broker:       config.BrokerPaper,
	}
}

// newHarness понедельник 10.03.2025 17:02 по Нью-Йорку, внутри дневного окна
func newHarness(t *testing.T, schedules ScheduleStore, tenants ...config.TenantConfig) *harness {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	c := &clock{t: time.Date(2025, 3, 10, 17, 2, 0, 0, ny)}

	trail, err := audit.NewTrail(t.TempDir(), time.UTC, nil)
	require.NoError(t, err)
	store, err := storage.NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	market := exchange.NewPaperMarket()
	market.SetPrice("XYZ", 100)

	locks := lock.NewManager(trail, nil)
	locks.SetClock(c.Now)
	sg := guard.NewSystemGuard(market, "XYZ", nil)
	sg.SetClock(c.Now)

	registry := tenant.NewRegistry(store, nil)
	for _, cfg := range tenants {
		require.NoError(t, registry.Add(context.Background(), cfg))
	}

	cfg := DefaultConfig()
	cfg.Location = ny
	sched := New(cfg, Deps{
		Registry:  registry,
		Market:    market,
		Guard:     sg,
		Locks:     locks,
		Intraday:  trigger.NewIntradayEngine(locks, policy.DefaultIntradayRules(), nil),
		Silent:    trigger.NewSilentEngine(locks, policy.DefaultDailyRules(), nil),
		Audit:     trail,
		Schedules: schedules,
	})
	sched.SetClock(c.Now)

	return &harness{sched: sched, trail: trail, market: market, registry: registry, locks: locks, guard: sg, clock: c}
}

func (h *harness) tenant(t *testing.T, id string) *tenant.Tenant {
	t.Helper()
	tn, err := h.registry.Get(id)
	require.NoError(t, err)
	return tn
}

func (h *harness) lines(t *testing.T, id string, category domain.Category) []json.RawMessage {
	t.Helper()
	lines, err := h.trail.ReadLines(id, category, h.trail.DateKey(h.clock.Now()))
	require.NoError(t, err)
	return lines
}

func (h *harness) buy(t *testing.T, id, symbol string, qty int, price float64) {
	t.Helper()
	_, err := h.tenant(t, id).Portfolio.ApplyFill(portfolio.FillInput{
		Action: domain.ActionBuy, Symbol: symbol, Quantity: qty, Price: price, At: h.clock.Now(),
	})
	require.NoError(t, err)
}

func TestRunScanCycle_FreezesAndRespectsInterval(t *testing.T) {
	h := newHarness(t, nil, tenantConfig("t1"))
	h.buy(t, "t1", "XYZ", 500, 100)
	h.market.SetPrice("XYZ", 88)

	res, err := h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Processed)

	p := h.tenant(t, "t1").Portfolio
	assert.Equal(t, 1, p.SilentDaysLeft)
	assert.InDelta(t, -0.06, p.AccountDrawdownPct, 1e-9)

	scans := h.lines(t, "t1", domain.CategoryPeriodicScan)
	require.Len(t, scans, 1)
	var rec audit.CycleRecord
	require.NoError(t, json.Unmarshal(scans[0], &rec))
	assert.Equal(t, string(domain.CategoryPeriodicScan), rec.Kind)
	assert.Contains(t, rec.Triggered, domain.TriggerAccountDD5)
	assert.NotEmpty(t, h.lines(t, "t1", domain.CategoryCoolingOff))

	// интервал 5 минут еще не прошел
	res, err = h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Processed)
	assert.Equal(t, []string{"t1"}, res.Skipped)

	h.clock.Advance(5 * time.Minute)
	res, err = h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Processed)
	assert.Len(t, h.lines(t, "t1", domain.CategoryPeriodicScan), 2)
}

func TestScanAll_IgnoresInterval(t *testing.T) {
	h := newHarness(t, nil, tenantConfig("t1"))

	_, err := h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	res, err := h.sched.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Processed)
	assert.Len(t, h.lines(t, "t1", domain.CategoryPeriodicScan), 2)
}

func TestRunScanCycle_SkipsDisabledTenants(t *testing.T) {
	off := tenantConfig("t2")
	off.Enabled = false
	h := newHarness(t, nil, tenantConfig("t1"), off)

	res, err := h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Processed)
	assert.Equal(t, []string{"t2"}, res.Skipped)
	assert.Empty(t, h.lines(t, "t2", domain.CategoryPeriodicScan))
}

func TestRunScanCycle_FailureIsolatedPerTenant(t *testing.T) {
	h := newHarness(t, nil, tenantConfig("t1"), tenantConfig("t2"))
	h.buy(t, "t1", "QQQ", 10, 50) // нет котировки

	res, err := h.sched.RunScanCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))
	assert.Contains(t, res.Failures, "t1")
	assert.Equal(t, []string{"t2"}, res.Processed)

	// неудачный скан не отмечается и повторяется на следующем тике
	assert.Nil(t, h.tenant(t, "t1").Schedule.LastScan)
	assert.Empty(t, h.lines(t, "t1", domain.CategoryPeriodicScan))
}

func TestRunScanCycle_MissingPriceTripsSystemGuard(t *testing.T) {
	h := newHarness(t, nil, tenantConfig("t1"))
	h.buy(t, "t1", "QQQ", 10, 50)
	require.True(t, h.guard.Healthy())

	_, err := h.sched.RunScanCycle(context.Background())
	require.Error(t, err)
	assert.False(t, h.guard.Healthy())

	ok, reason := h.guard.Check(context.Background())
	assert.False(t, ok)
	assert.Contains(t, reason, "t1")
}

func TestRunScanCycle_ValuesTenantOnItsBrokerMarket(t *testing.T) {
	venue := exchange.NewPaperMarket()
	venue.SetPrice("BTCUSDT", 60000)
	bybitTenant := tenantConfig("t2")
	bybitTenant.Broker = config.BrokerBybit

	h := newHarness(t, nil, tenantConfig("t1"), bybitTenant)
	h.sched.markets = map[string]domain.MarketData{config.BrokerBybit: venue}
	h.buy(t, "t1", "XYZ", 10, 100)
	h.buy(t, "t2", "BTCUSDT", 1, 60000)
	venue.SetPrice("BTCUSDT", 61000)

	res, err := h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, res.Processed)
	assert.Equal(t, 61000.0, h.tenant(t, "t2").Portfolio.Asset("BTCUSDT").CurrentPrice)
	assert.Equal(t, 100.0, h.tenant(t, "t1").Portfolio.Asset("XYZ").CurrentPrice)
	assert.True(t, h.guard.Healthy())
}

func TestRunScanCycle_ManyTenantsThroughPool(t *testing.T) {
	var cfgs []config.TenantConfig
	for i := 0; i < 20; i++ {
		cfgs = append(cfgs, tenantConfig(fmt.Sprintf("t%02d", i)))
	}
	h := newHarness(t, nil, cfgs...)
	for _, cfg := range cfgs {
		h.buy(t, cfg.ID, "XYZ", 10, 100)
	}

	res, err := h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Processed, 20)
	for _, cfg := range cfgs {
		assert.Len(t, h.lines(t, cfg.ID, domain.CategoryPeriodicScan), 1)
		assert.NotNil(t, h.tenant(t, cfg.ID).Schedule.LastScan)
	}
}

func TestRunScanCycle_SharedScheduleStore(t *testing.T) {
	shared := newSharedSchedule()
	h := newHarness(t, shared, tenantConfig("t1"))

	// другой процесс только что сканировал t1
	recent := h.clock.Now().Add(-time.Minute)
	require.NoError(t, shared.MarkScan(context.Background(), "t1", recent))

	res, err := h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Skipped)

	h.clock.Advance(4 * time.Minute)
	res, err = h.sched.RunScanCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Processed)
	assert.Equal(t, 2, shared.scans)
}

func TestRunDailyCycle_ReleasesLocksAndExpiresHeld(t *testing.T) {
	h := newHarness(t, nil, tenantConfig("t1"))
	tn := h.tenant(t, "t1")
	ctx := context.Background()
	ev := lock.Event{Code: domain.TriggerManualOperator, Actor: "ops"}
	require.NoError(t, h.locks.TriggerSilent(ctx, tn.Portfolio, lock.Account(), 1, ev))
	require.NoError(t, h.locks.TriggerSilent(ctx, tn.Portfolio, lock.Asset("ABC"), 3, ev))

	hold := func(symbol string) *domain.TradeIntent {
		intent, err := domain.NewTradeIntent(domain.IntentParams{
			TenantID: "t1", Symbol: symbol, Action: domain.ActionBuy, Quantity: 1,
			Source: domain.SourceManual, SubmittedBy: "tester", HoldOnCooling: true,
		}, h.clock.Now())
		require.NoError(t, err)
		tn.Hold(intent)
		return intent
	}
	xyz := hold("XYZ")
	abc := hold("ABC")

	res, err := h.sched.RunDailyCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Processed)

	assert.Equal(t, 0, tn.Portfolio.SilentDaysLeft)
	assert.Equal(t, 2, tn.Portfolio.Asset("ABC").SilentDaysLeft)
	held := tn.Held()
	require.Len(t, held, 1)
	assert.Equal(t, abc.ID, held[0].ID)

	// trigger x2, auto release, held expiry
	cooling := h.lines(t, "t1", domain.CategoryCoolingOff)
	require.Len(t, cooling, 4)
	var expiry map[string]interface{}
	require.NoError(t, json.Unmarshal(cooling[3], &expiry))
	assert.Equal(t, audit.EventExpired, expiry["event"])
	assert.Equal(t, "TIMEOUT", expiry["status_code"])

	summaries := h.lines(t, "t1", domain.CategoryDailySummary)
	require.Len(t, summaries, 1)
	var rec audit.CycleRecord
	require.NoError(t, json.Unmarshal(summaries[0], &rec))
	var summary DailySummary
	require.NoError(t, json.Unmarshal(rec.Details, &summary))
	assert.Equal(t, []string{"account"}, summary.Released)
	assert.Equal(t, []string{xyz.ID}, summary.Expired)
	assert.Equal(t, 1, summary.Day.DailyTick)

	assert.Empty(t, h.lines(t, "t1", domain.CategoryMonthlyOptimizer))

	// второй запуск в тот же день пропускается
	res, err = h.sched.RunDailyCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, res.Skipped)
	assert.Len(t, h.lines(t, "t1", domain.CategoryDailySummary), 1)
}

func TestRunDailyCycle_NewMonthWritesOptimizerRecord(t *testing.T) {
	h := newHarness(t, nil, tenantConfig("t1"))
	p := h.tenant(t, "t1").Portfolio
	lastClose := time.Date(2025, 2, 28, 17, 1, 0, 0, time.UTC)
	p.LastDailyUpdate = &lastClose
	p.StartOfMonthValue = 95000
	p.MonthlyReturnPct = 0.05

	_, err := h.sched.RunDailyCycle(context.Background())
	require.NoError(t, err)

	lines := h.lines(t, "t1", domain.CategoryMonthlyOptimizer)
	require.Len(t, lines, 1)
	var rec audit.CycleRecord
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	var monthly MonthlySummary
	require.NoError(t, json.Unmarshal(rec.Details, &monthly))
	assert.Equal(t, "2025-02", monthly.ClosedMonth)
	assert.InDelta(t, 0.05, monthly.MonthlyReturnPct, 1e-9)
	assert.InDelta(t, 95000, monthly.StartValue, 1e-9)
	assert.InDelta(t, 100000, monthly.NetValue, 1e-9)
}

func TestInDailyWindow(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s := New(Config{Location: ny, DailyHour: 17}, Deps{})

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"window opens", time.Date(2025, 3, 10, 17, 0, 0, 0, ny), true},
		{"inside", time.Date(2025, 3, 12, 17, 4, 59, 0, ny), true},
		{"window closed", time.Date(2025, 3, 10, 17, 5, 0, 0, ny), false},
		{"before close", time.Date(2025, 3, 10, 16, 59, 0, 0, ny), false},
		{"saturday", time.Date(2025, 3, 15, 17, 2, 0, 0, ny), false},
		{"utc input", time.Date(2025, 3, 10, 21, 2, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.InDailyWindow(tt.at))
		})
	}
}

func TestStartStop_RunsFirstTickImmediately(t *testing.T) {
	h := newHarness(t, nil, tenantConfig("t1"))
	h.sched.cfg.Tick = time.Hour

	require.NoError(t, h.sched.Start(context.Background()))
	assert.Error(t, h.sched.Start(context.Background()))

	tn := h.tenant(t, "t1")
	require.Eventually(t, func() bool {
		tn.Lock()
		defer tn.Unlock()
		return tn.Schedule.LastDaily != nil
	}, 2*time.Second, 10*time.Millisecond)

	h.sched.Stop()
	h.sched.Stop()
	assert.Len(t, h.lines(t, "t1", domain.CategoryPeriodicScan), 1)
	assert.Len(t, h.lines(t, "t1", domain.CategoryDailySummary), 1)
}
