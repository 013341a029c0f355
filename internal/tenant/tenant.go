package tenant

import (
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/guard"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/kirillm/riskgate/internal/storage"
)

// MaxRecentIntents размер окна для проверки дубликатов
const MaxRecentIntents = 500

// Tenant рабочее состояние одного тенанта. Мьютекс общий для Submit и циклов планировщика.
type Tenant struct {
	mu sync.Mutex

	Config    config.TenantConfig
	Portfolio *portfolio.Portfolio
	Throttler *guard.StrategyThrottler
	Schedule  storage.Schedule

	recent []string
	seen   map[string]struct{}
	held   []*domain.TradeIntent
}

// New тенант без сохраненного состояния
func New(cfg config.TenantConfig) *Tenant {
	return &Tenant{
		Config:    cfg,
		Portfolio: portfolio.New(cfg.ID, cfg.InitialCash),
		Throttler: guard.NewStrategyThrottler(nil),
		seen:      make(map[string]struct{}),
	}
}

// FromState восстанавливает тенанта; конфигурация всегда берется из реестра
func FromState(cfg config.TenantConfig, st *storage.TenantState) *Tenant {
	t := New(cfg)
	if st == nil {
		return t
	}
	if st.Portfolio != nil {
		t.Portfolio = st.Portfolio
		t.Portfolio.TenantID = cfg.ID
	}
	throttle := st.Throttle
	t.Throttler = guard.NewStrategyThrottler(&throttle)
	t.Schedule = st.Schedule
	for _, id := range st.RecentIntents {
		t.RememberIntent(id)
	}
	t.held = append(t.held, st.Held...)
	return t
}

// ToState снимок для StateStore; вызывается под Lock
func (t *Tenant) ToState(now time.Time) *storage.TenantState {
	return &storage.TenantState{
		TenantID:      t.Config.ID,
		Portfolio:     t.Portfolio,
		Throttle:      *t.Throttler.State(),
		RecentIntents: append([]string(nil), t.recent...),
		Held:          append([]*domain.TradeIntent(nil), t.held...),
		Schedule:      t.Schedule,
		UpdatedAt:     now,
	}
}

func (t *Tenant) ID() string { return t.Config.ID }

func (t *Tenant) Lock() { t.mu.Lock() }

func (t *Tenant) Unlock() { t.mu.Unlock() }

// SeenIntent true если id уже проходил через Submit
func (t *Tenant) SeenIntent(id string) bool {
	_, ok := t.seen[id]
	return ok
}

// RememberIntent добавляет id, вытесняя самые старые
func (t *Tenant) RememberIntent(id string) {
	if _, ok := t.seen[id]; ok {
		return
	}
	t.recent = append(t.recent, id)
	t.seen[id] = struct{}{}
	if len(t.recent) > MaxRecentIntents {
		drop := t.recent[0]
		t.recent = t.recent[1:]
		delete(t.seen, drop)
	}
}

// Hold ставит намерение в очередь ожидания
func (t *Tenant) Hold(intent *domain.TradeIntent) {
	t.held = append(t.held, intent)
}

func (t *Tenant) Held() []*domain.TradeIntent {
	return append([]*domain.TradeIntent(nil), t.held...)
}

// ExpireHeld убирает намерения, для которых stillBlocked вернул false
func (t *Tenant) ExpireHeld(stillBlocked func(*domain.TradeIntent) bool) []*domain.TradeIntent {
	var expired []*domain.TradeIntent
	kept := t.held[:0]
	for _, intent := range t.held {
		if stillBlocked(intent) {
			kept = append(kept, intent)
			continue
		}
		expired = append(expired, intent)
	}
	t.held = kept
	return expired
}

// ScanDue сканирование не запускалось дольше ScanInterval
func (t *Tenant) ScanDue(now time.Time) bool {
	if t.Schedule.LastScan == nil {
		return true
	}
	return now.Sub(*t.Schedule.LastScan) >= t.Config.ScanInterval
}

// DailyDone дневной цикл уже отработал в эту календарную дату loc
func (t *Tenant) DailyDone(now time.Time, loc *time.Location) bool {
	if t.Schedule.LastDaily == nil {
		return false
	}
	y1, m1, d1 := t.Schedule.LastDaily.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (t *Tenant) MarkScan(now time.Time) {
	ts := now
	t.Schedule.LastScan = &ts
}

func (t *Tenant) MarkDaily(now time.Time) {
	ts := now
	t.Schedule.LastDaily = &ts
}
