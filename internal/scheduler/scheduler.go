package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/guard"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/metrics"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/kirillm/riskgate/internal/tenant"
	"github.com/kirillm/riskgate/internal/trigger"
	"github.com/kirillm/riskgate/pkg/utils"
)

// Cycle names
const (
	CycleScan  = "scan"
	CycleDaily = "daily"
)

const DefaultWorkers = 8

// ScheduleStore внешняя запись планировщика, общая для нескольких процессов
type ScheduleStore interface {
	Get(ctx context.Context, tenantID string) (storage.Schedule, error)
	MarkScan(ctx context.Context, tenantID string, at time.Time) error
	MarkDaily(ctx context.Context, tenantID string, at time.Time) error
}

// Config параметры расписания
type Config struct {
	Workers     int
	Tick        time.Duration
	Location    *time.Location
	DailyHour   int
	DailyMinute int
	DailyWindow time.Duration
}

// DefaultConfig 8 воркеров, тик 1 минута, окно 17:00-17:05 America/New_York
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		Workers:     DefaultWorkers,
		Tick:        time.Minute,
		Location:    loc,
		DailyHour:   17,
		DailyMinute: 0,
		DailyWindow: 5 * time.Minute,
	}
}

// Deps зависимости планировщика
type Deps struct {
	Registry  *tenant.Registry
	Market    domain.MarketData
	// Markets по имени брокера тенанта; без совпадения используется Market
	Markets   map[string]domain.MarketData
	Guard     *guard.SystemGuard
	Locks     *lock.Manager
	Intraday  *trigger.IntradayEngine
	Silent    *trigger.SilentEngine
	Audit     lock.Auditor
	Schedules ScheduleStore
	Metrics   *metrics.Metrics
	Logger    *utils.Logger
}

// Scheduler периодическое сканирование и дневной цикл для всех тенантов
type Scheduler struct {
	cfg       Config
	registry  *tenant.Registry
	market    domain.MarketData
	markets   map[string]domain.MarketData
	guard     *guard.SystemGuard
	locks     *lock.Manager
	intraday  *trigger.IntradayEngine
	silent    *trigger.SilentEngine
	audit     lock.Auditor
	schedules ScheduleStore
	metrics   *metrics.Metrics
	logger    *utils.Logger
	now       func() time.Time

	mu        sync.Mutex
	ticker    *time.Ticker
	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
}

func New(cfg Config, d Deps) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = DefaultConfig().Location
	}
	if cfg.DailyWindow <= 0 {
		cfg.DailyWindow = 5 * time.Minute
	}
	if d.Logger == nil {
		d.Logger = utils.NopLogger()
	}
	return &Scheduler{
		cfg:       cfg,
		registry:  d.Registry,
		market:    d.Market,
		markets:   d.Markets,
		guard:     d.Guard,
		locks:     d.Locks,
		intraday:  d.Intraday,
		silent:    d.Silent,
		audit:     d.Audit,
		schedules: d.Schedules,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       time.Now,
	}
}

func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// CycleResult итог одного цикла
type CycleResult struct {
	Cycle     string            `json:"cycle"`
	StartedAt time.Time         `json:"started_at"`
	Processed []string          `json:"processed"`
	Skipped   []string          `json:"skipped"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// InDailyWindow будний день и время внутри окна дневного цикла
func (s *Scheduler) InDailyWindow(now time.Time) bool {
	local := now.In(s.cfg.Location)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	start := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.DailyHour, s.cfg.DailyMinute, 0, 0, s.cfg.Location)
	return !local.Before(start) && local.Before(start.Add(s.cfg.DailyWindow))
}

// Start запускает цикл тикера
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("scheduler already running")
	}

	s.ticker = time.NewTicker(s.cfg.Tick)
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.isRunning = true
	s.logger.Info("🚀 Scheduler started (%d workers, tick %v)", s.cfg.Workers, s.cfg.Tick)

	go s.run(ctx)
	return nil
}

// Stop останавливает цикл и ждет завершения текущего тика
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.logger.Info("🛑 Stopping scheduler...")
	close(s.stopChan)
	s.ticker.Stop()
	s.isRunning = false
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("✅ Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	// Первый тик сразу после старта
	s.tick(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.tick(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunScanCycle(ctx); err != nil {
		s.logger.Error("❌ Scan cycle error: %v", err)
	}
	if s.InDailyWindow(s.now()) {
		if _, err := s.RunDailyCycle(ctx); err != nil {
			s.logger.Error("❌ Daily cycle error: %v", err)
		}
	}
}

// RunScanCycle сканирует тенантов, у которых подошел интервал
func (s *Scheduler) RunScanCycle(ctx context.Context) (*CycleResult, error) {
	return s.runCycle(ctx, CycleScan, false)
}

// ScanAll сканирует всех включенных тенантов без учета интервала
func (s *Scheduler) ScanAll(ctx context.Context) (*CycleResult, error) {
	return s.runCycle(ctx, CycleScan, true)
}

// RunDailyCycle закрывает день для тенантов, у которых он еще не закрыт
func (s *Scheduler) RunDailyCycle(ctx context.Context) (*CycleResult, error) {
	return s.runCycle(ctx, CycleDaily, false)
}

func (s *Scheduler) runCycle(ctx context.Context, cycle string, force bool) (*CycleResult, error) {
	now := s.now()
	result := &CycleResult{Cycle: cycle, StartedAt: now, Failures: make(map[string]string)}

	var due []*tenant.Tenant
	for _, t := range s.registry.All() {
		if !t.Config.Enabled {
			result.Skipped = append(result.Skipped, t.ID())
			continue
		}
		if !force && !s.isDue(ctx, t, cycle, now) {
			result.Skipped = append(result.Skipped, t.ID())
			continue
		}
		due = append(due, t)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	semaphore := make(chan struct{}, s.cfg.Workers)
	for _, t := range due {
		wg.Add(1)
		go func(t *tenant.Tenant) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			err := s.process(ctx, t, cycle, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("❌ %s cycle failed for %s: %v", cycle, t.ID(), err)
				result.Failures[t.ID()] = err.Error()
				errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
				return
			}
			result.Processed = append(result.Processed, t.ID())
		}(t)
	}
	wg.Wait()

	s.metrics.ObserveCycle(cycle, s.now().Sub(now), len(errs))
	if len(due) > 0 {
		s.logger.Info("📊 %s cycle: %d processed, %d failed, %d skipped",
			cycle, len(due)-len(errs), len(errs), len(result.Skipped))
	}
	return result, errors.Join(errs...)
}

// process защищает тенанта от паники соседей по пулу
func (s *Scheduler) process(ctx context.Context, t *tenant.Tenant, cycle string, now time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s cycle panic: %v", domain.ErrInfrastructure, cycle, p)
		}
	}()

	t.Lock()
	defer t.Unlock()

	if cycle == CycleDaily {
		return s.dailyTenant(ctx, t, now)
	}
	return s.scanTenant(ctx, t, now)
}

// isDue смотрит во внешнюю запись, если она есть, иначе в состояние тенанта
func (s *Scheduler) isDue(ctx context.Context, t *tenant.Tenant, cycle string, now time.Time) bool {
	t.Lock()
	defer t.Unlock()

	if s.schedules != nil {
		sched, err := s.schedules.Get(ctx, t.ID())
		if err != nil {
			s.logger.Warn("Schedule store unavailable for %s, using local record: %v", t.ID(), err)
		} else {
			if sched.LastScan != nil {
				t.Schedule.LastScan = sched.LastScan
			}
			if sched.LastDaily != nil {
				t.Schedule.LastDaily = sched.LastDaily
			}
		}
	}

	if cycle == CycleDaily {
		return !t.DailyDone(now, s.cfg.Location)
	}
	return t.ScanDue(now)
}
