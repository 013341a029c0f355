package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/kirillm/riskgate/pkg/utils"
)

// ErrLockNotActive снятие неактивной блокировки
var ErrLockNotActive = errors.New("lock is not active")

// Auditor журнал, в который пишутся все триггеры и снятия
type Auditor interface {
	Append(ctx context.Context, tenantID string, category domain.Category, at time.Time, record interface{}) error
}

// Notifier внешнее оповещение операторов
type Notifier interface {
	NotifyLock(ev audit.LockEvent)
}

// Notifiers рассылает событие всем получателям по очереди
type Notifiers []Notifier

func (ns Notifiers) NotifyLock(ev audit.LockEvent) {
	for _, n := range ns {
		if n != nil {
			n.NotifyLock(ev)
		}
	}
}

// Scope весь счет (Symbol == "") или один актив
type Scope struct {
	Symbol string
}

func Account() Scope { return Scope{} }

func Asset(symbol string) Scope { return Scope{Symbol: symbol} }

func (s Scope) IsAccount() bool { return s.Symbol == "" }

func (s Scope) Level() string {
	if s.IsAccount() {
		return domain.LevelAccount
	}
	return domain.LevelSymbol
}

func (s Scope) String() string {
	if s.IsAccount() {
		return "account"
	}
	return s.Symbol
}

// Event кто, почему и откуда инициировал блокировку
type Event struct {
	Code   domain.ReasonCode
	Reason string
	Actor  string
	Source string
}

// Manager Silent Mode + KillSwitch на уровне счета и актива.
// Вызывающий держит мьютекс тенанта на время вызова.
type Manager struct {
	auditor  Auditor
	notifier Notifier
	logger   *utils.Logger
	now      func() time.Time
}

func NewManager(auditor Auditor, logger *utils.Logger) *Manager {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Manager{
		auditor: auditor,
		logger:  logger,
		now:     time.Now,
	}
}

func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// SetClock для детерминированных тестов
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// ShouldBlock: kill switch счета, silent счета, kill switch актива, silent актива
func (m *Manager) ShouldBlock(p *portfolio.Portfolio, intent *domain.TradeIntent) (bool, domain.ReasonCode, string) {
	if p.KillSwitch {
		return true, domain.ReasonKillSwitch, "account kill switch active"
	}
	if p.SilentDaysLeft > 0 {
		return true, domain.ReasonSilentMode, fmt.Sprintf("account silent mode, %d day(s) left", p.SilentDaysLeft)
	}
	if a := p.Asset(intent.Symbol); a != nil {
		if a.KillSwitch {
			return true, domain.ReasonKillSwitch, fmt.Sprintf("%s kill switch active", intent.Symbol)
		}
		if a.SilentDaysLeft > 0 {
			return true, domain.ReasonSilentMode, fmt.Sprintf("%s silent mode, %d day(s) left", intent.Symbol, a.SilentDaysLeft)
		}
	}
	return false, domain.ReasonNone, ""
}

// IsSilent true если скоуп под Silent Mode
func IsSilent(p *portfolio.Portfolio, scope Scope) bool {
	if scope.IsAccount() {
		return p.SilentDaysLeft > 0
	}
	a := p.Asset(scope.Symbol)
	return a != nil && a.SilentDaysLeft > 0
}

// assetFor актив скоупа; create заводит пустой актив, иначе nil для неизвестного символа
func assetFor(p *portfolio.Portfolio, symbol string, create bool) *portfolio.AssetPosition {
	if create {
		return p.EnsureAsset(symbol)
	}
	return p.Asset(symbol)
}

func killRef(p *portfolio.Portfolio, scope Scope, create bool) *bool {
	if scope.IsAccount() {
		return &p.KillSwitch
	}
	if a := assetFor(p, scope.Symbol, create); a != nil {
		return &a.KillSwitch
	}
	return nil
}

func silentRef(p *portfolio.Portfolio, scope Scope, create bool) *int {
	if scope.IsAccount() {
		return &p.SilentDaysLeft
	}
	if a := assetFor(p, scope.Symbol, create); a != nil {
		return &a.SilentDaysLeft
	}
	return nil
}

// TriggerKillSwitch бессрочная блокировка до явного снятия
func (m *Manager) TriggerKillSwitch(ctx context.Context, p *portfolio.Portfolio, scope Scope, ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	flag := killRef(p, scope, true)
	prev := *flag
	*flag = true

	rec := m.event(p, scope, domain.LockKillSwitch, audit.EventTrigger, ev)
	if err := m.auditor.Append(ctx, p.TenantID, domain.CategoryKillSwitch, rec.RecordedAt, rec); err != nil {
		*flag = prev
		return fmt.Errorf("kill switch %s/%s not applied: %w", p.TenantID, scope, err)
	}

	m.logger.Warn("🚨 KILL SWITCH %s/%s: %s (%s by %s)", p.TenantID, scope, ev.Code, ev.Reason, ev.Actor)
	m.notify(rec)
	return nil
}

// ReleaseKillSwitch явное снятие оператором
func (m *Manager) ReleaseKillSwitch(ctx context.Context, p *portfolio.Portfolio, scope Scope, actor string) error {
	if actor == "" {
		return fmt.Errorf("%w: release requires an actor", domain.ErrInvalidInput)
	}
	flag := killRef(p, scope, false)
	if flag == nil || !*flag {
		return fmt.Errorf("%w: kill switch %s/%s", ErrLockNotActive, p.TenantID, scope)
	}
	*flag = false

	rec := m.release(p, scope, domain.LockKillSwitch, domain.ReleaseManual, actor)
	if err := m.auditor.Append(ctx, p.TenantID, domain.CategoryKillSwitch, rec.RecordedAt, rec); err != nil {
		*flag = true
		return fmt.Errorf("kill switch release %s/%s not applied: %w", p.TenantID, scope, err)
	}

	m.logger.Info("✅ Kill switch released %s/%s by %s", p.TenantID, scope, actor)
	m.notify(rec)
	return nil
}

// TriggerSilent перезаписывает счетчик дней, без суммирования
func (m *Manager) TriggerSilent(ctx context.Context, p *portfolio.Portfolio, scope Scope, days int, ev Event) error {
	if days <= 0 {
		return fmt.Errorf("%w: silent days must be positive, got %d", domain.ErrInvalidInput, days)
	}
	if err := validateEvent(ev); err != nil {
		return err
	}
	counter := silentRef(p, scope, true)
	prev := *counter
	*counter = days

	rec := m.event(p, scope, domain.LockSilent, audit.EventTrigger, ev)
	rec.Days = days
	release := rec.RecordedAt.AddDate(0, 0, days)
	rec.ExpectedRelease = &release
	if err := m.auditor.Append(ctx, p.TenantID, domain.CategoryCoolingOff, rec.RecordedAt, rec); err != nil {
		*counter = prev
		return fmt.Errorf("silent mode %s/%s not applied: %w", p.TenantID, scope, err)
	}

	m.logger.Warn("🔇 Silent mode %s/%s for %d day(s): %s", p.TenantID, scope, days, ev.Code)
	m.notify(rec)
	return nil
}

// ReleaseSilent ручное снятие Silent Mode
func (m *Manager) ReleaseSilent(ctx context.Context, p *portfolio.Portfolio, scope Scope, actor string) error {
	if actor == "" {
		return fmt.Errorf("%w: release requires an actor", domain.ErrInvalidInput)
	}
	counter := silentRef(p, scope, false)
	if counter == nil || *counter <= 0 {
		return fmt.Errorf("%w: silent mode %s/%s", ErrLockNotActive, p.TenantID, scope)
	}
	prev := *counter
	*counter = 0

	rec := m.release(p, scope, domain.LockSilent, domain.ReleaseManual, actor)
	if err := m.auditor.Append(ctx, p.TenantID, domain.CategoryCoolingOff, rec.RecordedAt, rec); err != nil {
		*counter = prev
		return fmt.Errorf("silent release %s/%s not applied: %w", p.TenantID, scope, err)
	}

	m.logger.Info("🔈 Silent mode released %s/%s by %s", p.TenantID, scope, actor)
	m.notify(rec)
	return nil
}

// DailyTick уменьшает все активные счетчики; на нуле авто-снятие.
// Если запись авто-снятия не удалась, счетчик остается 1 до следующего цикла.
func (m *Manager) DailyTick(ctx context.Context, p *portfolio.Portfolio) ([]Scope, error) {
	scopes := []Scope{Account()}
	for _, sym := range p.Symbols() {
		scopes = append(scopes, Asset(sym))
	}

	var released []Scope
	var errs []error
	for _, scope := range scopes {
		counter := silentRef(p, scope, false)
		if counter == nil || *counter <= 0 {
			continue
		}
		*counter--
		if *counter > 0 {
			continue
		}

		rec := m.release(p, scope, domain.LockSilent, domain.ReleaseAuto, domain.ActorSystem)
		if err := m.auditor.Append(ctx, p.TenantID, domain.CategoryCoolingOff, rec.RecordedAt, rec); err != nil {
			*counter = 1
			errs = append(errs, fmt.Errorf("auto release %s/%s: %w", p.TenantID, scope, err))
			continue
		}
		m.logger.Info("⏱ Silent mode expired %s/%s", p.TenantID, scope)
		m.notify(rec)
		released = append(released, scope)
	}
	return released, errors.Join(errs...)
}

func validateEvent(ev Event) error {
	if ev.Actor == "" {
		return fmt.Errorf("%w: lock trigger requires an actor", domain.ErrInvalidInput)
	}
	if ev.Code == domain.ReasonNone {
		return fmt.Errorf("%w: lock trigger requires a reason code", domain.ErrInvalidInput)
	}
	return nil
}

func (m *Manager) event(p *portfolio.Portfolio, scope Scope, kind domain.LockKind, name string, ev Event) audit.LockEvent {
	reason := ev.Reason
	if reason == "" {
		reason = ev.Code.Text()
	}
	source := ev.Source
	if source == "" {
		source = domain.TriggerSourceManual
	}
	return audit.LockEvent{
		RecordedAt:    m.now(),
		TenantID:      p.TenantID,
		Event:         name,
		Kind:          kind,
		Level:         scope.Level(),
		Symbol:        scope.Symbol,
		TriggerType:   string(kind),
		TriggerSource: source,
		ReasonCode:    ev.Code,
		ReasonText:    reason,
		UserID:        ev.Actor,
	}
}

func (m *Manager) release(p *portfolio.Portfolio, scope Scope, kind domain.LockKind, releaseType, actor string) audit.LockEvent {
	return audit.LockEvent{
		RecordedAt:  m.now(),
		TenantID:    p.TenantID,
		Event:       audit.EventRelease,
		Kind:        kind,
		Level:       scope.Level(),
		Symbol:      scope.Symbol,
		UserID:      actor,
		ReleaseType: releaseType,
		ReleasedBy:  actor,
	}
}

func (m *Manager) notify(ev audit.LockEvent) {
	if m.notifier != nil {
		m.notifier.NotifyLock(ev)
	}
}
