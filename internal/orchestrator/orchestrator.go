package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/execution"
	"github.com/kirillm/riskgate/internal/guard"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/metrics"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/kirillm/riskgate/internal/risk"
	"github.com/kirillm/riskgate/internal/tenant"
	"github.com/kirillm/riskgate/internal/trigger"
	"github.com/kirillm/riskgate/pkg/utils"
)

// DecisionLog журнал решений с проверкой записи
type DecisionLog interface {
	lock.Auditor
	VerifyDecision(tenantID string, at time.Time, intentID string) error
}

// Notifier эскалация операторам
type Notifier interface {
	NotifyAuditFailure(tenantID string, rec *domain.ExecutionRecord, err error)
}

// Deps зависимости сервиса
type Deps struct {
	Registry   *tenant.Registry
	Controller *risk.Controller
	Locks      *lock.Manager
	Intraday   *trigger.IntradayEngine
	Executor   *execution.Executor
	Market     domain.MarketData
	// Venues по имени брокера тенанта; пустые поля берутся из Executor, Market, Controller
	Venues     map[string]Venue
	Audit      DecisionLog
	Guard      *guard.SystemGuard
	Metrics    *metrics.Metrics
	Notifier   Notifier
	Logger     *utils.Logger
}

// Venue рынок брокера: исполнение, котировки и оценка риска по одному источнику
type Venue struct {
	Executor   *execution.Executor
	Market     domain.MarketData
	Controller *risk.Controller
}

// Service единая точка входа для всех торговых намерений
type Service struct {
	registry   *tenant.Registry
	controller *risk.Controller
	locks      *lock.Manager
	intraday   *trigger.IntradayEngine
	executor   *execution.Executor
	market     domain.MarketData
	venues     map[string]Venue
	audit      DecisionLog
	guard      *guard.SystemGuard
	metrics    *metrics.Metrics
	notifier   Notifier
	logger     *utils.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = utils.NopLogger()
	}
	return &Service{
		registry:   d.Registry,
		controller: d.Controller,
		locks:      d.Locks,
		intraday:   d.Intraday,
		executor:   d.Executor,
		market:     d.Market,
		venues:     d.Venues,
		audit:      d.Audit,
		guard:      d.Guard,
		metrics:    d.Metrics,
		notifier:   d.Notifier,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// SetClock для детерминированных тестов
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetNotifier подключает эскалацию после создания сервиса (бот зависит от сервиса)
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// venueFor рынок брокера тенанта с подстановкой значений по умолчанию
func (s *Service) venueFor(t *tenant.Tenant) Venue {
	v := s.venues[t.Config.Broker]
	if v.Executor == nil {
		v.Executor = s.executor
	}
	if v.Market == nil {
		v.Market = s.market
	}
	if v.Controller == nil {
		v.Controller = s.controller
	}
	return v
}

// run состояние одной попытки Submit
type run struct {
	tenant    *tenant.Tenant
	intent    *domain.TradeIntent
	lifecycle *domain.Lifecycle
	approval  *domain.ApprovalDecision
	fill      *domain.Fill
	code      domain.ReasonCode
	reason    string
	execErr   error
	flags     []domain.ReasonCode
	intraday  json.RawMessage
	executed  bool
	applied   bool
	audited   bool
	auditOK   bool
}

// settle переводит в конечное состояние с причиной
func (r *run) settle(state domain.TradeLifecycleState, code domain.ReasonCode, reason string, at time.Time) {
	if err := r.lifecycle.Transition(state, at); err != nil {
		// из APPROVED в REJECTED перейти нельзя, такие пути заканчиваются ERROR
		_ = r.lifecycle.Transition(domain.StateError, at)
	}
	r.code = code
	r.reason = reason
	if r.reason == "" {
		r.reason = code.Text()
	}
}

// Submit проводит намерение через весь конвейер. Отказы политики возвращаются
// как результат; ошибкой возвращаются только сбои инфраструктуры и аудита.
func (s *Service) Submit(ctx context.Context, tenantID string, intent *domain.TradeIntent) (rec *domain.ExecutionRecord, err error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if intent.TenantID != tenantID {
		return nil, fmt.Errorf("%w: intent tenant %q does not match %q", domain.ErrInvalidInput, intent.TenantID, tenantID)
	}
	t, err := s.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}

	t.Lock()
	defer t.Unlock()

	r := &run{
		tenant:    t,
		intent:    intent,
		lifecycle: domain.NewLifecycle(s.now()),
	}
	log := s.logger.With("tenant", tenantID).With("intent", intent.ID)

	defer func() {
		if p := recover(); p != nil {
			log.Error("💥 Panic in trade pipeline: %v", p)
			if !r.executed && !r.lifecycle.Settled() {
				r.settle(domain.StateError, domain.ReasonUnknown, fmt.Sprintf("internal error: %v", p), s.now())
			}
			panicErr := fmt.Errorf("%w: pipeline panic: %v", domain.ErrInfrastructure, p)
			r.execErr = panicErr
			rec, err = s.finish(ctx, r, panicErr)
		}
	}()

	pipelineErr := s.pipeline(ctx, r)
	return s.finish(ctx, r, pipelineErr)
}

func (s *Service) pipeline(ctx context.Context, r *run) error {
	t, intent := r.tenant, r.intent
	cfg := t.Config

	if !cfg.Enabled {
		r.settle(domain.StateSkipped, domain.ReasonTenantDisabled, "", s.now())
		return nil
	}
	if t.SeenIntent(intent.ID) {
		r.settle(domain.StateRejected, domain.ReasonDuplicateIntent, "", s.now())
		return nil
	}
	t.RememberIntent(intent.ID)

	if !cfg.InUniverse(intent.Symbol) {
		r.settle(domain.StateRejected, domain.ReasonUnauthorized,
			fmt.Sprintf("%s is outside the tenant universe", intent.Symbol), s.now())
		return nil
	}

	// 0. SystemGuard и лимит стратегии
	if s.guard != nil {
		if ok, reason := s.guard.Check(ctx); !ok {
			r.settle(domain.StateRejected, domain.ReasonSystemGuard, reason, s.now())
			return nil
		}
	}
	if intent.Source == domain.SourceStrategy {
		if ok, reason := t.Throttler.Allow(s.now()); !ok {
			r.settle(domain.StateRejected, domain.ReasonStrategyThrottled, reason, s.now())
			return nil
		}
	}

	// 0b. Внутридневной срез для аудита
	s.snapshotIntraday(r)

	// 1. Блокировки
	if blocked, code, reason := s.locks.ShouldBlock(t.Portfolio, intent); blocked {
		if code == domain.ReasonSilentMode && (intent.HoldOnCooling || cfg.HoldOnCooling) {
			t.Hold(intent)
			r.settle(domain.StateHeld, code, reason, s.now())
			return nil
		}
		r.settle(domain.StateBlocked, code, reason, s.now())
		return nil
	}

	// 2. Риск-контроль
	venue := s.venueFor(t)
	signals, err := venue.Controller.Evaluate(ctx, t.ID(), intent.Symbol)
	if err != nil {
		return s.infraFailure(r, err)
	}
	price, err := venue.Market.GetLatestPrice(ctx, intent.Symbol)
	if err != nil {
		return s.infraFailure(r, fmt.Errorf("%w: %s: %v", domain.ErrPriceUnavailable, intent.Symbol, err))
	}

	decision := venue.Controller.ApproveTrade(intent, signals, cfg.RiskStyle, risk.TradeContext{
		Cash:     t.Portfolio.Cash,
		Position: t.Portfolio.Position(intent.Symbol),
		Price:    price,
		NetValue: t.Portfolio.CurrentNetValue,
	})
	if err := intent.AttachApproval(decision); err != nil {
		r.settle(domain.StateRejected, domain.ReasonDuplicateIntent, err.Error(), s.now())
		return nil
	}
	r.approval = &decision

	if !decision.Approved {
		if intent.Source == domain.SourceStrategy {
			t.Throttler.ReportFailure()
		}
		r.settle(domain.StateRejected, decision.ReasonCode, decision.Reason, s.now())
		return nil
	}
	if err := r.lifecycle.Transition(domain.StateApproved, s.now()); err != nil {
		return err
	}

	// 3. Исполнение
	fill, err := venue.Executor.Execute(ctx, execution.Order{
		IntentID:       intent.ID,
		Symbol:         intent.Symbol,
		Action:         intent.Action,
		Quantity:       decision.Quantity,
		ReferencePrice: price,
		DryRun:         cfg.DryRun,
	})
	r.fill = fill
	if err != nil {
		if intent.Source == domain.SourceStrategy {
			t.Throttler.ReportFailure()
		}
		r.execErr = err
		r.settle(domain.StateError, domain.ReasonExecutionFailed, err.Error(), s.now())
		if returnable(err) {
			s.reportInfra(err)
			return err
		}
		return nil
	}

	// EXECUTED ставится только после проверки записи аудита
	r.executed = true
	r.code = domain.ReasonNone
	r.reason = decision.Reason
	return nil
}

// returnable инфраструктурные ошибки исполнения, которые уходят вызывающему
func returnable(err error) bool {
	return errors.Is(err, domain.ErrPriceUnavailable) ||
		errors.Is(err, domain.ErrInfrastructure) ||
		errors.Is(err, domain.ErrPersistence)
}

func (s *Service) infraFailure(r *run, err error) error {
	r.execErr = err
	r.settle(domain.StateError, domain.ReasonUnknown, err.Error(), s.now())
	s.reportInfra(err)
	return err
}

func (s *Service) reportInfra(err error) {
	if s.guard != nil {
		s.guard.ReportFailure(err.Error())
	}
}

type intradaySnapshot struct {
	AccountDrawdownPct  float64             `json:"account_drawdown_pct"`
	Symbol              string              `json:"symbol"`
	DrawdownPct         float64             `json:"drawdown_pct"`
	Drawdown3D          float64             `json:"drawdown_3d"`
	IntradayDropPct     float64             `json:"intraday_drop_pct"`
	ConsecutiveDownDays int                 `json:"consecutive_down_days"`
	LastSlippagePct     float64             `json:"last_slippage_pct"`
	Flags               []domain.ReasonCode `json:"flags"`
}

// snapshotIntraday флаги по текущим метрикам, без новых блокировок
func (s *Service) snapshotIntraday(r *run) {
	if s.intraday == nil {
		return
	}
	p := r.tenant.Portfolio
	snap := intradaySnapshot{
		AccountDrawdownPct: p.AccountDrawdownPct,
		Symbol:             r.intent.Symbol,
	}
	snap.Flags = append(snap.Flags, s.intraday.AccountFlags(p)...)
	if a := p.Asset(r.intent.Symbol); a != nil {
		snap.DrawdownPct = a.DrawdownPct
		snap.Drawdown3D = a.Drawdown3D
		snap.IntradayDropPct = a.IntradayDropPct
		snap.ConsecutiveDownDays = a.ConsecutiveDownDays
		snap.LastSlippagePct = a.LastSlippagePct
		snap.Flags = append(snap.Flags, s.intraday.AssetFlags(a)...)
	}
	r.flags = snap.Flags
	if raw, err := json.Marshal(snap); err == nil {
		r.intraday = raw
	}
}

// finish ровно одна запись decisions, применение исполнения и сохранение состояния
func (s *Service) finish(ctx context.Context, r *run, pipelineErr error) (*domain.ExecutionRecord, error) {
	t, intent := r.tenant, r.intent
	log := s.logger.With("tenant", t.ID()).With("intent", intent.ID)
	errs := []error{pipelineErr}

	executed := r.executed
	if executed && !r.applied {
		r.applied = true
		if err := s.applyFill(ctx, r); err != nil {
			log.Error("❌ Failed to apply fill: %v", err)
			errs = append(errs, err)
		}
	}

	if !r.audited {
		r.audited = true
		state := r.lifecycle.State()
		if executed {
			state = domain.StateExecuted
		}
		if err := s.writeDecision(ctx, r, state); err != nil {
			log.Error("❌ Decision audit write failed: %v", err)
			s.reportInfra(err)
			errs = append(errs, err)
			if executed {
				errs = append(errs, s.auditFailed(r, err))
			}
		} else if executed {
			if err := s.audit.VerifyDecision(t.ID(), r.lifecycle.History()[0].At, intent.ID); err != nil {
				errs = append(errs, s.auditFailed(r, err))
			} else {
				r.auditOK = true
				_ = r.lifecycle.Transition(domain.StateExecuted, s.now())
			}
		} else {
			r.auditOK = true
		}
	}

	if err := s.registry.Save(ctx, t, s.now()); err != nil {
		log.Error("❌ Failed to persist tenant state: %v", err)
		s.reportInfra(err)
		errs = append(errs, err)
	}

	rec := s.record(r)
	s.metrics.ObserveDecision(rec)
	s.logOutcome(log, rec)
	return rec, errors.Join(errs...)
}

func (s *Service) applyFill(ctx context.Context, r *run) error {
	t, f := r.tenant, r.fill
	_, err := t.Portfolio.ApplyFill(portfolio.FillInput{
		Action:      r.intent.Action,
		Symbol:      r.intent.Symbol,
		Quantity:    f.Quantity,
		Price:       f.Price,
		SlippagePct: f.SlippagePct,
		Commission:  f.Commission,
		At:          f.FilledAt,
	})
	if err != nil {
		return err
	}
	if err := t.Portfolio.RefreshValuation(ctx, s.venueFor(t).Market, s.now()); err != nil {
		s.logger.Warn("Valuation refresh after fill failed for %s: %v", t.ID(), err)
	}
	t.Throttler.ResetFailures()
	return nil
}

// auditFailed EXECUTED_AUDIT_FAILED, эскалация; повторов нет
func (s *Service) auditFailed(r *run, cause error) error {
	_ = r.lifecycle.Transition(domain.StateExecutedAuditFailed, s.now())
	r.auditOK = false
	err := cause
	if !errors.Is(err, domain.ErrAuditIntegrity) {
		err = fmt.Errorf("%w: %v", domain.ErrAuditIntegrity, cause)
	}

	s.logger.Error("🚨 AUDIT INTEGRITY FAILURE %s/%s: %v", r.tenant.ID(), r.intent.ID, err)
	s.metrics.AuditFailure()
	if s.notifier != nil {
		s.notifier.NotifyAuditFailure(r.tenant.ID(), s.record(r), err)
	}
	return err
}

func (s *Service) writeDecision(ctx context.Context, r *run, state domain.TradeLifecycleState) error {
	exec := audit.ExecutionSection{
		Status:     executionStatus(state),
		StatusCode: domain.StatusCodeFor(state, r.code),
		ReasonCode: r.code,
		Reason:     r.reason,
	}
	ectx := audit.ExecutionContext{DryRun: r.tenant.Config.DryRun, Broker: s.venueFor(r.tenant).Executor.BrokerName()}
	executorType := domain.ExecutorLiveBroker
	if r.tenant.Config.DryRun {
		executorType = domain.ExecutorSimulated
	}
	if f := r.fill; f != nil {
		exec.OrderID = f.OrderID
		exec.Quantity = f.Quantity
		exec.Price = f.Price
		exec.ExpectedPrice = f.ExpectedPrice
		exec.SlippagePct = f.SlippagePct
		exec.LatencyMs = f.LatencyMs
		exec.Commission = f.Commission
		executorType = f.ExecutorType
	}
	if r.execErr != nil {
		exec.Error = r.execErr.Error()
	}

	at := r.lifecycle.History()[0].At
	rec := audit.DecisionRecord{
		RecordedAt:        at,
		TenantID:          r.tenant.ID(),
		Intent:            r.intent,
		Approval:          r.approval,
		Execution:         exec,
		ExecutionContext:  ectx,
		ExecutorType:      executorType,
		PortfolioSnapshot: r.tenant.Portfolio.Snapshot(),
		RiskEventFlags:    r.flags,
		IntradaySnapshot:  r.intraday,
	}
	return s.audit.Append(ctx, r.tenant.ID(), domain.CategoryDecisions, at, rec)
}

func executionStatus(state domain.TradeLifecycleState) string {
	switch state {
	case domain.StateExecuted:
		return domain.ExecStatusOK
	case domain.StateError:
		return domain.ExecStatusError
	default:
		return domain.ExecStatusNotSent
	}
}

func (s *Service) record(r *run) *domain.ExecutionRecord {
	state := r.lifecycle.State()
	rec := &domain.ExecutionRecord{
		IntentID:    r.intent.ID,
		TenantID:    r.tenant.ID(),
		Symbol:      r.intent.Symbol,
		Action:      r.intent.Action,
		Quantity:    r.intent.Quantity,
		Source:      r.intent.Source,
		State:       state,
		StatusCode:  domain.StatusCodeFor(state, r.code),
		ReasonCode:  r.code,
		Reason:      r.reason,
		Approval:    r.approval,
		Fill:        r.fill,
		AuditOK:     r.auditOK,
		Lifecycle:   r.lifecycle.History(),
		CompletedAt: s.now(),
	}
	if r.execErr != nil {
		rec.Error = r.execErr.Error()
	}
	return rec
}

func (s *Service) logOutcome(log *utils.Logger, rec *domain.ExecutionRecord) {
	switch rec.State {
	case domain.StateExecuted:
		log.Info("✅ %s %s x%d executed (%s)", rec.Action, rec.Symbol, rec.Fill.Quantity, rec.StatusCode)
	case domain.StateHeld:
		log.Info("⏸ %s %s x%d held: %s", rec.Action, rec.Symbol, rec.Quantity, rec.Reason)
	case domain.StateError, domain.StateExecutedAuditFailed:
		log.Error("❌ %s %s x%d %s: %s", rec.Action, rec.Symbol, rec.Quantity, rec.StatusCode, rec.Reason)
	default:
		log.Info("🚫 %s %s x%d %s [%s]: %s", rec.Action, rec.Symbol, rec.Quantity, rec.StatusCode, rec.ReasonCode, rec.Reason)
	}
}
