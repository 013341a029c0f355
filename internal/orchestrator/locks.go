package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/guard"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/portfolio"
)

// LockRequest ручная блокировка оператором
type LockRequest struct {
	Kind   domain.LockKind   `json:"kind"`
	Symbol string            `json:"symbol,omitempty"` // пусто = весь счет
	Days   int               `json:"days,omitempty"`   // только для silent
	Code   domain.ReasonCode `json:"reason_code,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Actor  string            `json:"actor"`
}

func scopeFor(symbol string) lock.Scope {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return lock.Account()
	}
	return lock.Asset(symbol)
}

// TriggerLock включает Silent Mode или KillSwitch и сохраняет состояние
func (s *Service) TriggerLock(ctx context.Context, tenantID string, req LockRequest) error {
	t, err := s.registry.Get(tenantID)
	if err != nil {
		return err
	}
	code := req.Code
	if code == domain.ReasonNone {
		code = domain.TriggerManualOperator
	}
	ev := lock.Event{
		Code:   code,
		Reason: req.Reason,
		Actor:  req.Actor,
		Source: domain.TriggerSourceManual,
	}

	t.Lock()
	defer t.Unlock()

	scope := scopeFor(req.Symbol)
	switch req.Kind {
	case domain.LockKillSwitch:
		err = s.locks.TriggerKillSwitch(ctx, t.Portfolio, scope, ev)
	case domain.LockSilent:
		err = s.locks.TriggerSilent(ctx, t.Portfolio, scope, req.Days, ev)
	default:
		return fmt.Errorf("%w: unknown lock kind %q", domain.ErrInvalidInput, req.Kind)
	}
	if err != nil {
		return err
	}
	return s.registry.Save(ctx, t, s.now())
}

// ReleaseLock явное снятие; снятие неактивной блокировки возвращает lock.ErrLockNotActive
func (s *Service) ReleaseLock(ctx context.Context, tenantID string, kind domain.LockKind, symbol, actor string) error {
	t, err := s.registry.Get(tenantID)
	if err != nil {
		return err
	}

	t.Lock()
	defer t.Unlock()

	scope := scopeFor(symbol)
	switch kind {
	case domain.LockKillSwitch:
		err = s.locks.ReleaseKillSwitch(ctx, t.Portfolio, scope, actor)
	case domain.LockSilent:
		err = s.locks.ReleaseSilent(ctx, t.Portfolio, scope, actor)
	default:
		return fmt.Errorf("%w: unknown lock kind %q", domain.ErrInvalidInput, kind)
	}
	if err != nil {
		return err
	}
	return s.registry.Save(ctx, t, s.now())
}

// TenantStatus сводка для API и оператора
type TenantStatus struct {
	TenantID  string                `json:"tenant_id"`
	Enabled   bool                  `json:"enabled"`
	RiskStyle domain.RiskStyle      `json:"risk_style"`
	DryRun    bool                  `json:"dry_run"`
	Portfolio portfolio.Snapshot    `json:"portfolio"`
	Held      []*domain.TradeIntent `json:"held_intents"`
	Throttle  guard.ThrottleState   `json:"throttle"`
}

func (s *Service) Status(tenantID string) (*TenantStatus, error) {
	t, err := s.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	t.Lock()
	defer t.Unlock()

	return &TenantStatus{
		TenantID:  t.ID(),
		Enabled:   t.Config.Enabled,
		RiskStyle: t.Config.RiskStyle,
		DryRun:    t.Config.DryRun,
		Portfolio: t.Portfolio.Snapshot(),
		Held:      t.Held(),
		Throttle:  *t.Throttler.State(),
	}, nil
}

// Tenants id всех зарегистрированных тенантов
func (s *Service) Tenants() []string {
	all := s.registry.All()
	ids := make([]string, 0, len(all))
	for _, t := range all {
		ids = append(ids, t.ID())
	}
	return ids
}
