package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/kirillm/riskgate/internal/tenant"
	"github.com/kirillm/riskgate/internal/trigger"
)

// DailySummary детали записи daily_summary
type DailySummary struct {
	Day      portfolio.DailyResult `json:"day"`
	Released []string              `json:"released,omitempty"`
	Expired  []string              `json:"expired_intents,omitempty"`
	Report   *trigger.Report       `json:"report"`
}

// MonthlySummary детали записи monthly_optimizer
type MonthlySummary struct {
	ClosedMonth      string  `json:"closed_month"`
	MonthlyReturnPct float64 `json:"monthly_return_pct"`
	StartValue       float64 `json:"start_value"`
	NetValue         float64 `json:"net_value"`
	PeakValue        float64 `json:"peak_value"`
	DrawdownPct      float64 `json:"account_drawdown_pct"`
}

func (s *Scheduler) marketFor(t *tenant.Tenant) domain.MarketData {
	if m, ok := s.markets[t.Config.Broker]; ok {
		return m
	}
	return s.market
}

// refresh переоценка по рынку брокера тенанта; пропавшая цена отключает торговлю через SystemGuard
func (s *Scheduler) refresh(ctx context.Context, t *tenant.Tenant, now time.Time) error {
	err := t.Portfolio.RefreshValuation(ctx, s.marketFor(t), now)
	if err == nil {
		return nil
	}
	if s.guard != nil && errors.Is(err, domain.ErrPriceUnavailable) {
		s.guard.ReportFailure(fmt.Sprintf("valuation of %s failed: %v", t.ID(), err))
	}
	return fmt.Errorf("refresh valuation: %w", err)
}

// scanTenant вызывается под мьютексом тенанта
func (s *Scheduler) scanTenant(ctx context.Context, t *tenant.Tenant, now time.Time) error {
	p := t.Portfolio
	if err := s.refresh(ctx, t, now); err != nil {
		return err
	}

	var errs []error
	report, err := s.intraday.Scan(ctx, p, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("intraday scan: %w", err))
	}

	if err := s.writeCycle(ctx, t, domain.CategoryPeriodicScan, now, report.Triggered(), report); err != nil {
		errs = append(errs, err)
	}

	t.MarkScan(now)
	if err := s.registry.Save(ctx, t, now); err != nil {
		errs = append(errs, err)
	}
	if s.schedules != nil {
		if err := s.schedules.MarkScan(ctx, t.ID(), now); err != nil {
			s.logger.Warn("Failed to record scan time for %s: %v", t.ID(), err)
		}
	}
	return errors.Join(errs...)
}

// dailyTenant закрытие дня: доходности, тик блокировок, истечение HELD, правила конца дня
func (s *Scheduler) dailyTenant(ctx context.Context, t *tenant.Tenant, now time.Time) error {
	p := t.Portfolio
	if err := s.refresh(ctx, t, now); err != nil {
		return err
	}

	var errs []error
	startOfMonth := p.StartOfMonthValue
	peak := p.AccountPeakValue
	drawdown := p.AccountDrawdownPct
	day := p.CloseDay(now)

	released, err := s.locks.DailyTick(ctx, p)
	if err != nil {
		errs = append(errs, fmt.Errorf("lock tick: %w", err))
	}

	expired := t.ExpireHeld(func(intent *domain.TradeIntent) bool {
		return lock.IsSilent(p, lock.Account()) || lock.IsSilent(p, lock.Asset(intent.Symbol))
	})
	expiredIDs := make([]string, 0, len(expired))
	for _, intent := range expired {
		expiredIDs = append(expiredIDs, intent.ID)
		rec := audit.HeldExpiry{
			RecordedAt: now,
			TenantID:   t.ID(),
			Event:      audit.EventExpired,
			Intent:     intent,
			State:      string(domain.StateTimeout),
			StatusCode: domain.StateTimeout.StatusCode(),
		}
		if err := s.audit.Append(ctx, t.ID(), domain.CategoryCoolingOff, now, rec); err != nil {
			errs = append(errs, fmt.Errorf("held expiry %s: %w", intent.ID, err))
			continue
		}
		s.logger.Info("⌛ Held intent %s/%s timed out", t.ID(), intent.ID)
	}

	report, err := s.silent.Evaluate(ctx, p, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("daily triggers: %w", err))
	}

	summary := DailySummary{Day: day, Expired: expiredIDs, Report: report}
	for _, scope := range released {
		summary.Released = append(summary.Released, scope.String())
	}
	if err := s.writeCycle(ctx, t, domain.CategoryDailySummary, now, report.Triggered(), summary); err != nil {
		errs = append(errs, err)
	}

	if day.NewMonth {
		prev := now.AddDate(0, -1, 0)
		monthly := MonthlySummary{
			ClosedMonth:      prev.Format("2006-01"),
			MonthlyReturnPct: day.PrevMonthReturnPct,
			StartValue:       startOfMonth,
			NetValue:         day.PrevNetValue,
			PeakValue:        peak,
			DrawdownPct:      drawdown,
		}
		if err := s.writeCycle(ctx, t, domain.CategoryMonthlyOptimizer, now, nil, monthly); err != nil {
			errs = append(errs, err)
		}
		s.logger.Info("📅 Month %s closed for %s: %.2f%%", monthly.ClosedMonth, t.ID(), monthly.MonthlyReturnPct*100)
	}

	t.MarkDaily(now)
	if err := s.registry.Save(ctx, t, now); err != nil {
		errs = append(errs, err)
	}
	if s.schedules != nil {
		if err := s.schedules.MarkDaily(ctx, t.ID(), now); err != nil {
			s.logger.Warn("Failed to record daily time for %s: %v", t.ID(), err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) writeCycle(ctx context.Context, t *tenant.Tenant, category domain.Category, now time.Time, triggered []domain.ReasonCode, details interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal %s details: %w", category, err)
	}
	rec := audit.CycleRecord{
		RecordedAt: now,
		TenantID:   t.ID(),
		Kind:       string(category),
		Triggered:  triggered,
		Snapshot:   t.Portfolio.Snapshot(),
		Details:    raw,
	}
	if err := s.audit.Append(ctx, t.ID(), category, now, rec); err != nil {
		return fmt.Errorf("%s record: %w", category, err)
	}
	return nil
}
