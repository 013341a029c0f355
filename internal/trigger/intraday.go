package trigger

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/policy"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/kirillm/riskgate/pkg/utils"
)

// IntradayEngine правила, проверяемые на каждом периодическом скане
type IntradayEngine struct {
	locks  *lock.Manager
	rules  policy.IntradayRules
	logger *utils.Logger
}

func NewIntradayEngine(locks *lock.Manager, rules policy.IntradayRules, logger *utils.Logger) *IntradayEngine {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &IntradayEngine{locks: locks, rules: rules, logger: logger}
}

// AccountFlags правила уровня счета
func (e *IntradayEngine) AccountFlags(p *portfolio.Portfolio) []domain.ReasonCode {
	var flags []domain.ReasonCode
	if p.AccountDrawdownPct < e.rules.AccountDrawdown {
		flags = append(flags, domain.TriggerAccountDD5)
	}
	return flags
}

// AssetFlags правила уровня актива
func (e *IntradayEngine) AssetFlags(a *portfolio.AssetPosition) []domain.ReasonCode {
	var flags []domain.ReasonCode
	if a.DrawdownPct < e.rules.AssetDrawdown {
		flags = append(flags, domain.TriggerDrawPos7)
	}
	if e.rules.ConsecutiveDown > 0 && a.ConsecutiveDownDays >= e.rules.ConsecutiveDown {
		flags = append(flags, domain.TriggerConsecDown3D)
	}
	if a.IntradayDropPct > e.rules.IntradayDrop {
		flags = append(flags, domain.TriggerDrop8)
	}
	if a.Drawdown3D < e.rules.Drawdown3D {
		flags = append(flags, domain.TriggerDD3Gt10)
	}
	if math.Abs(a.LastSlippagePct) > e.rules.Slippage {
		flags = append(flags, domain.TriggerSlippage)
	}
	return flags
}

// Scan проверяет метрики (уже обновленные RefreshValuation) и замораживает скоупы.
// Скоуп под Silent Mode повторно не триггерится.
func (e *IntradayEngine) Scan(ctx context.Context, p *portfolio.Portfolio, now time.Time) (*Report, error) {
	report := newReport(p, domain.TriggerSourceIntraday, now)
	var errs []error

	report.AccountFlags = e.AccountFlags(p)
	if len(report.AccountFlags) > 0 && !lock.IsSilent(p, lock.Account()) {
		err := e.locks.TriggerSilent(ctx, p, lock.Account(), e.rules.AccountSilentDays, eventFor(report.AccountFlags, domain.TriggerSourceIntraday))
		if err != nil {
			errs = append(errs, err)
		} else {
			report.AccountFrozen = true
		}
	}
	report.AccountSilentDaysLeft = p.SilentDaysLeft

	for _, sym := range p.HeldSymbols() {
		a := p.Asset(sym)
		flags := assetFlags(a)
		flags.Flags = e.AssetFlags(a)

		if len(flags.Flags) > 0 && !lock.IsSilent(p, lock.Asset(sym)) {
			err := e.locks.TriggerSilent(ctx, p, lock.Asset(sym), e.rules.AssetSilentDays, eventFor(flags.Flags, domain.TriggerSourceIntraday))
			if err != nil {
				errs = append(errs, err)
			} else {
				flags.Frozen = true
			}
		}
		flags.SilentDaysLeft = a.SilentDaysLeft
		report.Assets[sym] = flags
	}

	if triggered := report.Triggered(); len(triggered) > 0 {
		e.logger.Warn("Intraday triggers for %s: %v", p.TenantID, triggered)
	}
	return report, errors.Join(errs...)
}

// eventFor первый код как основной, текст перечисляет все
func eventFor(codes []domain.ReasonCode, source string) lock.Event {
	texts := make([]string, 0, len(codes))
	for _, c := range codes {
		texts = append(texts, string(c))
	}
	return lock.Event{
		Code:   codes[0],
		Reason: codes[0].Text() + " [" + strings.Join(texts, ",") + "]",
		Actor:  domain.ActorSystem,
		Source: source,
	}
}
