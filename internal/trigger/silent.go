package trigger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/lock"
	"github.com/kirillm/riskgate/internal/policy"
	"github.com/kirillm/riskgate/internal/portfolio"
	"github.com/kirillm/riskgate/pkg/utils"
)

// SilentEngine правила конца дня; вызывается после CloseDay и DailyTick
type SilentEngine struct {
	locks  *lock.Manager
	rules  policy.DailyRules
	logger *utils.Logger
}

func NewSilentEngine(locks *lock.Manager, rules policy.DailyRules, logger *utils.Logger) *SilentEngine {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &SilentEngine{locks: locks, rules: rules, logger: logger}
}

type freeze struct {
	code domain.ReasonCode
	days int
}

// accountFreezes все сработавшие правила счета с их длительностью
func (e *SilentEngine) accountFreezes(p *portfolio.Portfolio, now time.Time) []freeze {
	var out []freeze
	if p.DailyReturnPct < e.rules.DailyLoss {
		out = append(out, freeze{domain.TriggerDailyLoss5, e.rules.DailyLossDays})
	}
	if p.MonthlyReturnPct < e.rules.MonthlyLoss {
		out = append(out, freeze{domain.TriggerMonthlyLoss10, portfolio.DaysLeftInMonth(now)})
	}
	if e.rules.ConsecutiveLosses > 0 && p.ConsecutiveLosingDays >= e.rules.ConsecutiveLosses {
		out = append(out, freeze{domain.TriggerConsecLoss3D, e.rules.ConsecutiveLossDay})
	}
	return out
}

// AssetFlags правила конца дня для одного актива
func (e *SilentEngine) AssetFlags(a *portfolio.AssetPosition) []domain.ReasonCode {
	var flags []domain.ReasonCode
	if a.Drawdown3D < e.rules.Drawdown3D {
		flags = append(flags, domain.TriggerDD3Gt10)
	}
	if e.rules.ConsecutiveDown > 0 && a.ConsecutiveDownDays >= e.rules.ConsecutiveDown {
		flags = append(flags, domain.TriggerConsecDown3D)
	}
	if a.DrawdownPct < e.rules.PositionDrawdown {
		flags = append(flags, domain.TriggerDrawPos15)
	}
	if math.Abs(a.LastSlippagePct) > e.rules.Slippage {
		flags = append(flags, domain.TriggerSlippage)
	}
	if a.IntradayDropPct > e.rules.IntradayDrop {
		flags = append(flags, domain.TriggerDrop8)
	}
	return flags
}

// Evaluate применяет правила конца дня. Заморозка ставится, только если
// она длиннее уже действующей: вечерний цикл не сокращает текущий Silent Mode.
func (e *SilentEngine) Evaluate(ctx context.Context, p *portfolio.Portfolio, now time.Time) (*Report, error) {
	report := newReport(p, domain.TriggerSourceDaily, now)
	var errs []error

	freezes := e.accountFreezes(p, now)
	if len(freezes) > 0 {
		longest := freezes[0]
		for _, f := range freezes {
			report.AccountFlags = append(report.AccountFlags, f.code)
			if f.days > longest.days {
				longest = f
			}
		}
		if longest.days > p.SilentDaysLeft {
			ev := eventFor(report.AccountFlags, domain.TriggerSourceDaily)
			ev.Code = longest.code
			if err := e.locks.TriggerSilent(ctx, p, lock.Account(), longest.days, ev); err != nil {
				errs = append(errs, err)
			} else {
				report.AccountFrozen = true
			}
		}
	}
	report.AccountSilentDaysLeft = p.SilentDaysLeft

	for _, sym := range p.HeldSymbols() {
		a := p.Asset(sym)
		flags := assetFlags(a)
		flags.Flags = e.AssetFlags(a)

		if len(flags.Flags) > 0 && e.rules.AssetSilentDays > a.SilentDaysLeft {
			if err := e.locks.TriggerSilent(ctx, p, lock.Asset(sym), e.rules.AssetSilentDays, eventFor(flags.Flags, domain.TriggerSourceDaily)); err != nil {
				errs = append(errs, err)
			} else {
				flags.Frozen = true
			}
		}
		flags.SilentDaysLeft = a.SilentDaysLeft
		report.Assets[sym] = flags
	}

	if triggered := report.Triggered(); len(triggered) > 0 {
		e.logger.Warn("End-of-day triggers for %s: %v", p.TenantID, triggered)
	}
	return report, errors.Join(errs...)
}
