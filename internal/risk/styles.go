package risk

import (
	"fmt"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/policy"
)

// styleRule накладывает поведение стиля поверх базового решения
type styleRule func(base domain.ApprovalDecision, requested int, s domain.RiskSignalSet, p policy.Profile) domain.ApprovalDecision

var styleRules = map[domain.RiskStyle]styleRule{
	domain.StyleConservative: conservativeRule,
	domain.StyleModerate:     moderateRule,
	domain.StyleAggressive:   aggressiveRule,
}

func moderateRule(base domain.ApprovalDecision, _ int, _ domain.RiskSignalSet, _ policy.Profile) domain.ApprovalDecision {
	return base
}

// conservativeRule перепроверяет одобренное решение по строгим порогам
func conservativeRule(base domain.ApprovalDecision, _ int, s domain.RiskSignalSet, p policy.Profile) domain.ApprovalDecision {
	if !base.Approved {
		return base
	}
	if vol, ok := s.Volatility(); ok && p.StrictMaxVolatility > 0 && vol > p.StrictMaxVolatility {
		return reject(base, domain.ReasonVolExceed,
			fmt.Sprintf("conservative: volatility %.4f exceeds %.4f", vol, p.StrictMaxVolatility))
	}
	if v, ok := s.VaR(); ok && p.StrictMinVaR < 0 && v < p.StrictMinVaR {
		return reject(base, domain.ReasonVaRViolation,
			fmt.Sprintf("conservative: VaR %.4f below %.4f", v, p.StrictMinVaR))
	}
	return base
}

var rescuable = map[domain.ReasonCode]bool{
	domain.ReasonVolExceed:     true,
	domain.ReasonVaRViolation:  true,
	domain.ReasonMaxLossExceed: true,
	domain.ReasonLowScore:      true,
}

// aggressiveRule переводит отказ по сигналам в уменьшенное одобрение
func aggressiveRule(base domain.ApprovalDecision, requested int, s domain.RiskSignalSet, p policy.Profile) domain.ApprovalDecision {
	if base.Approved || !p.RescueEnabled || !rescuable[base.ReasonCode] {
		return base
	}

	vol, volOK := s.Volatility()
	v, varOK := s.VaR()
	if !volOK || !varOK {
		return base
	}
	if s.Score() > p.RescueMinScore && vol < p.RescueMaxVolatility && v > p.RescueMinVaR {
		base.Approved = true
		base.Quantity = scaled(requested, p.RescueSizingFactor)
		base.Reason = fmt.Sprintf("aggressive: reduced size approval (%s overridden)", base.ReasonCode)
		base.ReasonCode = domain.ReasonNone
	}
	return base
}
