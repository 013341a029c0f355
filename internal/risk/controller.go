package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/policy"
)

// SignalSource источник риск-сигналов по символу
type SignalSource interface {
	Estimate(ctx context.Context, symbol string) (domain.RiskSignalSet, error)
}

// CommissionFunc оценка комиссии для проверки кэша
type CommissionFunc func(quantity int, price float64) float64

// TradeContext состояние портфеля на момент решения
type TradeContext struct {
	Cash     float64
	Position int
	Price    float64
	NetValue float64
}

// Controller многофакторное одобрение сделок
type Controller struct {
	signals    SignalSource
	policy     *policy.Engine
	commission CommissionFunc
}

func NewController(signals SignalSource, engine *policy.Engine, commission CommissionFunc) *Controller {
	if engine == nil {
		engine = policy.NewDefaultEngine()
	}
	if commission == nil {
		commission = func(int, float64) float64 { return 0 }
	}
	return &Controller{
		signals:    signals,
		policy:     engine,
		commission: commission,
	}
}

// Evaluate сигналы для символа тенанта
func (c *Controller) Evaluate(ctx context.Context, tenantID, symbol string) (domain.RiskSignalSet, error) {
	if c.signals == nil {
		return domain.EmptySignals(), nil
	}
	signals, err := c.signals.Estimate(ctx, symbol)
	if err != nil {
		return signals, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	return signals, nil
}

// ApproveTrade чистая функция: намерение + сигналы + стиль -> решение
func (c *Controller) ApproveTrade(intent *domain.TradeIntent, signals domain.RiskSignalSet, style domain.RiskStyle, tc TradeContext) domain.ApprovalDecision {
	profile, resolved := c.policy.Profile(style)

	decision := domain.ApprovalDecision{
		RiskStyle: resolved,
		Score:     signals.Score(),
		Signals:   signals,
	}

	if intent.Action == domain.ActionSell {
		if intent.Quantity > tc.Position {
			return reject(decision, domain.ReasonPositionTooSmall,
				fmt.Sprintf("sell quantity %d exceeds position %d", intent.Quantity, tc.Position))
		}
		decision.Approved = true
		decision.Quantity = intent.Quantity
		decision.Reason = "sell covered by position"
		return decision
	}

	if tc.Price <= 0 {
		return reject(decision, domain.ReasonUnknown, "no valid price for cost estimate")
	}

	cost := projectedCost(intent.Quantity, tc.Price, profile.SlippageBuffer, c.commission)
	if tc.Cash-cost < 0 {
		return reject(decision, domain.ReasonInsufficientCash,
			fmt.Sprintf("projected cost %.2f exceeds cash %.2f", cost, tc.Cash))
	}

	base := baseRule(decision, intent.Quantity, signals, profile, cost, tc.NetValue)

	rule, ok := styleRules[resolved]
	if !ok {
		rule = styleRules[domain.StyleModerate]
	}
	return rule(base, intent.Quantity, signals, profile)
}

func projectedCost(quantity int, price, slippageBuffer float64, commission CommissionFunc) float64 {
	return float64(quantity)*price*(1+slippageBuffer) + commission(quantity, price)
}

// baseRule пороги умеренного профиля: волатильность, VaR, макс. убыток, score
func baseRule(d domain.ApprovalDecision, quantity int, s domain.RiskSignalSet, p policy.Profile, cost, netValue float64) domain.ApprovalDecision {
	if vol, ok := s.Volatility(); ok && vol > p.MaxVolatility {
		return reject(d, domain.ReasonVolExceed, fmt.Sprintf("volatility %.4f exceeds %.4f", vol, p.MaxVolatility))
	}
	if v, ok := s.VaR(); ok && v < p.MinVaR {
		return reject(d, domain.ReasonVaRViolation, fmt.Sprintf("VaR %.4f below %.4f", v, p.MinVaR))
	}
	if cv, ok := s.CVaR(); ok && netValue > 0 && p.MaxTradeLossPct > 0 {
		loss := cost * math.Abs(cv)
		if limit := p.MaxTradeLossPct * netValue; loss > limit {
			return reject(d, domain.ReasonMaxLossExceed, fmt.Sprintf("tail loss %.2f exceeds %.2f", loss, limit))
		}
	}
	if s.Score() < p.ScoreFloor {
		return reject(d, domain.ReasonLowScore, fmt.Sprintf("score %.2f below floor %.2f", s.Score(), p.ScoreFloor))
	}

	d.Approved = true
	d.ReasonCode = domain.ReasonNone
	if s.Score() < p.ScoreLimit {
		d.Quantity = scaled(quantity, p.LimitSizingFactor)
		d.Reason = fmt.Sprintf("score %.2f below %.2f, sizing limited to %d", s.Score(), p.ScoreLimit, d.Quantity)
		return d
	}
	d.Quantity = quantity
	d.Reason = "all risk factors within limits"
	return d
}

func reject(d domain.ApprovalDecision, code domain.ReasonCode, reason string) domain.ApprovalDecision {
	d.Approved = false
	d.Quantity = 0
	d.ReasonCode = code
	d.Reason = reason
	return d
}

// scaled не меньше одной единицы
func scaled(quantity int, factor float64) int {
	q := int(math.Floor(float64(quantity) * factor))
	if q < 1 {
		q = 1
	}
	return q
}
