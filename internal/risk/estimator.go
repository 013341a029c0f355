package risk

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kirillm/riskgate/internal/domain"
)

const (
	defaultLookbackDays = 100
	defaultConfidence   = 0.95
	defaultRegimeWindow = 50
	regimeBand          = 0.02
)

// Estimator считает сигналы по истории цен: волатильность, исторический VaR/CVaR и режим
type Estimator struct {
	market       domain.MarketData
	lookbackDays int
	confidence   float64
	regimeWindow int
}

func NewEstimator(market domain.MarketData) *Estimator {
	return &Estimator{
		market:       market,
		lookbackDays: defaultLookbackDays,
		confidence:   defaultConfidence,
		regimeWindow: defaultRegimeWindow,
	}
}

// Estimate возвращает частичный набор при короткой истории
func (e *Estimator) Estimate(ctx context.Context, symbol string) (domain.RiskSignalSet, error) {
	prices, err := e.market.GetPriceHistory(ctx, symbol, e.lookbackDays)
	if err != nil {
		return domain.EmptySignals(), fmt.Errorf("%w: history for %s: %v", domain.ErrPriceUnavailable, symbol, err)
	}
	return SignalsFromPrices(prices, e.confidence, e.regimeWindow), nil
}

// SignalsFromPrices чистая функция для тестов и бэктестов
func SignalsFromPrices(prices []float64, confidence float64, regimeWindow int) domain.RiskSignalSet {
	in := domain.SignalInputs{Regime: regime(prices, regimeWindow)}

	returns := dailyReturns(prices)
	if len(returns) >= 2 {
		vol := stddev(returns)
		in.Volatility = &vol
	}
	if len(returns) >= 1 {
		v, cv := historicalVaR(returns, confidence)
		in.VaR = &v
		in.CVaR = &cv
	}
	return domain.NewRiskSignalSet(in)
}

func dailyReturns(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

func stddev(xs []float64) float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	sum := 0.0
	for _, x := range xs {
		sum += (x - mean) * (x - mean)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// historicalVaR квантиль (1-confidence) и среднее хвоста
func historicalVaR(returns []float64, confidence float64) (float64, float64) {
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	tail := 0.0
	for _, r := range sorted[:idx+1] {
		tail += r
	}
	return sorted[idx], tail / float64(idx+1)
}

func regime(prices []float64, window int) domain.Regime {
	if len(prices) < 2 {
		return domain.RegimeNeutral
	}
	if window <= 0 || window > len(prices) {
		window = len(prices)
	}

	recent := prices[len(prices)-window:]
	sma := 0.0
	for _, p := range recent {
		sma += p
	}
	sma /= float64(len(recent))

	last := prices[len(prices)-1]
	switch {
	case last > sma*(1+regimeBand):
		return domain.RegimeBull
	case last < sma*(1-regimeBand):
		return domain.RegimeBear
	default:
		return domain.RegimeNeutral
	}
}
