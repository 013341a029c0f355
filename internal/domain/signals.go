package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Score weights and pivots
const (
	weightRegime     = 0.4
	weightVolatility = 0.25
	weightVaR        = 0.25
	weightCVaR       = 0.10

	volPivot  = 0.02
	volScale  = 0.01
	varPivot  = 0.03
	varScale  = 0.01
	cvarPivot = 0.04
	cvarScale = 0.015
)

// RegimeScore Bull=+1, Neutral=0, Bear=-1
func RegimeScore(r Regime) float64 {
	switch r {
	case RegimeBull:
		return 1
	case RegimeBear:
		return -1
	default:
		return 0
	}
}

// SignalInputs исходные метрики; nil означает отсутствие значения
type SignalInputs struct {
	Regime     Regime
	Volatility *float64
	VaR        *float64
	CVaR       *float64
}

// RiskSignalSet неизменяемый набор риск-сигналов
type RiskSignalSet struct {
	in    SignalInputs
	score float64
}

// NewRiskSignalSet строит набор и вычисляет score
func NewRiskSignalSet(in SignalInputs) RiskSignalSet {
	if in.Regime == "" {
		in.Regime = RegimeNeutral
	}
	in.Volatility = copyFloat(in.Volatility)
	in.VaR = copyFloat(in.VaR)
	in.CVaR = copyFloat(in.CVaR)
	return RiskSignalSet{in: in, score: computeScore(in)}
}

// Signals удобный конструктор с полным набором метрик
func Signals(regime Regime, volatility, valueAtRisk, cvar float64) RiskSignalSet {
	return NewRiskSignalSet(SignalInputs{
		Regime:     regime,
		Volatility: &volatility,
		VaR:        &valueAtRisk,
		CVaR:       &cvar,
	})
}

// EmptySignals Neutral без метрик
func EmptySignals() RiskSignalSet {
	return NewRiskSignalSet(SignalInputs{Regime: RegimeNeutral})
}

func computeScore(in SignalInputs) float64 {
	score := weightRegime * RegimeScore(in.Regime)
	if in.Volatility != nil {
		score += weightVolatility * (-(*in.Volatility - volPivot) / volScale)
	}
	if in.VaR != nil {
		score += weightVaR * ((*in.VaR + varPivot) / varScale)
	}
	if in.CVaR != nil {
		score += weightCVaR * ((*in.CVaR + cvarPivot) / cvarScale)
	}
	rounded, _ := decimal.NewFromFloat(score).Round(2).Float64()
	return rounded
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (s RiskSignalSet) Regime() Regime {
	if s.in.Regime == "" {
		return RegimeNeutral
	}
	return s.in.Regime
}

func (s RiskSignalSet) Score() float64 { return s.score }

// Volatility 0 и false если метрика отсутствует
func (s RiskSignalSet) Volatility() (float64, bool) { return deref(s.in.Volatility) }

func (s RiskSignalSet) VaR() (float64, bool) { return deref(s.in.VaR) }

func (s RiskSignalSet) CVaR() (float64, bool) { return deref(s.in.CVaR) }

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Inputs копия исходных метрик
func (s RiskSignalSet) Inputs() SignalInputs {
	return SignalInputs{
		Regime:     s.Regime(),
		Volatility: copyFloat(s.in.Volatility),
		VaR:        copyFloat(s.in.VaR),
		CVaR:       copyFloat(s.in.CVaR),
	}
}

// WithRegime новый набор с пересчитанным score
func (s RiskSignalSet) WithRegime(r Regime) RiskSignalSet {
	in := s.Inputs()
	in.Regime = r
	return NewRiskSignalSet(in)
}

func (s RiskSignalSet) WithVolatility(v float64) RiskSignalSet {
	in := s.Inputs()
	in.Volatility = &v
	return NewRiskSignalSet(in)
}

func (s RiskSignalSet) WithVaR(v float64) RiskSignalSet {
	in := s.Inputs()
	in.VaR = &v
	return NewRiskSignalSet(in)
}

func (s RiskSignalSet) WithCVaR(v float64) RiskSignalSet {
	in := s.Inputs()
	in.CVaR = &v
	return NewRiskSignalSet(in)
}

type signalsJSON struct {
	Regime     Regime   `json:"regime"`
	Volatility *float64 `json:"volatility"`
	VaR        *float64 `json:"var"`
	CVaR       *float64 `json:"cvar"`
	Score      float64  `json:"score"`
}

func (s RiskSignalSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(signalsJSON{
		Regime:     s.Regime(),
		Volatility: s.in.Volatility,
		VaR:        s.in.VaR,
		CVaR:       s.in.CVaR,
		Score:      s.score,
	})
}

// UnmarshalJSON игнорирует сохраненный score и пересчитывает его
func (s *RiskSignalSet) UnmarshalJSON(data []byte) error {
	var raw signalsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewRiskSignalSet(SignalInputs{
		Regime:     raw.Regime,
		Volatility: raw.Volatility,
		VaR:        raw.VaR,
		CVaR:       raw.CVaR,
	})
	return nil
}
