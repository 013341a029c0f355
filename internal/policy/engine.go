package policy

import (
	"fmt"
	"os"
	"sort"

	"github.com/kirillm/riskgate/internal/domain"
	"gopkg.in/yaml.v3"
)

// Engine таблица риск-стилей и порогов триггеров
type Engine struct {
	defaultStyle domain.RiskStyle
	profiles     map[domain.RiskStyle]Profile
	intraday     IntradayRules
	daily        DailyRules
}

func baseProfile(name string) Profile {
	return Profile{
		ProfileName:       name,
		MaxVolatility:     0.04,
		MinVaR:            -0.05,
		ScoreFloor:        -0.5,
		ScoreLimit:        -0.25,
		LimitSizingFactor: 0.5,
		MaxTradeLossPct:   0.02,
		SlippageBuffer:    0.001,
	}
}

// DefaultProfiles встроенная таблица стилей
func DefaultProfiles() map[domain.RiskStyle]Profile {
	conservative := baseProfile(string(domain.StyleConservative))
	conservative.StrictMaxVolatility = 0.02
	conservative.StrictMinVaR = -0.04

	aggressive := baseProfile(string(domain.StyleAggressive))
	aggressive.RescueEnabled = true
	aggressive.RescueMinScore = -1.0
	aggressive.RescueMaxVolatility = 0.06
	aggressive.RescueMinVaR = -0.065
	aggressive.RescueSizingFactor = 0.25

	return map[domain.RiskStyle]Profile{
		domain.StyleConservative: conservative,
		domain.StyleModerate:     baseProfile(string(domain.StyleModerate)),
		domain.StyleAggressive:   aggressive,
	}
}

func DefaultIntradayRules() IntradayRules {
	return IntradayRules{
		AccountDrawdown:   -0.05,
		AssetDrawdown:     -0.07,
		ConsecutiveDown:   3,
		IntradayDrop:      0.08,
		Drawdown3D:        -0.10,
		Slippage:          0.005,
		AccountSilentDays: 1,
		AssetSilentDays:   1,
	}
}

func DefaultDailyRules() DailyRules {
	return DailyRules{
		DailyLoss:          -0.05,
		DailyLossDays:      2,
		MonthlyLoss:        -0.10,
		ConsecutiveLosses:  3,
		ConsecutiveLossDay: 1,
		Drawdown3D:         -0.10,
		ConsecutiveDown:    3,
		PositionDrawdown:   -0.15,
		Slippage:           0.005,
		IntradayDrop:       0.08,
		AssetSilentDays:    7,
	}
}

// NewDefaultEngine движок со встроенными порогами
func NewDefaultEngine() *Engine {
	return &Engine{
		defaultStyle: domain.StyleModerate,
		profiles:     DefaultProfiles(),
		intraday:     DefaultIntradayRules(),
		daily:        DefaultDailyRules(),
	}
}

// NewEngine загружает политику из YAML; пустой путь = встроенные значения
func NewEngine(policyPath string) (*Engine, error) {
	if policyPath == "" {
		return NewDefaultEngine(), nil
	}

	data, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	return Parse(data)
}

// Parse накладывает YAML поверх встроенных значений: отсутствующие ключи
// сохраняют значения по умолчанию
func Parse(data []byte) (*Engine, error) {
	doc := Document{
		Intraday: DefaultIntradayRules(),
		Daily:    DefaultDailyRules(),
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	engine := NewDefaultEngine()
	for style, node := range doc.RiskProfiles {
		profile, ok := engine.profiles[style]
		if !ok {
			profile = baseProfile(string(style))
		}
		if err := node.Decode(&profile); err != nil {
			return nil, fmt.Errorf("failed to parse profile %s: %w", style, err)
		}
		if profile.ProfileName == "" {
			profile.ProfileName = string(style)
		}
		if err := profile.validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", style, err)
		}
		engine.profiles[style] = profile
	}

	if doc.DefaultStyle != "" {
		if _, ok := engine.profiles[doc.DefaultStyle]; !ok {
			return nil, fmt.Errorf("%w: default style %q has no profile", domain.ErrInvalidInput, doc.DefaultStyle)
		}
		engine.defaultStyle = doc.DefaultStyle
	}
	if doc.Intraday.AccountSilentDays < 1 || doc.Intraday.AssetSilentDays < 1 {
		return nil, fmt.Errorf("%w: intraday silent days must be at least 1", domain.ErrInvalidInput)
	}
	if doc.Daily.DailyLossDays < 1 || doc.Daily.ConsecutiveLossDay < 1 || doc.Daily.AssetSilentDays < 1 {
		return nil, fmt.Errorf("%w: daily silent days must be at least 1", domain.ErrInvalidInput)
	}
	engine.intraday = doc.Intraday
	engine.daily = doc.Daily

	return engine, nil
}

func (p Profile) validate() error {
	if p.MaxVolatility <= 0 {
		return fmt.Errorf("%w: max_volatility must be positive", domain.ErrInvalidInput)
	}
	if p.MinVaR >= 0 {
		return fmt.Errorf("%w: min_var must be negative", domain.ErrInvalidInput)
	}
	if p.ScoreLimit < p.ScoreFloor {
		return fmt.Errorf("%w: score_limit below score_floor", domain.ErrInvalidInput)
	}
	if p.LimitSizingFactor < 0 || p.LimitSizingFactor > 1 || p.RescueSizingFactor < 0 || p.RescueSizingFactor > 1 {
		return fmt.Errorf("%w: sizing factors must be within [0,1]", domain.ErrInvalidInput)
	}
	return nil
}

// Profile возвращает профиль стиля; неизвестный стиль получает профиль по умолчанию
func (e *Engine) Profile(style domain.RiskStyle) (Profile, domain.RiskStyle) {
	if p, ok := e.profiles[style]; ok {
		return p, style
	}
	return e.profiles[e.defaultStyle], e.defaultStyle
}

func (e *Engine) DefaultStyle() domain.RiskStyle {
	return e.defaultStyle
}

// Styles отсортированный список известных стилей
func (e *Engine) Styles() []domain.RiskStyle {
	styles := make([]domain.RiskStyle, 0, len(e.profiles))
	for s := range e.profiles {
		styles = append(styles, s)
	}
	sort.Slice(styles, func(i, j int) bool { return styles[i] < styles[j] })
	return styles
}

func (e *Engine) Intraday() IntradayRules {
	return e.intraday
}

func (e *Engine) Daily() DailyRules {
	return e.daily
}
