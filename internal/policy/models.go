package policy

import (
	"github.com/kirillm/riskgate/internal/domain"
	"gopkg.in/yaml.v3"
)

// Profile пороги одного риск-стиля
type Profile struct {
	ProfileName string `yaml:"profile_name"`

	// Базовое правило
	MaxVolatility     float64 `yaml:"max_volatility"`
	MinVaR            float64 `yaml:"min_var"`
	ScoreFloor        float64 `yaml:"score_floor"`
	ScoreLimit        float64 `yaml:"score_limit"`
	LimitSizingFactor float64 `yaml:"limit_sizing_factor"`
	MaxTradeLossPct   float64 `yaml:"max_trade_loss_pct"`
	SlippageBuffer    float64 `yaml:"slippage_buffer"`

	// Conservative: повторная проверка после одобрения (0 = выключено)
	StrictMaxVolatility float64 `yaml:"strict_max_volatility"`
	StrictMinVaR        float64 `yaml:"strict_min_var"`

	// Aggressive: перевод отказа в уменьшенное одобрение
	RescueEnabled       bool    `yaml:"rescue_enabled"`
	RescueMinScore      float64 `yaml:"rescue_min_score"`
	RescueMaxVolatility float64 `yaml:"rescue_max_volatility"`
	RescueMinVaR        float64 `yaml:"rescue_min_var"`
	RescueSizingFactor  float64 `yaml:"rescue_sizing_factor"`
}

// IntradayRules пороги внутридневного движка
type IntradayRules struct {
	AccountDrawdown   float64 `yaml:"account_drawdown"`
	AssetDrawdown     float64 `yaml:"asset_drawdown"`
	ConsecutiveDown   int     `yaml:"consecutive_down_days"`
	IntradayDrop      float64 `yaml:"intraday_drop"`
	Drawdown3D        float64 `yaml:"drawdown_3d"`
	Slippage          float64 `yaml:"slippage"`
	AccountSilentDays int     `yaml:"account_silent_days"`
	AssetSilentDays   int     `yaml:"asset_silent_days"`
}

// DailyRules пороги end-of-day движка
type DailyRules struct {
	DailyLoss          float64 `yaml:"daily_loss"`
	DailyLossDays      int     `yaml:"daily_loss_days"`
	MonthlyLoss        float64 `yaml:"monthly_loss"`
	ConsecutiveLosses  int     `yaml:"consecutive_losing_days"`
	ConsecutiveLossDay int     `yaml:"consecutive_loss_days"`
	Drawdown3D         float64 `yaml:"drawdown_3d"`
	ConsecutiveDown    int     `yaml:"consecutive_down_days"`
	PositionDrawdown   float64 `yaml:"position_drawdown"`
	Slippage           float64 `yaml:"slippage"`
	IntradayDrop       float64 `yaml:"intraday_drop"`
	AssetSilentDays    int     `yaml:"asset_silent_days"`
}

// Document структура YAML файла политики. Профили остаются узлами, чтобы
// декодировать каждый поверх встроенного профиля того же стиля.
type Document struct {
	DefaultStyle domain.RiskStyle               `yaml:"default_style"`
	RiskProfiles map[domain.RiskStyle]yaml.Node `yaml:"risk_profiles"`
	Intraday     IntradayRules                  `yaml:"intraday"`
	Daily        DailyRules                     `yaml:"daily"`
}
