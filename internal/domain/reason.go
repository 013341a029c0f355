package domain

import "strings"

// ReasonCode закрытый набор кодов отказа и триггеров
type ReasonCode string

// Rejection reasons
const (
	ReasonNone              ReasonCode = ""
	ReasonSilentMode        ReasonCode = "SILENT_MODE"
	ReasonLowScore          ReasonCode = "LOW_SCORE"
	ReasonVolExceed         ReasonCode = "VOL_EXCEED"
	ReasonVaRViolation      ReasonCode = "VAR_VIOLATION"
	ReasonMaxLossExceed     ReasonCode = "MAX_LOSS_EXCEED"
	ReasonKillSwitch        ReasonCode = "KILLSWITCH"
	ReasonInsufficientCash  ReasonCode = "INSUFFICIENT_CASH"
	ReasonDuplicateIntent   ReasonCode = "DUPLICATE_INTENT"
	ReasonCooldownActive    ReasonCode = "COOLDOWN_ACTIVE"
	ReasonUnauthorized      ReasonCode = "UNAUTHORIZED"
	ReasonMarketClosed      ReasonCode = "MARKET_CLOSED"
	ReasonStrategyThrottled ReasonCode = "STRATEGY_THROTTLED"
	ReasonPositionTooSmall  ReasonCode = "POSITION_TOO_SMALL"
	ReasonSystemGuard       ReasonCode = "SYSTEM_GUARD"
	ReasonTenantDisabled    ReasonCode = "TENANT_DISABLED"
	ReasonExecutionFailed   ReasonCode = "EXECUTION_FAILED"
	ReasonUnknown           ReasonCode = "UNKNOWN"
)

// Trigger codes
const (
	TriggerAccountDD5      ReasonCode = "ACCOUNT_DD_GT_5"
	TriggerDrawPos7        ReasonCode = "DRAW_POS_GT_7"
	TriggerDrawPos15       ReasonCode = "DRAW_POS_GT_15"
	TriggerConsecDown3D    ReasonCode = "CONSEC_DOWN_3D"
	TriggerDrop8           ReasonCode = "DROP_GT_8"
	TriggerDD3Gt10         ReasonCode = "DD3_GT_10"
	TriggerSlippage        ReasonCode = "SLIPPAGE_ANOMALY"
	TriggerDailyLoss5      ReasonCode = "DAILY_LOSS_GT_5"
	TriggerMonthlyLoss10   ReasonCode = "MONTHLY_LOSS_GT_10"
	TriggerConsecLoss3D    ReasonCode = "CONSEC_LOSS_3D"
	TriggerManualOperator  ReasonCode = "MANUAL_OPERATOR"
	TriggerAuditEscalation ReasonCode = "AUDIT_ESCALATION"
)

var reasonText = map[ReasonCode]string{
	ReasonSilentMode:        "Triggered silent mode",
	ReasonLowScore:          "Risk score too low",
	ReasonVolExceed:         "Volatility limit exceeded",
	ReasonVaRViolation:      "VaR threshold breached",
	ReasonMaxLossExceed:     "Max allowed loss exceeded",
	ReasonKillSwitch:        "Killswitch enforced",
	ReasonInsufficientCash:  "Not enough capital",
	ReasonDuplicateIntent:   "Duplicate trade intent",
	ReasonCooldownActive:    "Cooling-off period active",
	ReasonUnauthorized:      "User not permitted to trade this asset",
	ReasonMarketClosed:      "Market is closed",
	ReasonStrategyThrottled: "Strategy trigger throttled",
	ReasonPositionTooSmall:  "Sell quantity exceeds current position",
	ReasonSystemGuard:       "System guard blocked trading",
	ReasonTenantDisabled:    "Tenant trading disabled",
	ReasonExecutionFailed:   "Execution failed",
	ReasonUnknown:           "Other or unclassified reason",
	TriggerAccountDD5:       "Account drawdown beyond -5%",
	TriggerDrawPos7:         "Position drawdown beyond -7%",
	TriggerDrawPos15:        "Position drawdown beyond -15%",
	TriggerConsecDown3D:     "Three consecutive down days",
	TriggerDrop8:            "Intraday drop greater than 8%",
	TriggerDD3Gt10:          "Three-day drawdown beyond -10%",
	TriggerSlippage:         "Slippage above 0.5%",
	TriggerDailyLoss5:       "Daily loss beyond -5%",
	TriggerMonthlyLoss10:    "Monthly loss beyond -10%",
	TriggerConsecLoss3D:     "Three consecutive losing days",
	TriggerManualOperator:   "Manual operator action",
	TriggerAuditEscalation:  "Audit integrity escalation",
}

// Text человекочитаемое описание кода
func (r ReasonCode) Text() string {
	if t, ok := reasonText[r]; ok {
		return t
	}
	return reasonText[ReasonUnknown]
}

// Known true если код входит в закрытый набор
func (r ReasonCode) Known() bool {
	_, ok := reasonText[r]
	return ok
}

// MatchReason классифицирует произвольный текст причины
func MatchReason(reason string) ReasonCode {
	reason = strings.ToLower(reason)

	switch {
	case strings.Contains(reason, "silent"):
		return ReasonSilentMode
	case strings.Contains(reason, "score"):
		return ReasonLowScore
	case strings.Contains(reason, "vol"):
		return ReasonVolExceed
	case strings.Contains(reason, "var"):
		return ReasonVaRViolation
	case strings.Contains(reason, "loss"):
		return ReasonMaxLossExceed
	case strings.Contains(reason, "kill"):
		return ReasonKillSwitch
	case strings.Contains(reason, "cash"), strings.Contains(reason, "capital"):
		return ReasonInsufficientCash
	case strings.Contains(reason, "duplicate"):
		return ReasonDuplicateIntent
	case strings.Contains(reason, "cool"):
		return ReasonCooldownActive
	case strings.Contains(reason, "unauth"), strings.Contains(reason, "permission"):
		return ReasonUnauthorized
	case strings.Contains(reason, "closed"):
		return ReasonMarketClosed
	case strings.Contains(reason, "throttle"):
		return ReasonStrategyThrottled
	case strings.Contains(reason, "position"), strings.Contains(reason, "sell quantity"):
		return ReasonPositionTooSmall
	default:
		return ReasonUnknown
	}
}
