package domain

// Action сторона сделки
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// SourceType источник торгового намерения
type SourceType string

const (
	SourceManual   SourceType = "manual"
	SourceStrategy SourceType = "strategy"
	SourceSystem   SourceType = "system"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceManual, SourceStrategy, SourceSystem:
		return true
	}
	return false
}

// RiskStyle риск-профиль тенанта
type RiskStyle string

const (
	StyleConservative RiskStyle = "conservative"
	StyleModerate     RiskStyle = "moderate"
	StyleAggressive   RiskStyle = "aggressive"
)

// Regime грубая классификация рынка
type Regime string

const (
	RegimeBull    Regime = "Bull"
	RegimeNeutral Regime = "Neutral"
	RegimeBear    Regime = "Bear"
)

// LockKind вид блокировки
type LockKind string

const (
	LockSilent     LockKind = "silent"
	LockKillSwitch LockKind = "killswitch"
)

// Lock levels
const (
	LevelAccount = "account"
	LevelSymbol  = "symbol"
)

// Release types
const (
	ReleaseManual = "manual"
	ReleaseAuto   = "auto"
)

// Trigger sources
const (
	TriggerSourceIntraday = "intraday"
	TriggerSourceDaily    = "daily"
	TriggerSourceManual   = "manual"
)

// ActorSystem автоматические действия планировщика
const ActorSystem = "system"

// Execution statuses в аудит-записи
const (
	ExecStatusOK       = "ok"
	ExecStatusError    = "error"
	ExecStatusNotSent  = "not_sent"
	ExecStatusDryRun   = "dry_run"
	ExecutorSimulated  = "simulated"
	ExecutorLiveBroker = "live"
)

// Audit categories
type Category string

const (
	CategoryDecisions        Category = "decisions"
	CategoryCoolingOff       Category = "cooling_off"
	CategoryKillSwitch       Category = "killswitch"
	CategoryDailySummary     Category = "daily_summary"
	CategoryPeriodicScan     Category = "periodic_scan"
	CategoryMonthlyOptimizer Category = "monthly_optimizer"
)

// AllCategories полный набор категорий аудита
var AllCategories = []Category{
	CategoryDecisions,
	CategoryCoolingOff,
	CategoryKillSwitch,
	CategoryDailySummary,
	CategoryPeriodicScan,
	CategoryMonthlyOptimizer,
}

func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Bybit constants
const (
	BybitCategorySpot   = "spot"
	BybitRecvWindow     = "5000"
	OrderTypeMarket     = "Market"
	BybitSideBuy        = "Buy"
	BybitSideSell       = "Sell"
	BybitAccountUnified = "UNIFIED"
)

// AuditDateLayout формат даты в именах файлов аудита
const AuditDateLayout = "2006-01-02"
