package audit

import (
	"encoding/json"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/portfolio"
)

// DecisionRecord одна запись на каждую попытку сделки
type DecisionRecord struct {
	RecordedAt        time.Time                `json:"timestamp"`
	TenantID          string                   `json:"tenant_id"`
	Intent            *domain.TradeIntent      `json:"intent"`
	Approval          *domain.ApprovalDecision `json:"approval"`
	Execution         ExecutionSection         `json:"execution"`
	ExecutionContext  ExecutionContext         `json:"execution_context"`
	ExecutorType      string                   `json:"executor_type"`
	PortfolioSnapshot portfolio.Snapshot       `json:"portfolio_snapshot"`
	RiskEventFlags    []domain.ReasonCode      `json:"risk_event_flags"`
	IntradaySnapshot  json.RawMessage          `json:"intraday_snapshot,omitempty"`
}

type ExecutionSection struct {
	Status        string            `json:"status"`
	StatusCode    string            `json:"status_code"`
	ReasonCode    domain.ReasonCode `json:"reason_code,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	OrderID       string            `json:"order_id,omitempty"`
	Quantity      int               `json:"quantity"`
	Price         float64           `json:"price"`
	ExpectedPrice float64           `json:"expected_price"`
	SlippagePct   float64           `json:"slippage_pct"`
	LatencyMs     int64             `json:"latency_ms"`
	Commission    float64           `json:"commission"`
	Error         string            `json:"error,omitempty"`
}

type ExecutionContext struct {
	DryRun bool   `json:"dry_run"`
	Broker string `json:"broker"`
}

// LockEvent запись триггера или снятия блокировки
type LockEvent struct {
	RecordedAt      time.Time         `json:"timestamp"`
	TenantID        string            `json:"tenant_id"`
	Event           string            `json:"event"`
	Kind            domain.LockKind   `json:"kind"`
	Level           string            `json:"level"`
	Symbol          string            `json:"symbol,omitempty"`
	Days            int               `json:"days,omitempty"`
	TriggerType     string            `json:"trigger_type,omitempty"`
	TriggerSource   string            `json:"trigger_source,omitempty"`
	ReasonCode      domain.ReasonCode `json:"reason_code,omitempty"`
	ReasonText      string            `json:"reason_text,omitempty"`
	UserID          string            `json:"user_id"`
	ExpectedRelease *time.Time        `json:"expected_release,omitempty"`
	ReleaseType     string            `json:"release_type,omitempty"`
	ReleasedBy      string            `json:"released_by,omitempty"`
}

// Lock event names
const (
	EventTrigger = "trigger"
	EventRelease = "release"
	EventExpired = "held_intent_expired"
)

// HeldExpiry запись истечения отложенного намерения
type HeldExpiry struct {
	RecordedAt time.Time           `json:"timestamp"`
	TenantID   string              `json:"tenant_id"`
	Event      string              `json:"event"`
	Intent     *domain.TradeIntent `json:"intent"`
	State      string              `json:"state"`
	StatusCode string              `json:"status_code"`
}

// CycleRecord запись periodic_scan, daily_summary или monthly_optimizer
type CycleRecord struct {
	RecordedAt time.Time           `json:"timestamp"`
	TenantID   string              `json:"tenant_id"`
	Kind       string              `json:"kind"`
	Triggered  []domain.ReasonCode `json:"triggered,omitempty"`
	Snapshot   portfolio.Snapshot  `json:"portfolio_snapshot"`
	Details    json.RawMessage     `json:"details,omitempty"`
}
