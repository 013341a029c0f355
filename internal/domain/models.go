package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TradeIntent заявка на сделку от пользователя, стратегии или системы
type TradeIntent struct {
	ID            string     `json:"intent_id"`
	TenantID      string     `json:"tenant_id"`
	Symbol        string     `json:"symbol"`
	Action        Action     `json:"action"`
	Quantity      int        `json:"quantity"`
	Source        SourceType `json:"source_type"`
	SubmittedBy   string     `json:"submitted_by"`
	CreatedAt     time.Time  `json:"timestamp"`
	Notes         string     `json:"notes,omitempty"`
	HoldOnCooling bool       `json:"hold_on_cooling,omitempty"`

	approval *ApprovalDecision
}

// IntentParams входные поля для NewTradeIntent
type IntentParams struct {
	TenantID      string
	Symbol        string
	Action        Action
	Quantity      int
	Source        SourceType
	SubmittedBy   string
	Notes         string
	HoldOnCooling bool
}

// NewTradeIntent валидирует параметры и присваивает uuid
func NewTradeIntent(p IntentParams, now time.Time) (*TradeIntent, error) {
	intent := &TradeIntent{
		ID:            uuid.NewString(),
		TenantID:      p.TenantID,
		Symbol:        strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Action:        p.Action,
		Quantity:      p.Quantity,
		Source:        p.Source,
		SubmittedBy:   p.SubmittedBy,
		CreatedAt:     now,
		Notes:         p.Notes,
		HoldOnCooling: p.HoldOnCooling,
	}
	if intent.Source == "" {
		intent.Source = SourceManual
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

// Validate проверяет обязательные поля
func (t *TradeIntent) Validate() error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil intent", ErrInvalidInput)
	case t.ID == "":
		return fmt.Errorf("%w: missing intent id", ErrInvalidInput)
	case t.TenantID == "":
		return fmt.Errorf("%w: missing tenant id", ErrInvalidInput)
	case t.Symbol == "":
		return fmt.Errorf("%w: missing symbol", ErrInvalidInput)
	case !t.Action.Valid():
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, t.Action)
	case t.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, t.Quantity)
	case !t.Source.Valid():
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, t.Source)
	}
	return nil
}

// AttachApproval прикрепляет решение ровно один раз
func (t *TradeIntent) AttachApproval(d ApprovalDecision) error {
	if t.approval != nil {
		return fmt.Errorf("%w: intent %s", ErrApprovalAlreadySet, t.ID)
	}
	t.approval = &d
	return nil
}

// Approval nil пока решение не прикреплено
func (t *TradeIntent) Approval() *ApprovalDecision {
	if t.approval == nil {
		return nil
	}
	d := *t.approval
	return &d
}

// ApprovalDecision результат RiskController
type ApprovalDecision struct {
	Approved   bool          `json:"approved"`
	RiskStyle  RiskStyle     `json:"risk_style"`
	Reason     string        `json:"reason"`
	ReasonCode ReasonCode    `json:"reason_code"`
	Quantity   int           `json:"sizing"`
	Score      float64       `json:"score"`
	Signals    RiskSignalSet `json:"signals"`
}

// Fill результат отправки ордера исполнителю
type Fill struct {
	OrderID       string    `json:"order_id"`
	Status        string    `json:"status"`
	Quantity      int       `json:"quantity"`
	Price         float64   `json:"price"`
	ExpectedPrice float64   `json:"expected_price"`
	SlippagePct   float64   `json:"slippage_pct"`
	Commission    float64   `json:"commission"`
	LatencyMs     int64     `json:"latency_ms"`
	DryRun        bool      `json:"dry_run"`
	Broker        string    `json:"broker"`
	ExecutorType  string    `json:"executor_type"`
	FilledAt      time.Time `json:"filled_at"`
}

// ExecutionRecord итог одного вызова Submit
type ExecutionRecord struct {
	IntentID    string              `json:"intent_id"`
	TenantID    string              `json:"tenant_id"`
	Symbol      string              `json:"symbol"`
	Action      Action              `json:"action"`
	Quantity    int                 `json:"quantity"`
	Source      SourceType          `json:"source_type"`
	State       TradeLifecycleState `json:"state"`
	StatusCode  string              `json:"status_code"`
	ReasonCode  ReasonCode          `json:"reason_code,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Approval    *ApprovalDecision   `json:"approval,omitempty"`
	Fill        *Fill               `json:"fill,omitempty"`
	AuditOK     bool                `json:"audit_ok"`
	Error       string              `json:"error,omitempty"`
	Lifecycle   []StateChange       `json:"lifecycle"`
	CompletedAt time.Time           `json:"completed_at"`
}

// StatusCodeFor уточняет код для блокировки kill switch
func StatusCodeFor(state TradeLifecycleState, reason ReasonCode) string {
	if state == StateBlocked && reason == ReasonKillSwitch {
		return "REJ_KILLSWITCH"
	}
	return state.StatusCode()
}

// AccountInfo сводка счета у брокера
type AccountInfo struct {
	AccountID   string  `json:"account_id"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	Equity      float64 `json:"equity"`
}

// OrderResult ответ брокера на placeOrder
type OrderResult struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	FillPrice float64   `json:"fill_price"`
	Timestamp time.Time `json:"ts"`
}

// IntradayQuote внутридневная котировка
type IntradayQuote struct {
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Last   float64   `json:"last"`
	At     time.Time `json:"at"`
}
