package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TradeLifecycleState состояние сделки
type TradeLifecycleState string

const (
	StateInit                TradeLifecycleState = "init"
	StateApproved            TradeLifecycleState = "approved"
	StateExecuted            TradeLifecycleState = "executed"
	StateExecutedAuditFailed TradeLifecycleState = "executed_audit_failed"
	StateRejected            TradeLifecycleState = "rejected"
	StateBlocked             TradeLifecycleState = "blocked"
	StateError               TradeLifecycleState = "error"
	StateCancelled           TradeLifecycleState = "cancelled"
	StateSkipped             TradeLifecycleState = "skipped"
	StateTimeout             TradeLifecycleState = "timeout"
	StateHeld                TradeLifecycleState = "held"
)

var statusCodes = map[TradeLifecycleState]string{
	StateInit:                "INTENT_INIT",
	StateApproved:            "APPROVED",
	StateExecuted:            "EXEC_OK",
	StateExecutedAuditFailed: "EXEC_AUDIT_FAIL",
	StateRejected:            "REJ_GENERAL",
	StateBlocked:             "REJ_SILENT_MODE",
	StateError:               "EXEC_ERROR",
	StateCancelled:           "CANCELLED",
	StateSkipped:             "SKIPPED",
	StateTimeout:             "TIMEOUT",
	StateHeld:                "HELD",
}

// StatusCode код статуса для аудита
func (s TradeLifecycleState) StatusCode() string {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return "UNKNOWN"
}

// IsTerminal HELD, INIT и APPROVED не терминальны
func (s TradeLifecycleState) IsTerminal() bool {
	switch s {
	case StateInit, StateApproved, StateHeld:
		return false
	}
	_, known := statusCodes[s]
	return known
}

var transitions = map[TradeLifecycleState][]TradeLifecycleState{
	StateInit: {
		StateApproved, StateRejected, StateBlocked, StateError,
		StateCancelled, StateSkipped, StateHeld,
	},
	StateApproved: {StateExecuted, StateExecutedAuditFailed, StateError, StateCancelled},
	StateHeld:     {StateHeld, StateTimeout, StateCancelled},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to TradeLifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateChange одна запись истории переходов
type StateChange struct {
	State TradeLifecycleState `json:"state"`
	At    time.Time           `json:"at"`
}

// Lifecycle отслеживает монотонные переходы одного намерения
type Lifecycle struct {
	state   TradeLifecycleState
	history []StateChange
}

func NewLifecycle(at time.Time) *Lifecycle {
	return &Lifecycle{
		state:   StateInit,
		history: []StateChange{{State: StateInit, At: at}},
	}
}

func (l *Lifecycle) State() TradeLifecycleState {
	return l.state
}

func (l *Lifecycle) History() []StateChange {
	out := make([]StateChange, len(l.history))
	copy(out, l.history)
	return out
}

// Transition переводит в новое состояние или возвращает ErrInvalidTransition
func (l *Lifecycle) Transition(to TradeLifecycleState, at time.Time) error {
	if !CanTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	l.history = append(l.history, StateChange{State: to, At: at})
	return nil
}

// Settled true когда выполнение завершено: терминальное состояние или HELD
func (l *Lifecycle) Settled() bool {
	return l.state.IsTerminal() || l.state == StateHeld
}

func (l *Lifecycle) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State   TradeLifecycleState `json:"state"`
		History []StateChange       `json:"history"`
	}{l.state, l.history})
}
