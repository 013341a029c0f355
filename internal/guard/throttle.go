package guard

import (
	"fmt"
	"time"
)

// Throttle defaults
const (
	DefaultThrottleWindow = 60 * time.Second
	DefaultThrottleLimit  = 5
	DefaultMaxFailures    = 3
)

// ThrottleState состояние лимитера стратегии; хранится в состоянии тенанта
type ThrottleState struct {
	WindowStart         *time.Time `json:"window_start"`
	Count               int        `json:"count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// StrategyThrottler фиксированное окно на число заявок стратегии плюс
// блокировка после серии неудач. Не потокобезопасен: вызывается под мьютексом тенанта.
type StrategyThrottler struct {
	state       *ThrottleState
	window      time.Duration
	limit       int
	maxFailures int
}

func NewStrategyThrottler(state *ThrottleState) *StrategyThrottler {
	if state == nil {
		state = &ThrottleState{}
	}
	return &StrategyThrottler{
		state:       state,
		window:      DefaultThrottleWindow,
		limit:       DefaultThrottleLimit,
		maxFailures: DefaultMaxFailures,
	}
}

func (t *StrategyThrottler) State() *ThrottleState {
	return t.state
}

// Allow регистрирует заявку в момент now
func (t *StrategyThrottler) Allow(now time.Time) (bool, string) {
	s := t.state
	if s.ConsecutiveFailures >= t.maxFailures {
		return false, fmt.Sprintf("strategy disabled: %d consecutive failures", s.ConsecutiveFailures)
	}

	if s.WindowStart != nil && now.Sub(*s.WindowStart) < t.window {
		if s.Count >= t.limit {
			return false, fmt.Sprintf("strategy throttled: %d submissions within %s", s.Count, t.window)
		}
		s.Count++
		return true, ""
	}

	start := now
	s.WindowStart = &start
	s.Count = 1
	return true, ""
}

func (t *StrategyThrottler) ReportFailure() {
	t.state.ConsecutiveFailures++
}

func (t *StrategyThrottler) ResetFailures() {
	t.state.ConsecutiveFailures = 0
}
