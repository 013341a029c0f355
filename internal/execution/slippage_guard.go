package execution

import (
	"fmt"
	"math"

	"github.com/kirillm/riskgate/internal/domain"
)

// SlippageGuard защита от ухода цены между одобрением и исполнением
type SlippageGuard struct {
	threshold float64
}

// NewSlippageGuard threshold в долях (0.01 = 1%)
func NewSlippageGuard(threshold float64) *SlippageGuard {
	return &SlippageGuard{threshold: threshold}
}

// CheckDrift сравнивает свежую цену с ценой, по которой принималось решение
func (sg *SlippageGuard) CheckDrift(current, reference float64) error {
	if reference <= 0 {
		return nil
	}
	drift := math.Abs(current-reference) / reference
	if drift > sg.threshold {
		return fmt.Errorf("%w: %.2f%% (threshold: %.2f%%)", ErrSlippageTooHigh, drift*100, sg.threshold*100)
	}
	return nil
}

// Adverse проскальзывание со знаком: >0 значит хуже ожидаемого для данной стороны
func Adverse(action domain.Action, executed, expected float64) float64 {
	if expected <= 0 {
		return 0
	}
	diff := (executed - expected) / expected
	if action == domain.ActionSell {
		return -diff
	}
	return diff
}

// Simulate цена исполнения с фиксированным неблагоприятным сдвигом
func Simulate(action domain.Action, expected, slippage float64) float64 {
	if action == domain.ActionSell {
		return expected * (1 - slippage)
	}
	return expected * (1 + slippage)
}

func (sg *SlippageGuard) SetThreshold(threshold float64) {
	sg.threshold = threshold
}

func (sg *SlippageGuard) Threshold() float64 {
	return sg.threshold
}
