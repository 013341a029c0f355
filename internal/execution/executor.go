package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/pkg/utils"
)

var ErrSlippageTooHigh = errors.New("price drift exceeds threshold")

const (
	DefaultSimulatedSlippage = 0.001
	DefaultDriftThreshold    = 0.01
)

// Order одобренная заявка на исполнение
type Order struct {
	IntentID       string
	Symbol         string
	Action         domain.Action
	Quantity       int
	ReferencePrice float64 // цена, по которой принималось решение риска
	DryRun         bool
}

// Executor один исполнитель для всех источников: симуляция или брокер по флагу DryRun
type Executor struct {
	broker            domain.Broker
	prices            PriceSource
	slippageGuard     *SlippageGuard
	commission        func(quantity int, price float64) float64
	simulatedSlippage float64
	now               func() time.Time
	logger            *utils.Logger
}

func NewExecutor(broker domain.Broker, prices PriceSource, logger *utils.Logger) *Executor {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Executor{
		broker:            broker,
		prices:            prices,
		slippageGuard:     NewSlippageGuard(DefaultDriftThreshold),
		commission:        GenericCommission,
		simulatedSlippage: DefaultSimulatedSlippage,
		now:               time.Now,
		logger:            logger,
	}
}

func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// SetDriftThreshold доля, 0.01 = 1%
func (e *Executor) SetDriftThreshold(threshold float64) {
	e.slippageGuard.SetThreshold(threshold)
}

func (e *Executor) BrokerName() string {
	if e.broker == nil {
		return "none"
	}
	return e.broker.Name()
}

// Execute цена, проверка дрейфа, исполнение; Fill заполнен и при ошибке, насколько известно
func (e *Executor) Execute(ctx context.Context, o Order) (*domain.Fill, error) {
	if o.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if !o.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, o.Action)
	}

	fill := &domain.Fill{
		Quantity:     o.Quantity,
		DryRun:       o.DryRun,
		Broker:       e.BrokerName(),
		ExecutorType: domain.ExecutorLiveBroker,
	}
	if o.DryRun {
		fill.ExecutorType = domain.ExecutorSimulated
	}

	started := e.now()
	expected, err := e.prices.GetLatestPrice(ctx, o.Symbol)
	if err != nil {
		return fill, err
	}
	fill.ExpectedPrice = expected

	if err := e.slippageGuard.CheckDrift(expected, o.ReferencePrice); err != nil {
		return fill, err
	}

	if o.DryRun {
		fill.OrderID = "sim-" + uuid.NewString()
		fill.Status = domain.ExecStatusDryRun
		fill.Price = Simulate(o.Action, expected, e.simulatedSlippage)
	} else {
		if e.broker == nil {
			return fill, fmt.Errorf("%w: no broker configured for live execution", domain.ErrInfrastructure)
		}
		res, err := e.broker.PlaceOrder(ctx, o.Symbol, o.Quantity, o.Action)
		if err != nil {
			return fill, fmt.Errorf("%w: %v", domain.ErrExchangeAPI, err)
		}
		fill.OrderID = res.ID
		fill.Status = res.Status
		fill.Price = res.FillPrice
		if fill.Price <= 0 {
			fill.Price = expected
		}
	}

	finished := e.now()
	fill.FilledAt = finished
	fill.LatencyMs = finished.Sub(started).Milliseconds()
	fill.SlippagePct = Adverse(o.Action, fill.Price, expected)
	fill.Commission = e.commission(o.Quantity, fill.Price)

	e.logger.Info("✅ Execution %s: %s %d %s @ $%.2f (expected $%.2f, order %s)",
		fill.ExecutorType, o.Action, o.Quantity, o.Symbol, fill.Price, expected, fill.OrderID)
	return fill, nil
}
