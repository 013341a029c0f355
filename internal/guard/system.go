package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/riskgate/pkg/utils"
)

const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultProbeSymbol       = "AAPL"
)

// PriceProbe источник цены для heartbeat
type PriceProbe interface {
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// SystemGuard блокирует торговлю, если ценовой фид или хранилище недоступны.
// Результат heartbeat кэшируется на interval.
type SystemGuard struct {
	probe    PriceProbe
	symbol   string
	interval time.Duration
	logger   *utils.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
	healthy   bool
	reason    string
}

func NewSystemGuard(probe PriceProbe, symbol string, logger *utils.Logger) *SystemGuard {
	if symbol == "" {
		symbol = DefaultProbeSymbol
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &SystemGuard{
		probe:    probe,
		symbol:   symbol,
		interval: DefaultHeartbeatInterval,
		logger:   logger,
		now:      time.Now,
		healthy:  true,
	}
}

func (g *SystemGuard) SetClock(now func() time.Time) {
	g.now = now
}

func (g *SystemGuard) SetInterval(d time.Duration) {
	g.interval = d
}

// Check (allowed, reason)
func (g *SystemGuard) Check(ctx context.Context) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.lastCheck.IsZero() && now.Sub(g.lastCheck) < g.interval {
		if g.healthy {
			return true, "heartbeat ok (recent check)"
		}
		return false, g.reason
	}

	g.lastCheck = now
	price, err := g.probe.GetLatestPrice(ctx, g.symbol)
	switch {
	case err != nil:
		g.markDown(fmt.Sprintf("price feed unavailable: %v", err))
	case price <= 0:
		g.markDown(fmt.Sprintf("price feed returned %.4f for %s", price, g.symbol))
	default:
		if !g.healthy {
			g.logger.Info("✅ SystemGuard recovered")
		}
		g.healthy = true
		g.reason = ""
		return true, "system guard check passed"
	}
	return false, g.reason
}

// ReportFailure инфраструктурный сбой вне heartbeat; торговля блокируется
// до следующей успешной проверки через interval
func (g *SystemGuard) ReportFailure(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastCheck = g.now()
	g.markDown(reason)
}

// Healthy последнее известное состояние без новой проверки
func (g *SystemGuard) Healthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthy
}

func (g *SystemGuard) markDown(reason string) {
	if g.healthy {
		g.logger.Error("🚨 SystemGuard: %s. Trading blocked", reason)
	}
	g.healthy = false
	g.reason = reason
}
