package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/pkg/utils"
)

const cacheTTL = 5 * time.Minute

// PriceSource источник цен
type PriceSource interface {
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceFailover основной источник, затем запасные, затем кэш не старше cacheTTL
type PriceFailover struct {
	primarySource   PriceSource
	fallbackSources []PriceSource
	logger          *utils.Logger
	now             func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	timestamp time.Time
}

func NewPriceFailover(primarySource PriceSource, logger *utils.Logger) *PriceFailover {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &PriceFailover{
		primarySource: primarySource,
		logger:        logger,
		now:           time.Now,
		cache:         make(map[string]cachedPrice),
	}
}

// AddFallbackSource добавляет запасной источник цен
func (pf *PriceFailover) AddFallbackSource(source PriceSource) {
	pf.fallbackSources = append(pf.fallbackSources, source)
}

// GetLatestPrice цена с failover; реализует PriceSource
func (pf *PriceFailover) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := pf.primarySource.GetLatestPrice(ctx, symbol)
	if err == nil && price > 0 {
		pf.remember(symbol, price)
		return price, nil
	}
	lastErr := err

	for i, source := range pf.fallbackSources {
		price, err := source.GetLatestPrice(ctx, symbol)
		if err == nil && price > 0 {
			pf.logger.Warn("⚠️ Using fallback source #%d for %s price", i+1, symbol)
			pf.remember(symbol, price)
			return price, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	pf.mu.Lock()
	cached, ok := pf.cache[symbol]
	pf.mu.Unlock()
	if ok {
		if age := pf.now().Sub(cached.timestamp); age < cacheTTL {
			pf.logger.Warn("⚠️ Using cached price for %s (age: %v)", symbol, age)
			return cached.price, nil
		}
	}

	return 0, fmt.Errorf("%w: %s: %v", domain.ErrPriceUnavailable, symbol, lastErr)
}

func (pf *PriceFailover) remember(symbol string, price float64) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.cache[symbol] = cachedPrice{price: price, timestamp: pf.now()}
}
