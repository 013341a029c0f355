package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/kirillm/riskgate/pkg/utils"
)

// Registry управляет набором тенантов и их персистентностью
type Registry struct {
	store   storage.StateStore
	logger  *utils.Logger
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

func NewRegistry(store storage.StateStore, logger *utils.Logger) *Registry {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Registry{
		store:   store,
		logger:  logger,
		tenants: make(map[string]*Tenant),
	}
}

// Load поднимает тенантов из реестра и их сохраненное состояние
func (r *Registry) Load(ctx context.Context, configs []config.TenantConfig) error {
	for _, cfg := range configs {
		if err := r.Add(ctx, cfg); err != nil {
			return err
		}
	}
	r.logger.Info("Loaded %d tenants", len(configs))
	return nil
}

// Add регистрирует тенанта; существующий с тем же id заменяется
func (r *Registry) Add(ctx context.Context, cfg config.TenantConfig) error {
	t := New(cfg)
	if r.store != nil {
		st, err := r.store.Load(ctx, cfg.ID)
		switch {
		case err == nil:
			t = FromState(cfg, st)
			r.logger.Info("Restored state for tenant %s (cash $%.2f)", cfg.ID, t.Portfolio.Cash)
		case errors.Is(err, domain.ErrNotFound):
			r.logger.Info("New tenant %s with $%.2f initial cash", cfg.ID, cfg.InitialCash)
		default:
			return fmt.Errorf("tenant %s: %w", cfg.ID, err)
		}
	}

	r.mu.Lock()
	r.tenants[cfg.ID] = t
	r.mu.Unlock()
	return nil
}

// Remove убирает тенанта из памяти; сохраненное состояние не трогается
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTenant, id)
	}
	delete(r.tenants, id)
	return nil
}

func (r *Registry) Get(id string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTenant, id)
	}
	return t, nil
}

// All тенанты в порядке id
func (r *Registry) All() []*Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Save сохраняет тенанта; вызывается под его Lock
func (r *Registry) Save(ctx context.Context, t *Tenant, now time.Time) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Save(ctx, t.ToState(now)); err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		return err
	}
	return nil
}
