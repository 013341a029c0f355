package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/guard"
	"github.com/kirillm/riskgate/internal/portfolio"
)

var tenantFilePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Schedule запись планировщика тенанта
type Schedule struct {
	LastScan  *time.Time `json:"last_scan,omitempty"`
	LastDaily *time.Time `json:"last_daily,omitempty"`
}

// TenantState все, что переживает рестарт процесса
type TenantState struct {
	TenantID      string                `json:"tenant_id"`
	Portfolio     *portfolio.Portfolio  `json:"portfolio"`
	Throttle      guard.ThrottleState   `json:"throttle"`
	RecentIntents []string              `json:"recent_intents"`
	Held          []*domain.TradeIntent `json:"held_intents"`
	Schedule      Schedule              `json:"schedule"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// StateStore хранилище состояния тенантов
type StateStore interface {
	Load(ctx context.Context, tenantID string) (*TenantState, error)
	Save(ctx context.Context, state *TenantState) error
}

// FileStateStore JSON файл на тенанта, перед перезаписью копия в .bak
type FileStateStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create state dir: %v", domain.ErrPersistence, err)
	}
	return &FileStateStore{dir: dir}, nil
}

func (s *FileStateStore) path(tenantID string) string {
	return filepath.Join(s.dir, tenantID+".json")
}

// Load ErrNotFound если состояние еще не сохранялось; битый файл читается из .bak
func (s *FileStateStore) Load(_ context.Context, tenantID string) (*TenantState, error) {
	if !tenantFilePattern.MatchString(tenantID) {
		return nil, fmt.Errorf("%w: bad tenant id %q", domain.ErrInvalidInput, tenantID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := readState(s.path(tenantID))
	if err == nil {
		return state, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: state for %s", domain.ErrNotFound, tenantID)
	}

	backup, bakErr := readState(s.path(tenantID) + ".bak")
	if bakErr != nil {
		return nil, fmt.Errorf("%w: load state %s: %v", domain.ErrPersistence, tenantID, err)
	}
	return backup, nil
}

func readState(path string) (*TenantState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state TenantState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save пишет во временный файл и переименовывает
func (s *FileStateStore) Save(_ context.Context, state *TenantState) error {
	if state == nil || !tenantFilePattern.MatchString(state.TenantID) {
		return fmt.Errorf("%w: bad tenant state", domain.ErrInvalidInput)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal state: %v", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(state.TenantID)
	if current, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", current, 0o644); err != nil {
			return fmt.Errorf("%w: backup state: %v", domain.ErrPersistence, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write state: %v", domain.ErrPersistence, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replace state: %v", domain.ErrPersistence, err)
	}
	return nil
}
