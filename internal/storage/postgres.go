package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/storage/repository"
	_ "github.com/lib/pq"
)

// PostgresConfig параметры подключения и пула
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresStore фасад над репозиториями: состояние тенантов и зеркало аудита
type PostgresStore struct {
	db     *sqlx.DB
	states *repository.TenantStateRepository
	audit  *repository.AuditRecordRepository
	now    func() time.Time
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := NewPostgresStoreWithDB(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// NewPostgresStoreWithDB поверх готового соединения (тесты, общий пул)
func NewPostgresStoreWithDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		states: repository.NewTenantStateRepository(db),
		audit:  repository.NewAuditRecordRepository(db),
		now:    time.Now,
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenant_states (
		tenant_id VARCHAR(64) PRIMARY KEY,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_records (
		id BIGSERIAL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		category VARCHAR(32) NOT NULL,
		audit_date DATE NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_tenant_date ON audit_records(tenant_id, category, audit_date)`,
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ==================== TENANT STATE ====================

func (s *PostgresStore) Load(ctx context.Context, tenantID string) (*TenantState, error) {
	row, err := s.states.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: load state %s: %v", domain.ErrPersistence, tenantID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: state for %s", domain.ErrNotFound, tenantID)
	}
	var state TenantState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, fmt.Errorf("%w: decode state %s: %v", domain.ErrPersistence, tenantID, err)
	}
	return &state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state *TenantState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: marshal state: %v", domain.ErrPersistence, err)
	}
	if err := s.states.Upsert(ctx, state.TenantID, data, s.now()); err != nil {
		return fmt.Errorf("%w: save state %s: %v", domain.ErrPersistence, state.TenantID, err)
	}
	return nil
}

// ==================== AUDIT MIRROR ====================

// MirrorAudit реализует audit.Sink
func (s *PostgresStore) MirrorAudit(ctx context.Context, tenantID string, category domain.Category, date string, payload []byte) error {
	rec := &repository.AuditRecord{
		TenantID:  tenantID,
		Category:  string(category),
		AuditDate: date,
		Payload:   payload,
		CreatedAt: s.now(),
	}
	return s.audit.Save(ctx, rec)
}

// AuditRecords записи категории за дату из зеркала
func (s *PostgresStore) AuditRecords(ctx context.Context, tenantID string, category domain.Category, date string) ([]repository.AuditRecord, error) {
	return s.audit.GetByDate(ctx, tenantID, string(category), date)
}

// AuditCounts количество записей по категориям
func (s *PostgresStore) AuditCounts(ctx context.Context, tenantID string) (map[string]int, error) {
	return s.audit.CountByCategory(ctx, tenantID)
}

// Ping для health
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает соединение с базой данных
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
