package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// TenantStateRow строка tenant_states
type TenantStateRow struct {
	TenantID  string    `db:"tenant_id"`
	State     []byte    `db:"state"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TenantStateRepository состояние тенанта одним JSONB документом
type TenantStateRepository struct {
	db *sqlx.DB
}

// NewTenantStateRepository создает новый репозиторий
func NewTenantStateRepository(db *sqlx.DB) *TenantStateRepository {
	return &TenantStateRepository{db: db}
}

// Upsert сохраняет документ состояния
func (r *TenantStateRepository) Upsert(ctx context.Context, tenantID string, state []byte, at time.Time) error {
	query := `
		INSERT INTO tenant_states (tenant_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, tenantID, state, at)
	return err
}

// Get nil, nil если строки нет
func (r *TenantStateRepository) Get(ctx context.Context, tenantID string) (*TenantStateRow, error) {
	query := `
		SELECT tenant_id, state, updated_at
		FROM tenant_states
		WHERE tenant_id = $1
	`
	var row TenantStateRow
	if err := r.db.GetContext(ctx, &row, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
