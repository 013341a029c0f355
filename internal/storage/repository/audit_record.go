package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuditRecord копия строки аудита в Postgres
type AuditRecord struct {
	ID        int64     `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Category  string    `db:"category"`
	AuditDate string    `db:"audit_date"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

// AuditRecordRepository зеркало JSONL журнала для выборок
type AuditRecordRepository struct {
	db *sqlx.DB
}

func NewAuditRecordRepository(db *sqlx.DB) *AuditRecordRepository {
	return &AuditRecordRepository{db: db}
}

// Save вставляет запись, заполняет ID
func (r *AuditRecordRepository) Save(ctx context.Context, rec *AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO audit_records (tenant_id, category, audit_date, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.QueryRowxContext(ctx, query,
		rec.TenantID, rec.Category, rec.AuditDate, rec.Payload, rec.CreatedAt,
	).Scan(&rec.ID)
}

// GetByDate записи категории за дату в порядке вставки
func (r *AuditRecordRepository) GetByDate(ctx context.Context, tenantID, category, date string) ([]AuditRecord, error) {
	query := `
		SELECT id, tenant_id, category, audit_date, payload, created_at
		FROM audit_records
		WHERE tenant_id = $1 AND category = $2 AND audit_date = $3
		ORDER BY id
	`
	var records []AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, tenantID, category, date); err != nil {
		return nil, err
	}
	return records, nil
}

// CountByCategory количество записей тенанта по категориям
func (r *AuditRecordRepository) CountByCategory(ctx context.Context, tenantID string) (map[string]int, error) {
	query := `
		SELECT category, COUNT(*) AS n
		FROM audit_records
		WHERE tenant_id = $1
		GROUP BY category
	`
	rows, err := r.db.QueryxContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		out[category] = n
	}
	return out, rows.Err()
}
