package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/pkg/utils"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Sink дополнительный приемник записей (например, Postgres)
type Sink interface {
	MirrorAudit(ctx context.Context, tenantID string, category domain.Category, date string, payload []byte) error
}

// Trail append-only JSONL журнал: <root>/<tenant>/<category>/<date>.jsonl
type Trail struct {
	root   string
	loc    *time.Location
	mirror []Sink
	logger *utils.Logger
	mu     sync.Mutex
}

func NewTrail(root string, loc *time.Location, logger *utils.Logger, mirrors ...Sink) (*Trail, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: audit root is empty", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create audit root: %v", domain.ErrPersistence, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Trail{root: root, loc: loc, mirror: mirrors, logger: logger}, nil
}

// DateKey дата партиции в часовом поясе журнала
func (t *Trail) DateKey(at time.Time) string {
	return at.In(t.loc).Format(domain.AuditDateLayout)
}

// Path путь файла партиции
func (t *Trail) Path(tenantID string, category domain.Category, date string) string {
	return filepath.Join(t.root, tenantID, string(category), date+".jsonl")
}

func validateKey(tenantID string, category domain.Category) error {
	if !tenantIDPattern.MatchString(tenantID) || tenantID == "." || tenantID == ".." {
		return fmt.Errorf("%w: bad tenant id %q", domain.ErrInvalidInput, tenantID)
	}
	if !category.Valid() {
		return fmt.Errorf("%w: unknown audit category %q", domain.ErrInvalidInput, category)
	}
	return nil
}

// Append дописывает одну JSON строку; ошибка записи в файл возвращается как ErrPersistence
func (t *Trail) Append(ctx context.Context, tenantID string, category domain.Category, at time.Time, record interface{}) error {
	if err := validateKey(tenantID, category); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal audit record: %v", domain.ErrInvalidInput, err)
	}

	date := t.DateKey(at)
	if err := t.appendLine(t.Path(tenantID, category, date), payload); err != nil {
		return fmt.Errorf("%w: audit append %s/%s: %v", domain.ErrPersistence, tenantID, category, err)
	}

	for _, sink := range t.mirror {
		if err := sink.MirrorAudit(ctx, tenantID, category, date, payload); err != nil {
			t.logger.Warn("audit mirror failed for %s/%s: %v", tenantID, category, err)
		}
	}
	return nil
}

func (t *Trail) appendLine(path string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	line := append(payload, '\n')
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
