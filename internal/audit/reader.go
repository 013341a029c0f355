package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
)

const maxLineBytes = 4 << 20

// ReadLines все строки партиции; отсутствующий файл дает пустой результат
func (t *Trail) ReadLines(tenantID string, category domain.Category, date string) ([]json.RawMessage, error) {
	if err := validateKey(tenantID, category); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return readFile(t.Path(tenantID, category, date))
}

func readFile(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out = append(out, append(json.RawMessage(nil), line...))
	}
	return out, scanner.Err()
}

// Dates отсортированный список дат, для которых есть партиции категории
func (t *Trail) Dates(tenantID string, category domain.Category) ([]string, error) {
	if err := validateKey(tenantID, category); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(t.root, tenantID, string(category), "*.jsonl"))
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		dates = append(dates, base[:len(base)-len(".jsonl")])
	}
	sort.Strings(dates)
	return dates, nil
}

// FindDecisions все записи decisions по intent id, в порядке записи
func (t *Trail) FindDecisions(tenantID, intentID string) ([]DecisionRecord, error) {
	dates, err := t.Dates(tenantID, domain.CategoryDecisions)
	if err != nil {
		return nil, err
	}

	var found []DecisionRecord
	for _, date := range dates {
		lines, err := t.ReadLines(tenantID, domain.CategoryDecisions, date)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			var rec DecisionRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				continue
			}
			if rec.Intent != nil && rec.Intent.ID == intentID {
				found = append(found, rec)
			}
		}
	}
	return found, nil
}

// RejectionSummary количество отказов/блокировок по коду причины за дату
func (t *Trail) RejectionSummary(tenantID, date string) (map[domain.ReasonCode]int, error) {
	lines, err := t.ReadLines(tenantID, domain.CategoryDecisions, date)
	if err != nil {
		return nil, err
	}

	summary := make(map[domain.ReasonCode]int)
	for _, line := range lines {
		var rec DecisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Execution.ReasonCode != domain.ReasonNone {
			summary[rec.Execution.ReasonCode]++
		}
	}
	return summary, nil
}

// VerifyDecision проверяет, что последняя запись по намерению читается и имеет статус ok
func (t *Trail) VerifyDecision(tenantID string, at time.Time, intentID string) error {
	lines, err := t.ReadLines(tenantID, domain.CategoryDecisions, t.DateKey(at))
	if err != nil {
		return fmt.Errorf("%w: read back: %v", domain.ErrAuditIntegrity, err)
	}

	for i := len(lines) - 1; i >= 0; i-- {
		var rec DecisionRecord
		if err := json.Unmarshal(lines[i], &rec); err != nil {
			continue
		}
		if rec.Intent == nil || rec.Intent.ID != intentID {
			continue
		}
		if rec.Execution.Status != domain.ExecStatusOK {
			return fmt.Errorf("%w: intent %s has status %q", domain.ErrAuditIntegrity, intentID, rec.Execution.Status)
		}
		return nil
	}
	return fmt.Errorf("%w: no record for intent %s", domain.ErrAuditIntegrity, intentID)
}
