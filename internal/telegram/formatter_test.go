package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/orchestrator"
	"github.com/kirillm/riskgate/internal/portfolio"
)

func TestFormatter_T(t *testing.T) {
	tests := []struct {
		name string
		lang Lang
		key  string
		want string
	}{
		{"english status", LangEN, "status", "Status"},
		{"russian status", LangRU, "status", "Статус"},
		{"english error", LangEN, "error", "Error"},
		{"russian error", LangRU, "error", "Ошибка"},
		{"unknown key", LangEN, "unknown_key", "unknown_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFormatter(tt.lang)
			if got := f.T(tt.key); got != tt.want {
				t.Errorf("T() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatter_SetGetLang(t *testing.T) {
	f := NewFormatter("de")
	if f.GetLang() != LangEN {
		t.Error("unsupported language should fall back to English")
	}
	f.SetLang(LangRU)
	if f.GetLang() != LangRU {
		t.Error("Language should be Russian after SetLang")
	}
}

func TestFormatter_FormatStatus(t *testing.T) {
	f := NewFormatter(LangEN)
	st := &orchestrator.TenantStatus{
		TenantID:  "t1",
		Enabled:   true,
		RiskStyle: domain.StyleModerate,
		DryRun:    true,
		Portfolio: portfolio.Snapshot{
			Cash:               50000,
			NetValue:           94000,
			AccountDrawdownPct: -0.06,
			SilentDaysLeft:     1,
			Positions: map[string]portfolio.AssetSnapshot{
				"XYZ": {Position: 500, CurrentPrice: 88, DrawdownPct: -0.12, SilentDaysLeft: 1},
				"OLD": {Position: 0},
			},
		},
		Held: []*domain.TradeIntent{{ID: "i1"}},
	}

	got := f.FormatStatus(st)
	for _, want := range []string{"t1", "moderate", "Dry run", "$94000.00", "-6.00%", "Silent mode: 1", "XYZ 500 @ $88.00", "Held intents: 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStatus() missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "OLD") {
		t.Error("flat unlocked positions should be hidden")
	}
}

func TestFormatter_FormatLockEvent(t *testing.T) {
	f := NewFormatter(LangEN)
	release := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)

	trigger := f.FormatLockEvent(audit.LockEvent{
		TenantID:        "t1",
		Event:           audit.EventTrigger,
		Kind:            domain.LockSilent,
		Symbol:          "XYZ",
		Days:            3,
		TriggerSource:   domain.TriggerSourceIntraday,
		ReasonCode:      domain.TriggerDrawPos7,
		ReasonText:      "drawdown",
		UserID:          domain.ActorSystem,
		ExpectedRelease: &release,
	})
	for _, want := range []string{"🔇", "t1/XYZ", "DRAW_POS_GT_7", "3 days left", "2025-03-13", "intraday"} {
		if !strings.Contains(trigger, want) {
			t.Errorf("trigger message missing %q in:\n%s", want, trigger)
		}
	}

	kill := f.FormatLockEvent(audit.LockEvent{TenantID: "t1", Event: audit.EventTrigger, Kind: domain.LockKillSwitch})
	if !strings.Contains(kill, "🚨") || !strings.Contains(kill, "t1/account") {
		t.Errorf("kill switch message unexpected:\n%s", kill)
	}

	rel := f.FormatLockEvent(audit.LockEvent{
		TenantID: "t1", Event: audit.EventRelease, Kind: domain.LockKillSwitch,
		ReleaseType: domain.ReleaseManual, ReleasedBy: "ops",
	})
	if !strings.Contains(rel, "Lock released") || !strings.Contains(rel, "by ops") {
		t.Errorf("release message unexpected:\n%s", rel)
	}
}

func TestFormatter_FormatAuditFailure(t *testing.T) {
	f := NewFormatter(LangEN)
	rec := &domain.ExecutionRecord{
		IntentID:   "intent-1",
		Symbol:     "XYZ",
		Action:     domain.ActionBuy,
		Quantity:   10,
		StatusCode: "EXEC_AUDIT_FAIL",
		Fill:       &domain.Fill{OrderID: "ord-1", Quantity: 10, Price: 100.1},
	}

	got := f.FormatAuditFailure("t1", rec, errors.New("record unreadable"))
	for _, want := range []string{"AUDIT INTEGRITY FAILURE", "intent-1", "BUY XYZ x10", "ord-1", "EXEC_AUDIT_FAIL", "record unreadable"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatAuditFailure() missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatter_FormatHelp(t *testing.T) {
	for _, lang := range []Lang{LangEN, LangRU} {
		got := NewFormatter(lang).FormatHelp()
		for _, cmd := range []string{"/status", "/lock", "/release", "/tenants"} {
			if !strings.Contains(got, cmd) {
				t.Errorf("%s help missing %s", lang, cmd)
			}
		}
	}
}
