package telegram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/orchestrator"
)

// Lang язык сообщений
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// Formatter форматирует ответы и оповещения
type Formatter struct {
	lang Lang
}

func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

func (f *Formatter) SetLang(lang Lang) {
	f.lang = lang
}

func (f *Formatter) GetLang() Lang {
	return f.lang
}

var translations = map[string]map[Lang]string{
	"status":         {LangEN: "Status", LangRU: "Статус"},
	"tenants":        {LangEN: "Tenants", LangRU: "Тенанты"},
	"enabled":        {LangEN: "Enabled", LangRU: "Включен"},
	"disabled":       {LangEN: "Disabled", LangRU: "Выключен"},
	"dry_run":        {LangEN: "Dry run", LangRU: "Без исполнения"},
	"style":          {LangEN: "Risk style", LangRU: "Риск-профиль"},
	"cash":           {LangEN: "Cash", LangRU: "Кэш"},
	"net_value":      {LangEN: "Net value", LangRU: "Стоимость"},
	"drawdown":       {LangEN: "Drawdown", LangRU: "Просадка"},
	"silent":         {LangEN: "Silent mode", LangRU: "Тихий режим"},
	"kill_switch":    {LangEN: "Kill switch", LangRU: "Kill switch"},
	"days_left":      {LangEN: "days left", LangRU: "дн. осталось"},
	"positions":      {LangEN: "Positions", LangRU: "Позиции"},
	"no_positions":   {LangEN: "No positions", LangRU: "Нет позиций"},
	"held":           {LangEN: "Held intents", LangRU: "Отложенные заявки"},
	"lock_trigger":   {LangEN: "Lock applied", LangRU: "Блокировка включена"},
	"lock_release":   {LangEN: "Lock released", LangRU: "Блокировка снята"},
	"audit_failure":  {LangEN: "AUDIT INTEGRITY FAILURE", LangRU: "СБОЙ ЦЕЛОСТНОСТИ АУДИТА"},
	"success":        {LangEN: "Done", LangRU: "Готово"},
	"error":          {LangEN: "Error", LangRU: "Ошибка"},
	"access_denied":  {LangEN: "Access denied", LangRU: "Доступ запрещен"},
	"admin_required": {LangEN: "Admin permission required", LangRU: "Требуются права администратора"},
	"unknown":        {LangEN: "Unknown command, see /help", LangRU: "Неизвестная команда, см. /help"},
}

// T перевод ключа; неизвестный ключ возвращается как есть
func (f *Formatter) T(key string) string {
	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

// FormatStatus сводка по тенанту
func (f *Formatter) FormatStatus(st *orchestrator.TenantStatus) string {
	var sb strings.Builder
	snap := st.Portfolio

	sb.WriteString(fmt.Sprintf("📊 %s %s\n\n", f.T("status"), st.TenantID))

	state := f.T("enabled")
	if !st.Enabled {
		state = f.T("disabled")
	}
	sb.WriteString(fmt.Sprintf("%s | %s: %s", state, f.T("style"), st.RiskStyle))
	if st.DryRun {
		sb.WriteString(fmt.Sprintf(" | %s", f.T("dry_run")))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("cash"), snap.Cash))
	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("net_value"), snap.NetValue))
	sb.WriteString(fmt.Sprintf("%s: %.2f%%\n", f.T("drawdown"), snap.AccountDrawdownPct*100))

	if snap.KillSwitch {
		sb.WriteString(fmt.Sprintf("🚨 %s\n", f.T("kill_switch")))
	}
	if snap.SilentDaysLeft > 0 {
		sb.WriteString(fmt.Sprintf("🔇 %s: %d %s\n", f.T("silent"), snap.SilentDaysLeft, f.T("days_left")))
	}

	sb.WriteString(fmt.Sprintf("\n%s:\n", f.T("positions")))
	symbols := make([]string, 0, len(snap.Positions))
	for sym, pos := range snap.Positions {
		if pos.Position > 0 || pos.KillSwitch || pos.SilentDaysLeft > 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	if len(symbols) == 0 {
		sb.WriteString(f.T("no_positions") + "\n")
	}
	for _, sym := range symbols {
		pos := snap.Positions[sym]
		emoji := "🟢"
		if pos.DrawdownPct < 0 {
			emoji = "🔴"
		}
		sb.WriteString(fmt.Sprintf("%s %s %d @ $%.2f (%.2f%%)", emoji, sym, pos.Position, pos.CurrentPrice, pos.DrawdownPct*100))
		if pos.KillSwitch {
			sb.WriteString(" 🚨")
		}
		if pos.SilentDaysLeft > 0 {
			sb.WriteString(fmt.Sprintf(" 🔇%d", pos.SilentDaysLeft))
		}
		sb.WriteString("\n")
	}

	if len(st.Held) > 0 {
		sb.WriteString(fmt.Sprintf("\n⏸ %s: %d\n", f.T("held"), len(st.Held)))
	}
	return sb.String()
}

// FormatTenants список id
func (f *Formatter) FormatTenants(ids []string) string {
	return fmt.Sprintf("👥 %s (%d)\n%s", f.T("tenants"), len(ids), strings.Join(ids, "\n"))
}

// FormatLockEvent оповещение о триггере или снятии блокировки
func (f *Formatter) FormatLockEvent(ev audit.LockEvent) string {
	var sb strings.Builder

	scope := "account"
	if ev.Symbol != "" {
		scope = ev.Symbol
	}

	if ev.Event == audit.EventRelease {
		sb.WriteString(fmt.Sprintf("✅ %s: %s %s/%s\n", f.T("lock_release"), ev.Kind, ev.TenantID, scope))
		sb.WriteString(fmt.Sprintf("%s by %s", ev.ReleaseType, ev.ReleasedBy))
		return sb.String()
	}

	emoji := "🔇"
	if ev.Kind == domain.LockKillSwitch {
		emoji = "🚨"
	}
	sb.WriteString(fmt.Sprintf("%s %s: %s %s/%s\n", emoji, f.T("lock_trigger"), ev.Kind, ev.TenantID, scope))
	sb.WriteString(fmt.Sprintf("%s: %s\n", ev.ReasonCode, ev.ReasonText))
	if ev.Days > 0 {
		sb.WriteString(fmt.Sprintf("%d %s", ev.Days, f.T("days_left")))
		if ev.ExpectedRelease != nil {
			sb.WriteString(fmt.Sprintf(" (%s)", ev.ExpectedRelease.Format("2006-01-02")))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("%s / %s", ev.TriggerSource, ev.UserID))
	return sb.String()
}

// FormatAuditFailure сделка исполнена, но запись не подтверждена
func (f *Formatter) FormatAuditFailure(tenantID string, rec *domain.ExecutionRecord, err error) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🆘 %s\n\n", f.T("audit_failure")))
	sb.WriteString(fmt.Sprintf("Tenant: %s\n", tenantID))
	if rec != nil {
		sb.WriteString(fmt.Sprintf("Intent: %s\n", rec.IntentID))
		sb.WriteString(fmt.Sprintf("%s %s x%d\n", strings.ToUpper(string(rec.Action)), rec.Symbol, rec.Quantity))
		if rec.Fill != nil {
			sb.WriteString(fmt.Sprintf("Fill: %d @ $%.4f (%s)\n", rec.Fill.Quantity, rec.Fill.Price, rec.Fill.OrderID))
		}
		sb.WriteString(fmt.Sprintf("Status: %s\n", rec.StatusCode))
	}
	if err != nil {
		sb.WriteString(fmt.Sprintf("%s: %v", f.T("error"), err))
	}
	return sb.String()
}

// FormatSuccess короткое подтверждение
func (f *Formatter) FormatSuccess(message string) string {
	return fmt.Sprintf("✅ %s: %s", f.T("success"), message)
}

// FormatError сообщение об ошибке
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ %s: %v", f.T("error"), err)
}

// FormatHelp список команд
func (f *Formatter) FormatHelp() string {
	if f.lang == LangRU {
		return `🛡 Команды оператора

/tenants - список тенантов
/status TENANT - портфель и блокировки
/lock TENANT silent [SYMBOL] [DAYS] [причина] - тихий режим
/lock TENANT kill [SYMBOL] [причина] - kill switch
/release TENANT silent|kill [SYMBOL] - снять блокировку

/lock и /release только для администраторов`
	}
	return `🛡 Operator commands

/tenants - list tenants
/status TENANT - portfolio and locks
/lock TENANT silent [SYMBOL] [DAYS] [reason] - silent mode
/lock TENANT kill [SYMBOL] [reason] - kill switch
/release TENANT silent|kill [SYMBOL] - release a lock

/lock and /release require admin rights`
}
