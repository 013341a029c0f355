package telegram

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillm/riskgate/internal/domain"
)

// CommandArgs распарсенная команда оператора
type CommandArgs struct {
	Command  string
	TenantID string
	Kind     domain.LockKind
	Symbol   string
	Days     int
	Reason   string
	Raw      []string
}

// CommandType тип команды
type CommandType string

const (
	CmdStart   CommandType = "start"
	CmdHelp    CommandType = "help"
	CmdTenants CommandType = "tenants"
	CmdStatus  CommandType = "status"
	CmdLock    CommandType = "lock"
	CmdRelease CommandType = "release"
)

const maxSilentDays = 31

var (
	tenantArgPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	symbolPattern    = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,14}$`)
)

// ParseCommand разбирает текст команды.
//
//	/status <tenant>
//	/lock <tenant> <silent|kill> [SYMBOL] [DAYS] [reason...]
//	/release <tenant> <silent|kill> [SYMBOL]
func ParseCommand(text string) (*CommandArgs, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("not a command")
	}

	parts := strings.Fields(text)
	if len(parts) == 0 || parts[0] == "/" {
		return nil, fmt.Errorf("empty command")
	}

	cmd := normalizeCommand(strings.TrimPrefix(parts[0], "/"))
	args := &CommandArgs{
		Command: cmd,
		Raw:     parts[1:],
	}

	switch CommandType(cmd) {
	case CmdStart, CmdHelp, CmdTenants:
		return args, nil

	case CmdStatus:
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /status TENANT")
		}
		return args, args.setTenant(parts[1])

	case CmdLock:
		if len(parts) < 3 {
			return nil, fmt.Errorf("usage: /lock TENANT silent|kill [SYMBOL] [DAYS] [reason]")
		}
		if err := args.setTenant(parts[1]); err != nil {
			return nil, err
		}
		if err := args.setKind(parts[2]); err != nil {
			return nil, err
		}
		rest := parts[3:]
		if len(rest) > 0 && !isNumber(rest[0]) && symbolPattern.MatchString(normalizeSymbol(rest[0])) && !isReasonWord(rest[0]) {
			args.Symbol = normalizeSymbol(rest[0])
			rest = rest[1:]
		}
		if len(rest) > 0 && isNumber(rest[0]) {
			args.Days = parseInt(rest[0], 0)
			rest = rest[1:]
		}
		args.Reason = strings.Join(rest, " ")

		if args.Kind == domain.LockSilent {
			if args.Days == 0 {
				args.Days = 1
			}
			if args.Days < 1 || args.Days > maxSilentDays {
				return nil, fmt.Errorf("days must be between 1 and %d", maxSilentDays)
			}
		} else if args.Days != 0 {
			return nil, fmt.Errorf("kill switch has no duration, release it with /release")
		}
		return args, nil

	case CmdRelease:
		if len(parts) < 3 {
			return nil, fmt.Errorf("usage: /release TENANT silent|kill [SYMBOL]")
		}
		if err := args.setTenant(parts[1]); err != nil {
			return nil, err
		}
		if err := args.setKind(parts[2]); err != nil {
			return nil, err
		}
		if len(parts) >= 4 {
			sym := normalizeSymbol(parts[3])
			if !symbolPattern.MatchString(sym) {
				return nil, fmt.Errorf("invalid symbol %q", parts[3])
			}
			args.Symbol = sym
		}
		return args, nil

	default:
		return args, nil
	}
}

func (a *CommandArgs) setTenant(s string) error {
	if !tenantArgPattern.MatchString(s) {
		return fmt.Errorf("invalid tenant id %q", s)
	}
	a.TenantID = s
	return nil
}

func (a *CommandArgs) setKind(s string) error {
	switch strings.ToLower(s) {
	case "silent", "cooling", "freeze":
		a.Kind = domain.LockSilent
	case "kill", "killswitch", "ks":
		a.Kind = domain.LockKillSwitch
	default:
		return fmt.Errorf("unknown lock kind %q, use silent or kill", s)
	}
	return nil
}

// isReasonWord символы в /lock пишутся заглавными, слово в нижнем регистре начинает причину
func isReasonWord(s string) bool {
	return s != strings.ToUpper(s)
}

// normalizeSymbol приводит тикер к верхнему регистру без префикса $
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(symbol), "$"))
}

// normalizeCommand алиасы команд; суффикс @botname отбрасывается
func normalizeCommand(cmd string) string {
	cmd = strings.ToLower(cmd)
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	aliases := map[string]string{
		"s":        "status",
		"st":       "status",
		"freeze":   "lock",
		"unlock":   "release",
		"unfreeze": "release",
		"list":     "tenants",
		"h":        "help",
	}
	if full, ok := aliases[cmd]; ok {
		return full
	}
	return cmd
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func parseInt(s string, defaultVal int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
