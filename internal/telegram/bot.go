package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/orchestrator"
	"github.com/kirillm/riskgate/pkg/utils"
)

// Operator операции, доступные из чата
type Operator interface {
	TriggerLock(ctx context.Context, tenantID string, req orchestrator.LockRequest) error
	ReleaseLock(ctx context.Context, tenantID string, kind domain.LockKind, symbol, actor string) error
	Status(tenantID string) (*orchestrator.TenantStatus, error)
	Tenants() []string
}

// Sender часть tgbotapi.BotAPI, нужная боту
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot команды операторов и оповещения о блокировках
type Bot struct {
	api       *tgbotapi.BotAPI
	sender    Sender
	chatID    int64
	logger    *utils.Logger
	operator  Operator
	router    *Router
	formatter *Formatter
}

func NewBot(token string, chatID int64, adminIDs string, operator Operator, logger *utils.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info("Telegram bot authorized: @%s", api.Self.UserName)

	b := NewBotWithSender(api, chatID, NewAuthManager(adminIDs, ""), operator, logger)
	b.api = api
	return b, nil
}

// NewBotWithSender бот без сетевого клиента обновлений
func NewBotWithSender(sender Sender, chatID int64, auth *AuthManager, operator Operator, logger *utils.Logger) *Bot {
	if logger == nil {
		logger = utils.NopLogger()
	}
	formatter := NewFormatter(LangEN)
	b := &Bot{
		sender:    sender,
		chatID:    chatID,
		logger:    logger,
		operator:  operator,
		router:    NewRouter(auth, formatter),
		formatter: formatter,
	}
	b.registerHandlers()
	return b
}

func (b *Bot) registerHandlers() {
	help := func(context.Context, int64, *CommandArgs) (string, error) {
		return b.formatter.FormatHelp(), nil
	}
	b.router.RegisterHandler(CmdStart, help)
	b.router.RegisterHandler(CmdHelp, help)
	b.router.RegisterHandler(CmdTenants, b.handleTenants)
	b.router.RegisterHandler(CmdStatus, b.handleStatus)
	b.router.RegisterAdminHandler(CmdLock, b.handleLock)
	b.router.RegisterAdminHandler(CmdRelease, b.handleRelease)
}

// Start читает обновления до отмены ctx
func (b *Bot) Start(ctx context.Context) {
	if b.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.SendMessage("🛡 Risk gate operator bot started. Use /help to see commands.")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				b.logger.Warn("Unauthorized access attempt from chat ID: %d", update.Message.Chat.ID)
				continue
			}
			b.HandleMessage(ctx, update.Message)
		}
	}
}

// HandleMessage обрабатывает одну команду и отвечает в чат
func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	var userID int64
	if message.From != nil {
		userID = message.From.ID
	}
	b.logger.Info("Received command from %d: %s", userID, message.Text)

	response, err := b.router.HandleCommand(ctx, userID, message.Text)
	if err != nil {
		b.logger.Warn("Command %q failed: %v", message.Text, err)
	}
	b.SendMessage(response)
}

func (b *Bot) handleTenants(context.Context, int64, *CommandArgs) (string, error) {
	return b.formatter.FormatTenants(b.operator.Tenants()), nil
}

func (b *Bot) handleStatus(_ context.Context, _ int64, args *CommandArgs) (string, error) {
	st, err := b.operator.Status(args.TenantID)
	if err != nil {
		return "", err
	}
	return b.formatter.FormatStatus(st), nil
}

func (b *Bot) handleLock(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
	req := orchestrator.LockRequest{
		Kind:   args.Kind,
		Symbol: args.Symbol,
		Days:   args.Days,
		Reason: args.Reason,
		Actor:  actorFor(userID),
	}
	if err := b.operator.TriggerLock(ctx, args.TenantID, req); err != nil {
		return "", err
	}
	return b.formatter.FormatSuccess(fmt.Sprintf("%s %s/%s", args.Kind, args.TenantID, scopeName(args.Symbol))), nil
}

func (b *Bot) handleRelease(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
	if err := b.operator.ReleaseLock(ctx, args.TenantID, args.Kind, args.Symbol, actorFor(userID)); err != nil {
		return "", err
	}
	return b.formatter.FormatSuccess(fmt.Sprintf("released %s %s/%s", args.Kind, args.TenantID, scopeName(args.Symbol))), nil
}

// NotifyLock реализует lock.Notifier
func (b *Bot) NotifyLock(ev audit.LockEvent) {
	b.SendMessage(b.formatter.FormatLockEvent(ev))
}

// NotifyAuditFailure реализует orchestrator.Notifier
func (b *Bot) NotifyAuditFailure(tenantID string, rec *domain.ExecutionRecord, err error) {
	b.SendMessage(b.formatter.FormatAuditFailure(tenantID, rec, err))
}

// SendMessage отправляет текст в чат операторов
func (b *Bot) SendMessage(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send telegram message: %v", err)
	}
}

func actorFor(userID int64) string {
	return "telegram:" + strconv.FormatInt(userID, 10)
}

func scopeName(symbol string) string {
	if symbol == "" {
		return "account"
	}
	return symbol
}
