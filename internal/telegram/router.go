package telegram

import (
	"context"
)

// CommandHandler обработчик команды; userID для атрибуции действия
type CommandHandler func(ctx context.Context, userID int64, args *CommandArgs) (string, error)

// Router маршрутизирует команды к обработчикам
type Router struct {
	handlers      map[string]CommandHandler
	authManager   *AuthManager
	formatter     *Formatter
	adminCommands map[string]bool
}

func NewRouter(authManager *AuthManager, formatter *Formatter) *Router {
	return &Router{
		handlers:      make(map[string]CommandHandler),
		authManager:   authManager,
		formatter:     formatter,
		adminCommands: make(map[string]bool),
	}
}

func (r *Router) RegisterHandler(command CommandType, handler CommandHandler) {
	r.handlers[string(command)] = handler
}

// RegisterAdminHandler обработчик с требованием админских прав
func (r *Router) RegisterAdminHandler(command CommandType, handler CommandHandler) {
	r.adminCommands[string(command)] = true
	r.handlers[string(command)] = handler
}

// HandleCommand текст ответа всегда готов к отправке; err только для логов
func (r *Router) HandleCommand(ctx context.Context, userID int64, text string) (string, error) {
	if err := r.authManager.CheckRateLimit(userID); err != nil {
		return r.formatter.FormatError(err), nil
	}
	if !r.authManager.IsAllowed(userID) {
		return r.formatter.T("access_denied"), nil
	}

	args, err := ParseCommand(text)
	if err != nil {
		return r.formatter.FormatError(err), nil
	}

	if r.adminCommands[args.Command] {
		if err := r.authManager.RequireAdmin(userID); err != nil {
			return r.formatter.T("admin_required"), nil
		}
	}

	handler, exists := r.handlers[args.Command]
	if !exists {
		return r.formatter.T("unknown"), nil
	}

	response, err := handler(ctx, userID, args)
	if err != nil {
		return r.formatter.FormatError(err), err
	}
	return response, nil
}

func (r *Router) IsAdminCommand(command string) bool {
	return r.adminCommands[command]
}
