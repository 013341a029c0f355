package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput некорректное намерение или параметры вызова
	ErrInvalidInput = errors.New("invalid input")

	// ErrPositionTooSmall продажа больше текущей позиции
	ErrPositionTooSmall = errors.New("sell quantity exceeds current position")

	// ErrApprovalAlreadySet решение уже прикреплено к намерению
	ErrApprovalAlreadySet = errors.New("approval already attached")

	// ErrInvalidTransition недопустимый переход жизненного цикла
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrUnknownTenant тенант не зарегистрирован
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrUnauthorized возвращается при ошибке авторизации
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInfrastructure общий класс инфраструктурных сбоев
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrPriceUnavailable цена не получена ни из одного источника
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrPersistence ошибка записи состояния
	ErrPersistence = errors.New("persistence failure")

	// ErrAuditIntegrity сделка исполнена, но аудит не подтвержден
	ErrAuditIntegrity = errors.New("audit integrity failure")

	// ErrExchangeAPI возвращается при ошибке API биржи
	ErrExchangeAPI = errors.New("exchange API error")
)

// IsInfrastructure true для сбоев, блокирующих торговлю до следующего heartbeat
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrExchangeAPI)
}
