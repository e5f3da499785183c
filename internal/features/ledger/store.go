// Package ledger — store.go описывает зависимости движка леджера.
// В продакшене Store реализует Repository (PostgreSQL), BalanceCache —
// Redis-адаптер из internal/cache, RateSource — sequence.Authority.
package ledger

import (
	"context"
	"errors"

	"serotonyl.ru/credit-ledger/internal/features/plans"
)

// ErrDuplicateOperation — вставка транзакции упала на уникальном operation_id.
// Значит, параллельный запрос с тем же operation_id успел зафиксироваться первым.
var ErrDuplicateOperation = errors.New("транзакция с таким operation_id уже существует")

// Store — чтения вне транзакции и точка входа в атомарный блок.
type Store interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	GetTransactionByOperationID(ctx context.Context, operationID string) (*Transaction, error)
	// GetSubscriptionPlan возвращает тариф текущей подписки (common.ErrSubscriptionNotFound, если подписки нет).
	GetSubscriptionPlan(ctx context.Context, userID string) (*plans.Plan, error)
	// GetPlan возвращает тариф по ключу (common.ErrPlanNotFound).
	GetPlan(ctx context.Context, tier string) (*plans.Plan, error)
	// GetOrCreateBalance читает баланс, создавая нулевую запись при первом обращении.
	GetOrCreateBalance(ctx context.Context, userID string) (*Balance, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*Transaction, int, error)
	// WithinTx выполняет fn в одной транзакции БД. Ошибка fn откатывает всё.
	WithinTx(ctx context.Context, fn func(tx StoreTx) error) error
}

// StoreTx — операции внутри атомарного блока.
type StoreTx interface {
	// LockBalance блокирует строку баланса до конца транзакции (создаёт её при необходимости).
	LockBalance(ctx context.Context, userID string) (*Balance, error)
	UpdateBalance(ctx context.Context, balance *Balance) error
	// SwitchSubscription переключает подписку на tier и возвращает прежний тариф (nil, если подписки не было).
	SwitchSubscription(ctx context.Context, userID, tier string) (*string, error)
	// InsertTransaction пишет транзакцию в журнал (ErrDuplicateOperation при повторе operation_id).
	InsertTransaction(ctx context.Context, tx *Transaction) error
}

// BalanceCache — кэш балансов. Ошибки кэша обрабатываются внутри адаптера:
// сбой чтения выглядит как промах, сбой записи или удаления только логируется.
//
// Get при промахе возвращает поколение записи. Set с этим поколением
// ничего не пишет, если между ними был Invalidate (отрицательное поколение
// запрещает запись совсем).
type BalanceCache interface {
	Get(ctx context.Context, userID string) (balance *Balance, gen int64, ok bool)
	Set(ctx context.Context, balance *Balance, gen int64)
	Invalidate(ctx context.Context, userID string)
}

// RateSource — текущий курс кредитов за 1 USD.
type RateSource interface {
	BaseRate(ctx context.Context) (int64, error)
}
