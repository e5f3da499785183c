// Package ledger — idempotency.go отвечает на вопрос «эта операция уже была?».
package ledger

import (
	"context"
	"errors"

	"serotonyl.ru/credit-ledger/internal/common"
)

// transactionFinder — поиск транзакции по operation_id.
type transactionFinder interface {
	GetTransactionByOperationID(ctx context.Context, operationID string) (*Transaction, error)
}

// Guard проверяет operation_id перед выполнением операции.
type Guard struct {
	store transactionFinder
}

// NewGuard создаёт проверку идемпотентности.
func NewGuard(store transactionFinder) *Guard {
	return &Guard{store: store}
}

// Check ищет транзакцию с данным operation_id.
//
// Возвращает:
//   - (false, nil, nil): операции не было, можно выполнять
//   - (true, tx, nil): операция того же типа уже выполнена, нужно вернуть её результат
//   - *common.ConflictError: operation_id занят операцией другого типа
func (g *Guard) Check(ctx context.Context, operationID string, expected TxType) (bool, *Transaction, error) {
	tx, err := g.store.GetTransactionByOperationID(ctx, operationID)
	if errors.Is(err, common.ErrTransactionNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	if tx.Type != expected {
		return false, nil, &common.ConflictError{
			OperationID:  operationID,
			ExistingType: string(tx.Type),
			ExpectedType: string(expected),
		}
	}
	return true, tx, nil
}
