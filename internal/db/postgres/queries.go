// Package postgres — вспомогательные функции для работы с БД.
// queries.go содержит общий интерфейс пула и обёртку для транзакций.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation — SQLSTATE нарушения уникального индекса.
const uniqueViolation = "23505"

// DB — то, что репозиториям нужно от пула соединений.
// *pgxpool.Pool реализует его, а в тестах подставляется pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx выполняет fn в транзакции.
// Если fn вернула ошибку — транзакция откатится, иначе фиксируется.
//
// Откат выполняется на контексте без отмены: если клиент оборвал запрос,
// соединение всё равно должно вернуться в пул чистым.
func WithTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так (после Commit это no-op)
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(tx); err != nil {
		return err
	}

	// Фиксируем транзакцию
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// IsUniqueViolation сообщает, упал ли запрос на уникальном индексе.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
