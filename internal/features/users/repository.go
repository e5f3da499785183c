// Package users — repository.go работает с таблицей users.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

// Repository работает с пользователями.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий пользователей.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// Create регистрирует пользователя вместе с нулевым балансом.
// Повторный вызов для того же ID ничего не меняет и возвращает created = false.
func (r *Repository) Create(ctx context.Context, id string) (*User, bool, error) {
	var (
		u       User
		created bool
	)
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (id) VALUES ($1)
			ON CONFLICT (id) DO NOTHING
			RETURNING id, created_at
		`, id).Scan(&u.ID, &u.CreatedAt)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, pgx.ErrNoRows):
			// Уже зарегистрирован — читаем существующую запись
			err = tx.QueryRow(ctx, `SELECT id, created_at FROM users WHERE id = $1`, id).Scan(&u.ID, &u.CreatedAt)
			if err != nil {
				return fmt.Errorf("ошибка получения пользователя: %w", err)
			}
		default:
			return fmt.Errorf("ошибка создания пользователя: %w", err)
		}

		// Начальный баланс всегда 0 кредитов
		_, err = tx.Exec(ctx, `
			INSERT INTO balances (user_id, balance, total_earned, total_spent)
			VALUES ($1, 0, 0, 0)
			ON CONFLICT (user_id) DO NOTHING
		`, id)
		if err != nil {
			return fmt.Errorf("ошибка создания баланса: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &u, created, nil
}

// Get возвращает пользователя по ID.
func (r *Repository) Get(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, `SELECT id, created_at FROM users WHERE id = $1`, id).Scan(&u.ID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return &u, nil
}

// Count возвращает число зарегистрированных пользователей.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return n, nil
}
