// Package sequence — repository.go работает со строкой ledger_settings.
// Каждая операция — один атомарный SQL-запрос, без чтения и записи по отдельности.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

// Repository работает с таблицей ledger_settings.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий настроек.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// NextSequence увеличивает счётчик и возвращает значение до увеличения.
// UPDATE берёт блокировку строки, поэтому два параллельных вызова
// никогда не получат одно и то же число.
func (r *Repository) NextSequence(ctx context.Context) (int64, error) {
	query := `
		UPDATE ledger_settings
		SET current_operation_id = current_operation_id + 1, updated_at = NOW()
		WHERE id = 1
		RETURNING current_operation_id - 1
	`
	var n int64
	err := r.db.QueryRow(ctx, query).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, common.ErrSettingsMissing
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка выдачи operation_id: %w", err)
	}
	return n, nil
}

// BaseRate возвращает текущий курс (кредитов за 1 USD).
func (r *Repository) BaseRate(ctx context.Context) (int64, error) {
	var rate int64
	err := r.db.QueryRow(ctx, `SELECT base_rate FROM ledger_settings WHERE id = 1`).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, common.ErrSettingsMissing
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка получения курса: %w", err)
	}
	return rate, nil
}

// SwapBaseRate атомарно меняет курс и возвращает старое и новое значения.
func (r *Repository) SwapBaseRate(ctx context.Context, rate int64) (*RateChange, error) {
	query := `
		UPDATE ledger_settings s
		SET base_rate = $1, updated_at = NOW()
		FROM (SELECT base_rate FROM ledger_settings WHERE id = 1 FOR UPDATE) old
		WHERE s.id = 1
		RETURNING old.base_rate, s.base_rate, s.updated_at
	`
	var c RateChange
	err := r.db.QueryRow(ctx, query, rate).Scan(&c.OldRate, &c.NewRate, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrSettingsMissing
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка смены курса: %w", err)
	}
	return &c, nil
}
