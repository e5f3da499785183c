// Package audit — repository.go пишет в таблицу audit_log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

// Repository работает с таблицей audit_log.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий журнала.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// Insert добавляет запись и заполняет её ID и время создания.
func (r *Repository) Insert(ctx context.Context, entry *Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("ошибка сериализации деталей аудита: %w", err)
	}
	if entry.Details == nil {
		details = []byte("{}")
	}

	query := `
		INSERT INTO audit_log (actor, action, user_id, operation_id, details)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5::jsonb)
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query,
		entry.Actor, entry.Action, entry.UserID, entry.OperationID, string(details),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}
