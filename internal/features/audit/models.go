// Package audit ведёт журнал административных и денежных действий.
// Журнал только пополняется: записи никогда не изменяются и не удаляются.
package audit

import (
	"context"
	"time"
)

// Действия, которые попадают в журнал
const (
	ActionGrant        = "ledger.grant"        // Начисление при смене подписки
	ActionAdd          = "ledger.add"          // Покупка кредитов
	ActionCharge       = "ledger.charge"       // Списание кредитов
	ActionExchangeRate = "admin.exchange_rate" // Изменение base_rate
	ActionPlanUpsert   = "admin.plan_upsert"   // Создание или изменение тарифа
	ActionUserCreate   = "users.create"        // Регистрация пользователя
)

// Entry — одна запись журнала.
type Entry struct {
	ID          int64          `json:"id"`
	Actor       string         `json:"actor"`                  // Кто выполнил действие (service, admin, system)
	Action      string         `json:"action"`                 // Одно из Action* выше
	UserID      string         `json:"user_id,omitempty"`      // Затронутый пользователь, если есть
	OperationID string         `json:"operation_id,omitempty"` // operation_id денежной операции, если есть
	Details     map[string]any `json:"details,omitempty"`      // Подробности действия
	CreatedAt   time.Time      `json:"created_at"`
}

// Auditor — то, что остальным модулям нужно от журнала.
type Auditor interface {
	Record(ctx context.Context, entry Entry) error
}
