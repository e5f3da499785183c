// Package plans управляет тарифными планами подписки.
// models.go описывает структуру тарифа из таблицы subscription_plans.
package plans

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan представляет тариф подписки.
// Multiplier и PurchaseRate читаются леджером при каждом списании и покупке.
type Plan struct {
	Tier            string          `json:"tier" db:"tier"`                         // Ключ тарифа (free, starter, pro, ...)
	Name            string          `json:"name" db:"name"`                         // Отображаемое название
	MonthlyCost     decimal.Decimal `json:"monthly_cost" db:"monthly_cost"`         // Цена в месяц, USD
	FixedCost       decimal.Decimal `json:"fixed_cost" db:"fixed_cost"`             // Фиксированная часть, USD
	CreditsIncluded int64           `json:"credits_included" db:"credits_included"` // Кредиты, входящие в тариф
	BonusCredits    int64           `json:"bonus_credits" db:"bonus_credits"`       // Бонус при подключении
	Multiplier      decimal.Decimal `json:"multiplier" db:"multiplier"`             // Множитель стоимости списаний (> 0)
	PurchaseRate    decimal.Decimal `json:"purchase_rate" db:"purchase_rate"`       // Множитель при покупке (>= 1.0)
	Active          bool            `json:"active" db:"active"`                     // Можно ли подключить тариф
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
