// Package sequence хранит глобальный курс кредитов и выдаёт operation_id.
// Оба значения живут в одной строке ledger_settings (id = 1).
package sequence

import "time"

// RateChange — результат смены base_rate.
type RateChange struct {
	OldRate   int64     `json:"old_rate"`
	NewRate   int64     `json:"new_rate"`
	UpdatedAt time.Time `json:"updated_at"`
}
