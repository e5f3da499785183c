// Package payments проверяет, что оплата завершена, прежде чем начислять кредиты.
// Сама платёжная система внешняя: здесь только предикат.
package payments

import (
	"context"
	"strings"
)

// Checker сообщает, завершён ли платёж с данным payment_method_id.
type Checker interface {
	IsComplete(ctx context.Context, paymentMethodID string) (bool, error)
}

// StaticChecker считает завершённым любой непустой payment_method_id.
// Используется, пока платёжный шлюз подтверждает оплату до вызова леджера.
type StaticChecker struct{}

// IsComplete возвращает true для любого непустого ID.
func (StaticChecker) IsComplete(_ context.Context, paymentMethodID string) (bool, error) {
	return strings.TrimSpace(paymentMethodID) != "", nil
}
