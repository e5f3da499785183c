// Package ledger — pricing.go переводит доллары в кредиты.
// Покупка, списание и оценка списания считают через одну функцию,
// поэтому оценка всегда совпадает с реальным списанием.
package ledger

import (
	"math"

	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-ledger/internal/common"
)

// usdScale — сколько знаков после точки хранится в cost_usd/amount_usd.
const usdScale = 4

// maxCredits — больше в BIGINT не поместится.
var maxCredits = decimal.NewFromInt(math.MaxInt64)

// CreditsFor возвращает round(usd × factor × baseRate).
// Округление половины — от нуля: 0.5 → 1, 2.5 → 3.
// Результат, не помещающийся в int64, даёт common.ErrInvalidAmount.
//
// Примеры:
//
//	CreditsFor(5.00, 1.0, 10000) → 50000
//	CreditsFor(0.01, 2.0, 10000) → 200
func CreditsFor(usd, factor decimal.Decimal, baseRate int64) (int64, error) {
	credits := usd.Mul(factor).Mul(decimal.NewFromInt(baseRate)).Round(0)
	if credits.GreaterThan(maxCredits) {
		return 0, common.ErrInvalidAmount
	}
	return credits.IntPart(), nil
}

// addCredits прибавляет начисление к балансу и итогу заработанного.
// Переполнение BIGINT даёт common.ErrInvalidAmount, баланс не меняется.
func addCredits(b *Balance, credits int64) error {
	if b.Balance > math.MaxInt64-credits || b.TotalEarned > math.MaxInt64-credits {
		return common.ErrInvalidAmount
	}
	b.Balance += credits
	b.TotalEarned += credits
	return nil
}

// validateUSD проверяет, что сумма положительная и помещается в NUMERIC(14,4).
func validateUSD(usd decimal.Decimal) error {
	if !usd.IsPositive() || !usd.Equal(usd.Round(usdScale)) {
		return common.ErrInvalidAmount
	}
	if usd.GreaterThanOrEqual(decimal.New(1, 10)) {
		return common.ErrInvalidAmount
	}
	return nil
}
