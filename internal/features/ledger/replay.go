// Package ledger — replay.go восстанавливает ответ операции по записи журнала.
//
// Первый вызов и любой повтор с тем же operation_id строят ответ одной и той
// же функцией из сохранённой транзакции, поэтому ответы совпадают байт в байт,
// даже если тариф или курс с тех пор изменились.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Ключи метаданных, которые пишет сам леджер.
// Они перекрывают одноимённые ключи из запроса.
const (
	metaPreviousTier = "previous_tier"
	metaNewTier      = "new_tier"
	metaMultiplier   = "multiplier"
	metaPurchaseRate = "purchase_rate"
	metaBaseRate     = "base_rate"
)

// grantResultFrom строит ответ начисления по подписке.
func grantResultFrom(tx *Transaction) *GrantResult {
	return &GrantResult{
		UserID:       tx.UserID,
		PreviousTier: metaStringPtr(tx.Metadata, metaPreviousTier),
		NewTier:      metaString(tx.Metadata, metaNewTier),
		CreditsAdded: tx.Credits,
		NewBalance:   tx.BalanceAfter,
		Multiplier:   metaDecimal(tx, metaMultiplier),
		PurchaseRate: metaDecimal(tx, metaPurchaseRate),
	}
}

// addResultFrom строит ответ покупки кредитов.
func addResultFrom(tx *Transaction) *AddResult {
	return &AddResult{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		CreditsAdded:  tx.Credits,
		AmountUSD:     tx.AmountUSD.Decimal,
		PurchaseRate:  metaDecimal(tx, metaPurchaseRate),
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
	}
}

// chargeResultFrom строит ответ успешного списания.
// В журнале списание хранится с отрицательным Credits.
func chargeResultFrom(tx *Transaction) *ChargeResult {
	return &ChargeResult{
		TransactionID:  tx.ID,
		UserID:         tx.UserID,
		CreditsCharged: -tx.Credits,
		CostUSD:        tx.CostUSD.Decimal,
		BalanceBefore:  tx.BalanceBefore,
		BalanceAfter:   tx.BalanceAfter,
	}
}

// mergeMetadata копирует метаданные запроса и дописывает ключи леджера.
func mergeMetadata(caller map[string]any, engine map[string]any) map[string]any {
	out := make(map[string]any, len(caller)+len(engine))
	for k, v := range caller {
		out[k] = v
	}
	for k, v := range engine {
		out[k] = v
	}
	return out
}

func metaString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func metaStringPtr(m map[string]any, key string) *string {
	if m[key] == nil {
		return nil
	}
	s := metaString(m, key)
	return &s
}

// metaDecimal читает десятичное значение из метаданных транзакции.
// Испорченное значение отдаётся нулём, но попадает в лог: ответ повтора
// тогда расходится с первым ответом, и это надо видеть.
func metaDecimal(tx *Transaction, key string) decimal.Decimal {
	raw := metaString(tx.Metadata, key)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"transaction_id": tx.ID,
			"operation_id":   tx.OperationID,
			"key":            key,
			"value":          raw,
		}).Warn("Некорректное число в метаданных транзакции")
		return decimal.Zero
	}
	return d
}
