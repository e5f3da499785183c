// Package ledger ведёт балансы пользователей и журнал транзакций.
// models.go описывает баланс, транзакцию и результаты денежных операций.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxType — тип транзакции. По нему же проверяется повтор operation_id.
type TxType string

const (
	TxTypeCharge       TxType = "CHARGE"       // Списание за использование
	TxTypeAdd          TxType = "ADD"          // Покупка кредитов
	TxTypeSubscription TxType = "SUBSCRIPTION" // Начисление при смене подписки
)

// TxSource — источник начисления (необязательный).
type TxSource string

const (
	SourcePurchase     TxSource = "PURCHASE"
	SourceSubscription TxSource = "SUBSCRIPTION"
	SourceBonus        TxSource = "BONUS"
	SourceRefund       TxSource = "REFUND"
)

// Balance — баланс пользователя. Одна запись на пользователя.
// Всегда выполняется Balance == TotalEarned - TotalSpent.
type Balance struct {
	UserID      string    `json:"user_id"`
	Balance     int64     `json:"balance"`      // Текущий баланс в кредитах
	TotalEarned int64     `json:"total_earned"` // Сколько всего начислено
	TotalSpent  int64     `json:"total_spent"`  // Сколько всего списано
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// Transaction — одна запись журнала. Создаётся один раз и не изменяется.
// BalanceAfter всегда равен BalanceBefore + Credits.
type Transaction struct {
	ID            string              `json:"id"` // txn_ + UUIDv5 от operation_id
	UserID        string              `json:"user_id"`
	Type          TxType              `json:"type"`
	Source        *TxSource           `json:"source,omitempty"`
	OperationID   string              `json:"operation_id"` // Ключ идемпотентности
	Credits       int64               `json:"credits"`      // Изменение баланса со знаком
	BalanceBefore int64               `json:"balance_before"`
	BalanceAfter  int64               `json:"balance_after"`
	CostUSD       decimal.NullDecimal `json:"cost_usd"`   // Только для CHARGE
	AmountUSD     decimal.NullDecimal `json:"amount_usd"` // Только для ADD
	Description   string              `json:"description"`
	Metadata      map[string]any      `json:"metadata"`
	CreatedAt     time.Time           `json:"created_at"`
}

// txnNamespace — пространство имён для детерминированных ID транзакций.
var txnNamespace = uuid.MustParse("6f1c2a7e-4b1d-5e8a-9c3f-2d7b8e0a1c45")

// TransactionID возвращает ID транзакции для operation_id.
// Один и тот же operation_id всегда даёт один и тот же ID.
func TransactionID(operationID string) string {
	return "txn_" + uuid.NewSHA1(txnNamespace, []byte(operationID)).String()
}

// GrantRequest — начисление при смене подписки.
type GrantRequest struct {
	UserID       string
	TargetTier   string
	CreditsToAdd int64
	OperationID  string
}

// AddRequest — покупка кредитов.
type AddRequest struct {
	UserID      string
	AmountUSD   decimal.Decimal
	OperationID string
	Metadata    map[string]any
}

// ChargeRequest — списание кредитов.
type ChargeRequest struct {
	UserID      string
	CostUSD     decimal.Decimal
	OperationID string
	Metadata    map[string]any
}

// GrantResult — ответ на начисление при смене подписки.
type GrantResult struct {
	UserID       string          `json:"user_id"`
	PreviousTier *string         `json:"previous_tier"`
	NewTier      string          `json:"new_tier"`
	CreditsAdded int64           `json:"credits_added"`
	NewBalance   int64           `json:"new_balance"`
	Multiplier   decimal.Decimal `json:"multiplier"`
	PurchaseRate decimal.Decimal `json:"purchase_rate"`
}

// AddResult — ответ на покупку кредитов.
type AddResult struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	CreditsAdded  int64           `json:"credits_added"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	PurchaseRate  decimal.Decimal `json:"purchase_rate"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
}

// ChargeResult — ответ на успешное списание.
type ChargeResult struct {
	TransactionID  string          `json:"transaction_id"`
	UserID         string          `json:"user_id"`
	CreditsCharged int64           `json:"credits_charged"`
	CostUSD        decimal.Decimal `json:"cost_usd"`
	BalanceBefore  int64           `json:"balance_before"`
	BalanceAfter   int64           `json:"balance_after"`
}

// InsufficientFunds — кредитов не хватило, ничего не списано.
type InsufficientFunds struct {
	Required       int64 `json:"required"`
	CurrentBalance int64 `json:"current_balance"`
	Deficit        int64 `json:"deficit"`
}

// ChargeOutcome — результат списания: заполнено ровно одно поле.
type ChargeOutcome struct {
	Charged      *ChargeResult
	Insufficient *InsufficientFunds
}

// CalculateResult — оценка списания без изменения баланса.
type CalculateResult struct {
	CreditsToCharge int64           `json:"credits_to_charge"`
	Multiplier      decimal.Decimal `json:"multiplier"`
	CurrentBalance  int64           `json:"current_balance"`
	BalanceAfter    int64           `json:"balance_after"`
	Sufficient      bool            `json:"sufficient"`
}

// TransactionPage — страница истории транзакций.
type TransactionPage struct {
	Items  []*Transaction `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}
