// Package ledger — repository.go работает с таблицами balances, transactions
// и subscriptions. Все изменения баланса идут через WithinTx с блокировкой
// строки баланса (SELECT ... FOR UPDATE).
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/db/postgres"
	"serotonyl.ru/credit-ledger/internal/features/plans"
)

// transactionColumns — колонки транзакции в порядке scanTransaction.
const transactionColumns = `id, user_id, type, source, operation_id, credits,
	balance_before, balance_after, cost_usd::text, amount_usd::text,
	description, metadata, created_at`

const balanceColumns = `user_id, balance, total_earned, total_spent, created_at, updated_at`

// Repository — хранилище леджера в PostgreSQL.
type Repository struct {
	db    postgres.DB
	plans *plans.Repository
}

// NewRepository создаёт репозиторий леджера.
func NewRepository(db postgres.DB, plansRepo *plans.Repository) *Repository {
	return &Repository{db: db, plans: plansRepo}
}

// UserExists проверяет, зарегистрирован ли пользователь.
func (r *Repository) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки пользователя: %w", err)
	}
	return exists, nil
}

// GetTransactionByOperationID ищет транзакцию по ключу идемпотентности.
func (r *Repository) GetTransactionByOperationID(ctx context.Context, operationID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE operation_id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, operationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска транзакции: %w", err)
	}
	return tx, nil
}

// GetSubscriptionPlan возвращает тариф текущей подписки пользователя.
func (r *Repository) GetSubscriptionPlan(ctx context.Context, userID string) (*plans.Plan, error) {
	query := `
		SELECT ` + plans.Columns + `
		FROM subscriptions s
		JOIN subscription_plans p ON p.tier = s.plan_id
		WHERE s.user_id = $1
	`
	plan, err := plans.ScanPlan(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения подписки: %w", err)
	}
	return plan, nil
}

// GetPlan возвращает тариф по ключу.
func (r *Repository) GetPlan(ctx context.Context, tier string) (*plans.Plan, error) {
	return r.plans.Get(ctx, tier)
}

// GetOrCreateBalance возвращает баланс, создавая нулевой при первом обращении.
func (r *Repository) GetOrCreateBalance(ctx context.Context, userID string) (*Balance, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO balances (user_id, balance, total_earned, total_spent)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания баланса: %w", err)
	}

	b, err := scanBalance(r.db.QueryRow(ctx, `SELECT `+balanceColumns+` FROM balances WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return b, nil
}

// ListTransactions возвращает страницу истории и общее число транзакций пользователя.
func (r *Repository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*Transaction, int, error) {
	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта транзакций: %w", err)
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		result = append(result, t)
	}
	return result, total, rows.Err()
}

// WithinTx выполняет fn в одной транзакции БД.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx StoreTx) error) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&txRepository{tx: tx})
	})
}

// txRepository — операции внутри открытой транзакции.
type txRepository struct {
	tx pgx.Tx
}

// LockBalance создаёт баланс при необходимости и блокирует его строку.
// Параллельная операция над тем же пользователем ждёт здесь до нашего COMMIT.
func (t *txRepository) LockBalance(ctx context.Context, userID string) (*Balance, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO balances (user_id, balance, total_earned, total_spent)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания баланса: %w", err)
	}

	b, err := scanBalance(t.tx.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки баланса: %w", err)
	}
	return b, nil
}

// UpdateBalance записывает новое состояние баланса.
// CHECK-ограничения таблицы не дадут записать balance != total_earned - total_spent.
func (t *txRepository) UpdateBalance(ctx context.Context, b *Balance) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE balances
		SET balance = $2, total_earned = $3, total_spent = $4, updated_at = NOW()
		WHERE user_id = $1
	`, b.UserID, b.Balance, b.TotalEarned, b.TotalSpent)
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	return nil
}

// SwitchSubscription создаёт подписку или переключает её на новый тариф.
func (t *txRepository) SwitchSubscription(ctx context.Context, userID, tier string) (*string, error) {
	var previous string
	err := t.tx.QueryRow(ctx,
		`SELECT plan_id FROM subscriptions WHERE user_id = $1 FOR UPDATE`, userID).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = t.tx.Exec(ctx, `INSERT INTO subscriptions (user_id, plan_id) VALUES ($1, $2)`, userID, tier)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания подписки: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения подписки: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE subscriptions SET plan_id = $2, updated_at = NOW() WHERE user_id = $1`, userID, tier)
	if err != nil {
		return nil, fmt.Errorf("ошибка смены подписки: %w", err)
	}
	return &previous, nil
}

// InsertTransaction пишет транзакцию в журнал и заполняет CreatedAt.
// Повтор operation_id возвращает ErrDuplicateOperation.
func (t *txRepository) InsertTransaction(ctx context.Context, tx *Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	if tx.Metadata == nil {
		metadata = []byte("{}")
	}

	var source *string
	if tx.Source != nil {
		s := string(*tx.Source)
		source = &s
	}

	query := `
		INSERT INTO transactions (id, user_id, type, source, operation_id, credits,
			balance_before, balance_after, cost_usd, amount_usd, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12::jsonb)
		RETURNING created_at
	`
	err = t.tx.QueryRow(ctx, query,
		tx.ID, tx.UserID, string(tx.Type), source, tx.OperationID, tx.Credits,
		tx.BalanceBefore, tx.BalanceAfter, nullableDecimal(tx.CostUSD), nullableDecimal(tx.AmountUSD),
		tx.Description, string(metadata),
	).Scan(&tx.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return ErrDuplicateOperation
	}
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return nil
}

func scanBalance(row pgx.Row) (*Balance, error) {
	var b Balance
	err := row.Scan(&b.UserID, &b.Balance, &b.TotalEarned, &b.TotalSpent, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// scanTransaction читает транзакцию в порядке transactionColumns.
func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t                  Transaction
		txType             string
		source             *string
		costUSD, amountUSD *string
		metadata           []byte
	)
	err := row.Scan(
		&t.ID, &t.UserID, &txType, &source, &t.OperationID, &t.Credits,
		&t.BalanceBefore, &t.BalanceAfter, &costUSD, &amountUSD,
		&t.Description, &metadata, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = TxType(txType)
	if source != nil {
		s := TxSource(*source)
		t.Source = &s
	}
	if t.CostUSD, err = parseNullDecimal(costUSD); err != nil {
		return nil, err
	}
	if t.AmountUSD, err = parseNullDecimal(amountUSD); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("некорректные метаданные транзакции %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func nullableDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("некорректная сумма %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}
