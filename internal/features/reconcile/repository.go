package reconcile

import (
	"context"
	"fmt"

	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

// Repository читает балансы и суммы журнала.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий сверки.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// CountBalances возвращает число записей balances.
func (r *Repository) CountBalances(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM balances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта балансов: %w", err)
	}
	return n, nil
}

// FindDrifts возвращает балансы, расходящиеся с журналом или сами с собой.
func (r *Repository) FindDrifts(ctx context.Context) ([]Drift, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.user_id, b.balance, b.total_earned, b.total_spent, COALESCE(j.total, 0)
		FROM balances b
		LEFT JOIN (
			SELECT user_id, SUM(credits)::bigint AS total
			FROM transactions
			GROUP BY user_id
		) j ON j.user_id = b.user_id
		WHERE b.balance <> b.total_earned - b.total_spent
		   OR b.balance <> COALESCE(j.total, 0)
		ORDER BY b.user_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска расхождений: %w", err)
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.UserID, &d.Balance, &d.TotalEarned, &d.TotalSpent, &d.JournalSum); err != nil {
			return nil, fmt.Errorf("ошибка чтения расхождения: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}
