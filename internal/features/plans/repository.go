// Package plans — repository.go работает с таблицей subscription_plans.
package plans

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

// Columns — колонки тарифа для SELECT. Таблица должна иметь алиас p,
// чтобы леджер мог использовать их в JOIN с subscriptions.
// Денежные поля читаются как текст, чтобы не терять точность NUMERIC.
const Columns = `p.tier, p.name, p.monthly_cost::text, p.fixed_cost::text,
	p.credits_included, p.bonus_credits, p.multiplier::text, p.purchase_rate::text,
	p.active, p.created_at, p.updated_at`

// Repository работает с тарифами.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий тарифов.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// Get возвращает тариф по ключу. Выключенные тарифы тоже возвращаются.
func (r *Repository) Get(ctx context.Context, tier string) (*Plan, error) {
	query := `SELECT ` + Columns + ` FROM subscription_plans p WHERE p.tier = $1`
	plan, err := ScanPlan(r.db.QueryRow(ctx, query, tier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тарифа: %w", err)
	}
	return plan, nil
}

// List возвращает все тарифы, отсортированные по цене.
func (r *Repository) List(ctx context.Context) ([]*Plan, error) {
	query := `SELECT ` + Columns + ` FROM subscription_plans p ORDER BY p.monthly_cost, p.tier`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тарифов: %w", err)
	}
	defer rows.Close()

	var result []*Plan
	for rows.Next() {
		plan, err := ScanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования тарифа: %w", err)
		}
		result = append(result, plan)
	}
	return result, rows.Err()
}

// Upsert создаёт тариф или обновляет существующий.
// Возвращает сохранённую запись с временем создания и обновления.
func (r *Repository) Upsert(ctx context.Context, plan *Plan) (*Plan, error) {
	query := `
		INSERT INTO subscription_plans AS p
			(tier, name, monthly_cost, fixed_cost, credits_included, bonus_credits, multiplier, purchase_rate, active)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7::numeric, $8::numeric, $9)
		ON CONFLICT (tier) DO UPDATE SET
			name = EXCLUDED.name,
			monthly_cost = EXCLUDED.monthly_cost,
			fixed_cost = EXCLUDED.fixed_cost,
			credits_included = EXCLUDED.credits_included,
			bonus_credits = EXCLUDED.bonus_credits,
			multiplier = EXCLUDED.multiplier,
			purchase_rate = EXCLUDED.purchase_rate,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING ` + Columns
	saved, err := ScanPlan(r.db.QueryRow(ctx, query,
		plan.Tier, plan.Name, plan.MonthlyCost.String(), plan.FixedCost.String(),
		plan.CreditsIncluded, plan.BonusCredits, plan.Multiplier.String(), plan.PurchaseRate.String(),
		plan.Active,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения тарифа: %w", err)
	}
	return saved, nil
}

// ScanPlan читает тариф из строки результата в порядке Columns.
func ScanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	var monthly, fixed, multiplier, purchase string
	err := row.Scan(
		&p.Tier, &p.Name, &monthly, &fixed,
		&p.CreditsIncluded, &p.BonusCredits, &multiplier, &purchase,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.MonthlyCost, monthly},
		{&p.FixedCost, fixed},
		{&p.Multiplier, multiplier},
		{&p.PurchaseRate, purchase},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("некорректное число в тарифе %s: %w", p.Tier, err)
		}
	}
	return &p, nil
}
