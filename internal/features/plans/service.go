// Package plans — service.go проверяет и сохраняет тарифы.
// Изменение тарифа не влияет на уже записанные транзакции: леджер
// сохраняет множители в метаданных на момент операции.
package plans

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/audit"
)

// tierPattern — допустимый ключ тарифа.
var tierPattern = regexp.MustCompile(`^[a-z0-9_-]{1,24}$`)

// store — то, что сервису нужно от хранилища тарифов.
type store interface {
	Get(ctx context.Context, tier string) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
	Upsert(ctx context.Context, plan *Plan) (*Plan, error)
}

// Service управляет тарифами.
type Service struct {
	repo    store
	auditor audit.Auditor
}

// NewService создаёт сервис тарифов.
func NewService(repo store, auditor audit.Auditor) *Service {
	return &Service{repo: repo, auditor: auditor}
}

// Get возвращает тариф по ключу.
func (s *Service) Get(ctx context.Context, tier string) (*Plan, error) {
	return s.repo.Get(ctx, tier)
}

// List возвращает все тарифы.
func (s *Service) List(ctx context.Context) ([]*Plan, error) {
	return s.repo.List(ctx)
}

// Upsert проверяет тариф и сохраняет его.
//
// Правила:
//   - tier: латиница в нижнем регистре, цифры, _ и -, до 24 символов
//   - name: непустое, до 24 символов
//   - monthly_cost, fixed_cost: >= 0
//   - credits_included, bonus_credits: >= 0
//   - multiplier: > 0
//   - purchase_rate: >= 1.0
func (s *Service) Upsert(ctx context.Context, actor string, plan *Plan) (*Plan, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}

	saved, err := s.repo.Upsert(ctx, plan)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tier":          saved.Tier,
		"multiplier":    saved.Multiplier.String(),
		"purchase_rate": saved.PurchaseRate.String(),
		"active":        saved.Active,
	}).Info("Тариф сохранён")

	entry := audit.Entry{
		Actor:  actor,
		Action: audit.ActionPlanUpsert,
		Details: map[string]any{
			"tier":          saved.Tier,
			"multiplier":    saved.Multiplier.String(),
			"purchase_rate": saved.PurchaseRate.String(),
			"active":        saved.Active,
		},
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		log.WithError(err).WithField("tier", saved.Tier).Warn("Не удалось записать аудит тарифа")
	}
	return saved, nil
}

// Validate проверяет поля тарифа.
func Validate(plan *Plan) error {
	switch {
	case !tierPattern.MatchString(plan.Tier):
		return fmt.Errorf("%w: tier '%s'", common.ErrInvalidInput, plan.Tier)
	case plan.Name == "" || len([]rune(plan.Name)) > 24:
		return fmt.Errorf("%w: name должно быть от 1 до 24 символов", common.ErrInvalidInput)
	case plan.MonthlyCost.IsNegative() || plan.FixedCost.IsNegative():
		return fmt.Errorf("%w: стоимость не может быть отрицательной", common.ErrInvalidInput)
	case plan.CreditsIncluded < 0 || plan.BonusCredits < 0:
		return fmt.Errorf("%w: кредиты не могут быть отрицательными", common.ErrInvalidInput)
	case !plan.Multiplier.IsPositive():
		return fmt.Errorf("%w: multiplier должен быть > 0", common.ErrInvalidInput)
	case plan.PurchaseRate.LessThan(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: purchase_rate должен быть >= 1.0", common.ErrInvalidInput)
	}
	return nil
}
