// Package sequence — authority.go выдаёт operation_id и управляет курсом.
package sequence

import (
	"context"
	"fmt"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/audit"
	"serotonyl.ru/credit-ledger/internal/metrics"
)

// sourcePattern — допустимое имя источника в operation_id.
var sourcePattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// settingsStore — то, что Authority нужно от ledger_settings.
type settingsStore interface {
	NextSequence(ctx context.Context) (int64, error)
	BaseRate(ctx context.Context) (int64, error)
	SwapBaseRate(ctx context.Context, rate int64) (*RateChange, error)
}

// Authority — единственный источник operation_id и base_rate.
type Authority struct {
	repo      settingsStore
	auditor   audit.Auditor
	opTimeout time.Duration
}

// NewAuthority создаёт Authority.
func NewAuthority(repo settingsStore, auditor audit.Auditor, opTimeout time.Duration) *Authority {
	return &Authority{repo: repo, auditor: auditor, opTimeout: opTimeout}
}

// NextOperationID выдаёт новый operation_id вида op_{source}_{n}.
//
// Параметры:
//   - source: кто запрашивает ID (purchase, usage, ...); [a-z0-9_-], до 32 символов
//
// Пример:
//
//	id, _ := authority.NextOperationID(ctx, "purchase") // "op_purchase_123"
func (a *Authority) NextOperationID(ctx context.Context, source string) (string, error) {
	if !sourcePattern.MatchString(source) {
		return "", common.ErrInvalidSource
	}

	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	n, err := a.repo.NextSequence(ctx)
	if err != nil {
		return "", err
	}

	metrics.OperationIDsIssued.WithLabelValues(source).Inc()
	return fmt.Sprintf("op_%s_%d", source, n), nil
}

// BaseRate возвращает текущий курс кредитов за 1 USD.
func (a *Authority) BaseRate(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	return a.repo.BaseRate(ctx)
}

// MaxBaseRate — верхняя граница курса, та же, что в CHECK таблицы ledger_settings.
const MaxBaseRate int64 = 1_000_000_000

// UpdateBaseRate меняет курс. Уже записанные транзакции не пересчитываются:
// курс на момент операции сохранён в их метаданных.
func (a *Authority) UpdateBaseRate(ctx context.Context, actor string, rate int64) (*RateChange, error) {
	if rate <= 0 || rate > MaxBaseRate {
		return nil, common.ErrInvalidRate
	}

	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	change, err := a.repo.SwapBaseRate(ctx, rate)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"old_rate": change.OldRate,
		"new_rate": change.NewRate,
		"actor":    actor,
	}).Info("Курс кредитов изменён")

	entry := audit.Entry{
		Actor:  actor,
		Action: audit.ActionExchangeRate,
		Details: map[string]any{
			"old_rate": change.OldRate,
			"new_rate": change.NewRate,
		},
	}
	if err := a.auditor.Record(ctx, entry); err != nil {
		log.WithError(err).Warn("Не удалось записать аудит смены курса")
	}
	return change, nil
}
