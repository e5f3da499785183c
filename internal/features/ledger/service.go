// Package ledger — service.go содержит движок леджера.
//
// Каждая денежная операция проходит одни и те же шаги:
//  1. проверка operation_id (повтор возвращает сохранённый ответ)
//  2. чтение тарифа и курса вне транзакции
//  3. расчёт кредитов
//  4. одна транзакция БД: блокировка баланса, обновление, запись в журнал
//  5. фиксация
//  6. удаление баланса из кэша
//  7. ответ, построенный из записанной транзакции
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/audit"
	"serotonyl.ru/credit-ledger/internal/metrics"
)

const (
	maxUserIDLength      = 64
	maxOperationIDLength = 128

	// DefaultPageSize и MaxPageSize ограничивают историю транзакций
	DefaultPageSize = 20
	MaxPageSize     = 100

	// actorLedger — кто пишет аудит денежных операций
	actorLedger = "ledger"
)

// Service — движок леджера. Безопасен для параллельного использования:
// операции над одним пользователем упорядочивает блокировка строки баланса в БД.
type Service struct {
	store     Store
	guard     *Guard
	cache     BalanceCache
	rates     RateSource
	auditor   audit.Auditor
	opTimeout time.Duration // Предел на одну операцию (DB_OPERATION_TIMEOUT)
}

// NewService создаёт движок леджера.
//
// Параметры:
//   - store: хранилище балансов и журнала
//   - cache: кэш балансов (cache-aside)
//   - rates: источник base_rate
//   - auditor: журнал аудита
//   - opTimeout: предел времени на одну операцию
func NewService(store Store, cache BalanceCache, rates RateSource, auditor audit.Auditor, opTimeout time.Duration) *Service {
	return &Service{
		store:     store,
		guard:     NewGuard(store),
		cache:     cache,
		rates:     rates,
		auditor:   auditor,
		opTimeout: opTimeout,
	}
}

// GrantSubscription переключает подписку пользователя на новый тариф
// и начисляет credits_to_add кредитов.
//
// Множитель и purchase_rate тарифа сохраняются в метаданных транзакции:
// повтор через месяц вернёт те же значения, даже если тариф изменили.
func (s *Service) GrantSubscription(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	const op = "grant"
	defer observe(op, time.Now())

	if err := validateIDs(req.UserID, req.OperationID); err != nil {
		return nil, s.fail(op, err)
	}
	if strings.TrimSpace(req.TargetTier) == "" {
		return nil, s.fail(op, fmt.Errorf("%w: target_tier", common.ErrInvalidInput))
	}
	if req.CreditsToAdd < 0 {
		return nil, s.fail(op, fmt.Errorf("%w: credits_to_add не может быть отрицательным", common.ErrInvalidInput))
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	// === 1. Идемпотентность ===
	dup, prior, err := s.guard.Check(ctx, req.OperationID, TxTypeSubscription)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if dup {
		s.replayed(op, prior)
		return grantResultFrom(prior), nil
	}

	// === 2. Справочные данные ===
	if err := s.ensureUser(ctx, req.UserID); err != nil {
		return nil, s.fail(op, err)
	}
	plan, err := s.store.GetPlan(ctx, req.TargetTier)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if !plan.Active {
		return nil, s.fail(op, common.ErrPlanNotFound)
	}

	// === 3-5. Атомарный блок ===
	var created *Transaction
	err = s.store.WithinTx(ctx, func(tx StoreTx) error {
		balance, err := tx.LockBalance(ctx, req.UserID)
		if err != nil {
			return err
		}

		previous, err := tx.SwitchSubscription(ctx, req.UserID, plan.Tier)
		if err != nil {
			return err
		}

		before := balance.Balance
		if err := addCredits(balance, req.CreditsToAdd); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}

		var previousTier any
		description := fmt.Sprintf("Подключение тарифа %s", plan.Tier)
		if previous != nil {
			previousTier = *previous
			description = fmt.Sprintf("Смена тарифа %s → %s", *previous, plan.Tier)
		}

		source := SourceSubscription
		t := &Transaction{
			ID:            TransactionID(req.OperationID),
			UserID:        req.UserID,
			Type:          TxTypeSubscription,
			Source:        &source,
			OperationID:   req.OperationID,
			Credits:       req.CreditsToAdd,
			BalanceBefore: before,
			BalanceAfter:  balance.Balance,
			Description:   description,
			Metadata: map[string]any{
				metaPreviousTier: previousTier,
				metaNewTier:      plan.Tier,
				metaMultiplier:   plan.Multiplier.String(),
				metaPurchaseRate: plan.PurchaseRate.String(),
			},
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		created = t
		return nil
	})
	if errors.Is(err, ErrDuplicateOperation) {
		prior, err := s.replayDuplicate(ctx, req.OperationID, TxTypeSubscription)
		if err != nil {
			return nil, s.fail(op, err)
		}
		s.replayed(op, prior)
		return grantResultFrom(prior), nil
	}
	if err != nil {
		return nil, s.fail(op, err)
	}

	// === 6. После фиксации ===
	s.afterCommit(ctx, op, audit.ActionGrant, created)
	return grantResultFrom(created), nil
}

// AddCredits начисляет кредиты за оплату.
// credits_added = round(amount_usd × purchase_rate × base_rate).
// Пользователь должен иметь подписку: purchase_rate берётся из его тарифа.
func (s *Service) AddCredits(ctx context.Context, req AddRequest) (*AddResult, error) {
	const op = "add"
	defer observe(op, time.Now())

	if err := validateIDs(req.UserID, req.OperationID); err != nil {
		return nil, s.fail(op, err)
	}
	if err := validateUSD(req.AmountUSD); err != nil {
		return nil, s.fail(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	// === 1. Идемпотентность ===
	dup, prior, err := s.guard.Check(ctx, req.OperationID, TxTypeAdd)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if dup {
		s.replayed(op, prior)
		return addResultFrom(prior), nil
	}

	// === 2. Справочные данные ===
	if err := s.ensureUser(ctx, req.UserID); err != nil {
		return nil, s.fail(op, err)
	}
	plan, err := s.store.GetSubscriptionPlan(ctx, req.UserID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	baseRate, err := s.rates.BaseRate(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}

	// === 3. Расчёт ===
	credits, err := CreditsFor(req.AmountUSD, plan.PurchaseRate, baseRate)
	if err != nil {
		return nil, s.fail(op, err)
	}

	// === 4-5. Атомарный блок ===
	var created *Transaction
	err = s.store.WithinTx(ctx, func(tx StoreTx) error {
		balance, err := tx.LockBalance(ctx, req.UserID)
		if err != nil {
			return err
		}

		before := balance.Balance
		if err := addCredits(balance, credits); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}

		source := SourcePurchase
		t := &Transaction{
			ID:            TransactionID(req.OperationID),
			UserID:        req.UserID,
			Type:          TxTypeAdd,
			Source:        &source,
			OperationID:   req.OperationID,
			Credits:       credits,
			BalanceBefore: before,
			BalanceAfter:  balance.Balance,
			AmountUSD:     decimal.NewNullDecimal(req.AmountUSD),
			Description:   fmt.Sprintf("Покупка: %s за $%s", common.FormatCredits(credits), req.AmountUSD.String()),
			Metadata: mergeMetadata(req.Metadata, map[string]any{
				metaPurchaseRate: plan.PurchaseRate.String(),
				metaBaseRate:     fmt.Sprint(baseRate),
			}),
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		created = t
		return nil
	})
	if errors.Is(err, ErrDuplicateOperation) {
		prior, err := s.replayDuplicate(ctx, req.OperationID, TxTypeAdd)
		if err != nil {
			return nil, s.fail(op, err)
		}
		s.replayed(op, prior)
		return addResultFrom(prior), nil
	}
	if err != nil {
		return nil, s.fail(op, err)
	}

	// === 6. После фиксации ===
	s.afterCommit(ctx, op, audit.ActionAdd, created)
	return addResultFrom(created), nil
}

// ReplayAddCredits возвращает сохранённый результат покупки с этим
// operation_id, если она уже применена. Транспорт вызывает его до проверки
// оплаты: повтор применённой покупки не зависит от состояния платежа.
// Второе значение false означает, что операции ещё не было.
func (s *Service) ReplayAddCredits(ctx context.Context, operationID string) (*AddResult, bool, error) {
	const op = "add"
	if err := validateOperationID(operationID); err != nil {
		return nil, false, s.fail(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	dup, prior, err := s.guard.Check(ctx, operationID, TxTypeAdd)
	if err != nil {
		return nil, false, s.fail(op, err)
	}
	if !dup {
		return nil, false, nil
	}
	s.replayed(op, prior)
	return addResultFrom(prior), true, nil
}

// ChargeCredits списывает кредиты за использование.
// credits_to_charge = round(cost_usd × multiplier × base_rate).
//
// Нехватка кредитов — не ошибка: возвращается ChargeOutcome.Insufficient,
// баланс и журнал не меняются. Проверка идёт под блокировкой строки баланса,
// поэтому параллельные списания не уведут баланс в минус.
func (s *Service) ChargeCredits(ctx context.Context, req ChargeRequest) (*ChargeOutcome, error) {
	const op = "charge"
	defer observe(op, time.Now())

	if err := validateIDs(req.UserID, req.OperationID); err != nil {
		return nil, s.fail(op, err)
	}
	if err := validateUSD(req.CostUSD); err != nil {
		return nil, s.fail(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	// === 1. Идемпотентность ===
	dup, prior, err := s.guard.Check(ctx, req.OperationID, TxTypeCharge)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if dup {
		s.replayed(op, prior)
		return &ChargeOutcome{Charged: chargeResultFrom(prior)}, nil
	}

	// === 2. Справочные данные ===
	if err := s.ensureUser(ctx, req.UserID); err != nil {
		return nil, s.fail(op, err)
	}
	plan, err := s.store.GetSubscriptionPlan(ctx, req.UserID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	baseRate, err := s.rates.BaseRate(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}

	// === 3. Расчёт ===
	credits, err := CreditsFor(req.CostUSD, plan.Multiplier, baseRate)
	if err != nil {
		return nil, s.fail(op, err)
	}

	// === 4-5. Атомарный блок ===
	var (
		created *Transaction
		short   *InsufficientFunds
	)
	err = s.store.WithinTx(ctx, func(tx StoreTx) error {
		balance, err := tx.LockBalance(ctx, req.UserID)
		if err != nil {
			return err
		}

		// Проверяем баланс до любых изменений
		if balance.Balance < credits {
			short = &InsufficientFunds{
				Required:       credits,
				CurrentBalance: balance.Balance,
				Deficit:        credits - balance.Balance,
			}
			return nil
		}

		before := balance.Balance
		balance.Balance -= credits
		balance.TotalSpent += credits
		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return err
		}

		t := &Transaction{
			ID:            TransactionID(req.OperationID),
			UserID:        req.UserID,
			Type:          TxTypeCharge,
			OperationID:   req.OperationID,
			Credits:       -credits,
			BalanceBefore: before,
			BalanceAfter:  balance.Balance,
			CostUSD:       decimal.NewNullDecimal(req.CostUSD),
			Description:   fmt.Sprintf("Списание: %s за $%s", common.FormatCredits(credits), req.CostUSD.String()),
			Metadata: mergeMetadata(req.Metadata, map[string]any{
				metaMultiplier: plan.Multiplier.String(),
				metaBaseRate:   fmt.Sprint(baseRate),
			}),
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		created = t
		return nil
	})
	if errors.Is(err, ErrDuplicateOperation) {
		prior, err := s.replayDuplicate(ctx, req.OperationID, TxTypeCharge)
		if err != nil {
			return nil, s.fail(op, err)
		}
		s.replayed(op, prior)
		return &ChargeOutcome{Charged: chargeResultFrom(prior)}, nil
	}
	if err != nil {
		return nil, s.fail(op, err)
	}

	if short != nil {
		metrics.LedgerOperations.WithLabelValues(op, "insufficient").Inc()
		log.WithFields(log.Fields{
			"user_id":      req.UserID,
			"operation_id": req.OperationID,
			"required":     short.Required,
			"balance":      short.CurrentBalance,
		}).Info("Недостаточно кредитов для списания")
		return &ChargeOutcome{Insufficient: short}, nil
	}

	// === 6. После фиксации ===
	s.afterCommit(ctx, op, audit.ActionCharge, created)
	return &ChargeOutcome{Charged: chargeResultFrom(created)}, nil
}

// CalculateCharge оценивает списание без изменения баланса.
// Считает тем же CreditsFor и по тем же тарифу и курсу, что и ChargeCredits.
func (s *Service) CalculateCharge(ctx context.Context, userID string, costUSD decimal.Decimal) (*CalculateResult, error) {
	const op = "calculate"
	defer observe(op, time.Now())

	if err := validateUserID(userID); err != nil {
		return nil, s.fail(op, err)
	}
	if err := validateUSD(costUSD); err != nil {
		return nil, s.fail(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, s.fail(op, err)
	}
	plan, err := s.store.GetSubscriptionPlan(ctx, userID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	baseRate, err := s.rates.BaseRate(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}

	balance, gen, ok := s.cache.Get(ctx, userID)
	if !ok {
		if balance, err = s.loadBalance(ctx, userID, gen); err != nil {
			return nil, s.fail(op, err)
		}
	}

	credits, err := CreditsFor(costUSD, plan.Multiplier, baseRate)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return &CalculateResult{
		CreditsToCharge: credits,
		Multiplier:      plan.Multiplier,
		CurrentBalance:  balance.Balance,
		BalanceAfter:    balance.Balance - credits,
		Sufficient:      balance.Balance >= credits,
	}, nil
}

// GetBalance возвращает баланс пользователя.
// Сначала смотрит в кэш; при промахе читает из БД (создавая нулевой
// баланс при первом обращении) и кладёт результат в кэш.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	const op = "balance"
	if err := validateUserID(userID); err != nil {
		return nil, s.fail(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	balance, gen, ok := s.cache.Get(ctx, userID)
	if ok {
		return balance, nil
	}

	// Промах кэша — идём в БД. Нулевой баланс создаём только существующему пользователю.
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, s.fail(op, err)
	}
	balance, err := s.loadBalance(ctx, userID, gen)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return balance, nil
}

// ListTransactions возвращает историю транзакций, новые первыми.
// limit <= 0 означает DefaultPageSize, больше MaxPageSize обрезается.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) (*TransactionPage, error) {
	const op = "history"
	if err := validateUserID(userID); err != nil {
		return nil, s.fail(op, err)
	}
	if offset < 0 {
		return nil, s.fail(op, fmt.Errorf("%w: offset не может быть отрицательным", common.ErrInvalidInput))
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, s.fail(op, err)
	}
	items, total, err := s.store.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if items == nil {
		items = []*Transaction{}
	}
	return &TransactionPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// loadBalance читает баланс из БД и кладёт его в кэш.
// gen — поколение, полученное при промахе до чтения из БД: если запись
// зафиксировалась раньше, чем мы вернулись, кэш отклонит старое значение.
func (s *Service) loadBalance(ctx context.Context, userID string, gen int64) (*Balance, error) {
	balance, err := s.store.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, balance, gen)
	return balance, nil
}

// ensureUser возвращает common.ErrUserNotFound, если пользователя нет.
func (s *Service) ensureUser(ctx context.Context, userID string) error {
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return common.ErrUserNotFound
	}
	return nil
}

// replayDuplicate вызывается, когда вставка проиграла гонку параллельному
// запросу с тем же operation_id. Победитель уже зафиксирован, читаем его запись.
func (s *Service) replayDuplicate(ctx context.Context, operationID string, expected TxType) (*Transaction, error) {
	dup, prior, err := s.guard.Check(ctx, operationID, expected)
	if err != nil {
		return nil, err
	}
	if !dup {
		return nil, fmt.Errorf("operation_id %s занят, но транзакция не найдена", operationID)
	}

	log.WithFields(log.Fields{
		"operation_id": operationID,
		"type":         expected,
	}).Info("Параллельный дубль операции, возвращаем результат первого запроса")
	return prior, nil
}

// afterCommit выполняется после фиксации: сбрасывает кэш, пишет аудит и метрики.
// Операция уже применена, поэтому отмена запроса клиентом здесь не учитывается.
func (s *Service) afterCommit(ctx context.Context, op, action string, tx *Transaction) {
	detached := context.WithoutCancel(ctx)

	s.cache.Invalidate(detached, tx.UserID)

	entry := audit.Entry{
		Actor:       actorLedger,
		Action:      action,
		UserID:      tx.UserID,
		OperationID: tx.OperationID,
		Details: map[string]any{
			"transaction_id": tx.ID,
			"credits":        tx.Credits,
			"balance_before": tx.BalanceBefore,
			"balance_after":  tx.BalanceAfter,
		},
	}
	if err := s.auditor.Record(detached, entry); err != nil {
		log.WithError(err).WithField("operation_id", tx.OperationID).Warn("Не удалось записать аудит операции")
	}

	credits := tx.Credits
	if credits < 0 {
		credits = -credits
	}
	metrics.LedgerOperations.WithLabelValues(op, "applied").Inc()
	metrics.CreditsMoved.WithLabelValues(string(tx.Type)).Add(float64(credits))

	log.WithFields(log.Fields{
		"user_id":        tx.UserID,
		"operation_id":   tx.OperationID,
		"type":           tx.Type,
		"credits":        common.FormatCreditsDelta(tx.Credits),
		"balance_after":  tx.BalanceAfter,
		"transaction_id": tx.ID,
	}).Info("Операция леджера применена")
}

// replayed отмечает возврат сохранённого результата.
func (s *Service) replayed(op string, tx *Transaction) {
	metrics.LedgerOperations.WithLabelValues(op, "replayed").Inc()
	log.WithFields(log.Fields{
		"operation_id":   tx.OperationID,
		"transaction_id": tx.ID,
	}).Debug("Повтор операции, возвращаем сохранённый результат")
}

// fail классифицирует ошибку операции.
// NotFound, Conflict и некорректный ввод возвращаются как есть.
// Всё остальное (таймаут, обрыв соединения, сбой фиксации) оборачивается
// в common.ErrTransientStore: ничего не применено, повтор с тем же operation_id безопасен.
func (s *Service) fail(op string, err error) error {
	switch {
	case errors.Is(err, common.ErrConflict):
		metrics.LedgerOperations.WithLabelValues(op, "conflict").Inc()
		log.WithError(err).Warn("Повторное использование operation_id")
		return err
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrInvalidInput):
		metrics.LedgerOperations.WithLabelValues(op, "rejected").Inc()
		return err
	case errors.Is(err, common.ErrTransientStore):
		metrics.LedgerOperations.WithLabelValues(op, "error").Inc()
		return err
	}

	metrics.LedgerOperations.WithLabelValues(op, "error").Inc()
	log.WithError(err).WithField("operation", op).Error("Сбой хранилища в операции леджера")
	return fmt.Errorf("%w: %s: %w", common.ErrTransientStore, op, err)
}

func observe(op string, start time.Time) {
	metrics.LedgerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || len(userID) > maxUserIDLength {
		return common.ErrInvalidUserID
	}
	return nil
}

func validateOperationID(operationID string) error {
	if strings.TrimSpace(operationID) == "" || len(operationID) > maxOperationIDLength {
		return common.ErrInvalidOperationID
	}
	return nil
}

func validateIDs(userID, operationID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	return validateOperationID(operationID)
}
