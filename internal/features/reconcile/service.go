package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/metrics"
	"serotonyl.ru/credit-ledger/internal/notify"
)

// maxAlertLines — сколько расхождений перечислять в одном алерте.
const maxAlertLines = 20

type store interface {
	CountBalances(ctx context.Context) (int, error)
	FindDrifts(ctx context.Context) ([]Drift, error)
}

// invalidator — часть кэша балансов, нужная сверке.
type invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Service запускает сверку.
type Service struct {
	repo     store
	cache    invalidator
	notifier notify.Notifier
	now      func() time.Time
}

// NewService создаёт сервис сверки.
func NewService(repo store, cache invalidator, notifier notify.Notifier) *Service {
	return &Service{repo: repo, cache: cache, notifier: notifier, now: time.Now}
}

// Run выполняет одну сверку.
//
// Каждое расхождение логируется, кэш такого пользователя сбрасывается,
// чтобы чтения шли в БД. При наличии расхождений отправляется один алерт.
// Сверка ничего не исправляет в данных.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	checked, err := s.repo.CountBalances(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	drifts, err := s.repo.FindDrifts(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ReconcileDrifts.Set(float64(len(drifts)))
	report := &Report{Checked: checked, Drifts: drifts}

	if len(drifts) == 0 {
		metrics.ReconcileRuns.WithLabelValues("ok").Inc()
		log.WithField("checked", checked).Info("Сверка: расхождений нет")
		return report, nil
	}

	metrics.ReconcileRuns.WithLabelValues("drift").Inc()
	for _, d := range drifts {
		log.WithFields(log.Fields{
			"user_id":       d.UserID,
			"balance":       d.Balance,
			"total_earned":  d.TotalEarned,
			"total_spent":   d.TotalSpent,
			"journal_sum":   d.JournalSum,
			"triple_broken": d.TripleBroken(),
		}).Error("Сверка: баланс не сходится с журналом")
		s.cache.Invalidate(ctx, d.UserID)
	}

	if err := s.notifier.Notify(ctx, s.alertText(report)); err != nil {
		log.WithError(err).Warn("Сверка: алерт не отправлен")
	}
	return report, nil
}

func (s *Service) alertText(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Сверка леджера %s\n", common.FormatDateTime(s.now()))
	fmt.Fprintf(&b, "Расхождений: %d из %d\n\n", len(r.Drifts), r.Checked)

	for i, d := range r.Drifts {
		if i == maxAlertLines {
			fmt.Fprintf(&b, "… и ещё %d\n", len(r.Drifts)-maxAlertLines)
			break
		}
		fmt.Fprintf(&b, "• %s: баланс %s, по журналу %s",
			d.UserID, common.FormatCredits(d.Balance), common.FormatCredits(d.JournalSum))
		if d.TripleBroken() {
			fmt.Fprintf(&b, " (earned %d, spent %d)", d.TotalEarned, d.TotalSpent)
		}
		b.WriteString("\n")
	}
	return b.String()
}
