// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание сверки леджера.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/features/reconcile"
)

// reconciler — то, что планировщику нужно от сверки.
type reconciler interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	reconciler reconciler
	schedule   string
	timeout    time.Duration
}

// NewScheduler создаёт планировщик задач с московским часовым поясом.
//
// Параметры:
//   - reconciler: сервис сверки
//   - schedule: расписание в формате cron (например "@every 1h" или "0 3 * * *")
//   - timeout: предел на один запуск сверки
func NewScheduler(reconciler reconciler, schedule string, timeout time.Duration) *Scheduler {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		log.WithError(err).Warn("Не удалось загрузить Europe/Moscow, используем UTC+3")
		loc = time.FixedZone("MSK", 3*60*60)
	}

	// Следующий запуск не стартует, пока не закончился предыдущий
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		schedule:   schedule,
		timeout:    timeout,
	}
}

// Start регистрирует задачи и запускает планировщик.
// Возвращает ошибку, если расписание не разбирается.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		log.Debug("[CRON] Сверка леджера")
		s.runReconcile(ctx)
	})
	if err != nil {
		return fmt.Errorf("некорректное расписание сверки %q: %w", s.schedule, err)
	}

	s.cron.Start()
	log.WithField("schedule", s.schedule).Info("Планировщик задач запущен (Europe/Moscow)")
	return nil
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.reconciler.Run(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки")
		return
	}
	log.WithFields(log.Fields{
		"checked": report.Checked,
		"drifts":  len(report.Drifts),
	}).Debug("[CRON] Сверка завершена")
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
