// Package audit — recorder.go принимает записи от сервисов.
package audit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// inserter — хранилище журнала.
type inserter interface {
	Insert(ctx context.Context, entry *Entry) error
}

// Recorder записывает действия в audit_log и дублирует их в лог.
type Recorder struct {
	repo    inserter
	timeout time.Duration
}

// NewRecorder создаёт журнал аудита.
// timeout ограничивает одну запись, чтобы аудит не держал запрос.
func NewRecorder(repo inserter, timeout time.Duration) *Recorder {
	return &Recorder{repo: repo, timeout: timeout}
}

// Record добавляет запись в журнал.
// Вызывается после фиксации операции, поэтому работает на контексте
// без отмены: клиент, оборвавший запрос, не должен терять запись аудита.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.repo.Insert(ctx, &entry); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"audit_id":     entry.ID,
		"actor":        entry.Actor,
		"action":       entry.Action,
		"user_id":      entry.UserID,
		"operation_id": entry.OperationID,
	}).Info("Аудит")
	return nil
}
