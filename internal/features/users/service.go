// Package users — service.go содержит регистрацию пользователей.
package users

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/audit"
)

const maxIDLength = 64

// store — то, что сервису нужно от хранилища пользователей.
type store interface {
	Create(ctx context.Context, id string) (*User, bool, error)
	Get(ctx context.Context, id string) (*User, error)
}

// Service регистрирует пользователей.
type Service struct {
	repo    store
	auditor audit.Auditor
}

// NewService создаёт сервис пользователей.
func NewService(repo store, auditor audit.Auditor) *Service {
	return &Service{repo: repo, auditor: auditor}
}

// Create регистрирует пользователя. Повторная регистрация не ошибка:
// возвращается существующая запись и created = false.
func (s *Service) Create(ctx context.Context, actor, id string) (*User, bool, error) {
	if strings.TrimSpace(id) == "" || len(id) > maxIDLength {
		return nil, false, common.ErrInvalidUserID
	}

	u, created, err := s.repo.Create(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return u, false, nil
	}

	log.WithField("user_id", id).Info("Зарегистрирован новый пользователь")
	if err := s.auditor.Record(ctx, audit.Entry{Actor: actor, Action: audit.ActionUserCreate, UserID: id}); err != nil {
		log.WithError(err).WithField("user_id", id).Warn("Не удалось записать аудит регистрации")
	}
	return u, true, nil
}

// Get возвращает пользователя (common.ErrUserNotFound, если его нет).
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.Get(ctx, id)
}

// Exists сообщает, зарегистрирован ли пользователь.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.repo.Get(ctx, id)
	if errors.Is(err, common.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
