// Package common — errors.go определяет ошибки, которые используются во всех
// модулях сервиса. Эти ошибки позволяют HTTP-слою различать типы проблем
// и отдавать клиенту правильный статус.
package common

import (
	"errors"
	"fmt"
)

// Базовые категории. Конкретные ошибки ниже оборачивают их,
// поэтому errors.Is(err, ErrNotFound) работает для всех "не найдено".
var (
	// ErrNotFound — сущность не найдена (404)
	ErrNotFound = errors.New("не найдено")
	// ErrConflict — operation_id уже использован для другой операции (409)
	ErrConflict = errors.New("конфликт operation_id")
	// ErrInvalidInput — некорректные входные данные (400)
	ErrInvalidInput = errors.New("некорректные данные")
	// ErrTransientStore — БД недоступна или не успела зафиксировать транзакцию.
	// Ничего не применено, повтор с тем же operation_id безопасен (503).
	ErrTransientStore = errors.New("хранилище временно недоступно")
)

// Ошибки леджера
var (
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = fmt.Errorf("%w: пользователь", ErrNotFound)
	// ErrSubscriptionNotFound — у пользователя нет подписки
	ErrSubscriptionNotFound = fmt.Errorf("%w: подписка", ErrNotFound)
	// ErrPlanNotFound — тариф не найден или выключен
	ErrPlanNotFound = fmt.Errorf("%w: тариф", ErrNotFound)
	// ErrTransactionNotFound — транзакции с таким operation_id нет
	ErrTransactionNotFound = fmt.Errorf("%w: транзакция", ErrNotFound)
	// ErrInvalidAmount — сумма должна быть положительной и не точнее 4 знаков
	ErrInvalidAmount = fmt.Errorf("%w: сумма должна быть положительной (не больше 4 знаков после точки)", ErrInvalidInput)
	// ErrInvalidOperationID — пустой или слишком длинный operation_id
	ErrInvalidOperationID = fmt.Errorf("%w: operation_id", ErrInvalidInput)
	// ErrInvalidUserID — пустой или слишком длинный user_id
	ErrInvalidUserID = fmt.Errorf("%w: user_id", ErrInvalidInput)
)

// Ошибки настроек и последовательности operation_id
var (
	// ErrSettingsMissing — нет строки ledger_settings (миграции не применены)
	ErrSettingsMissing = errors.New("настройки леджера не инициализированы")
	// ErrInvalidSource — некорректный источник для operation_id
	ErrInvalidSource = fmt.Errorf("%w: source", ErrInvalidInput)
	// ErrInvalidRate — курс вне диапазона 1..1000000000
	ErrInvalidRate = fmt.Errorf("%w: base_rate должен быть от 1 до 1000000000", ErrInvalidInput)
)

// ConflictError — operation_id уже использован для операции другого типа.
// Это ошибка интеграции у вызывающей стороны, повторять её бессмысленно.
type ConflictError struct {
	OperationID  string
	ExistingType string
	ExpectedType string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("operation_id '%s' уже использован для операции другого типа: %s (ожидали %s)",
		e.OperationID, e.ExistingType, e.ExpectedType)
}

// Is позволяет писать errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
