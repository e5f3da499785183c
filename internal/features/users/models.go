// Package users регистрирует пользователей леджера.
// models.go описывает запись таблицы users.
package users

import "time"

// User — владелец баланса. ID выдаёт внешняя система (строка до 64 символов).
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}
