// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование чисел и времени для алертов.
package common

import (
	"fmt"
	"time"
)

// pluralize выбирает форму слова для числа n по правилам русского языка.
//
// Правила:
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
func pluralize(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeCredits возвращает правильную форму слова «кредит» для числа n.
//
// Примеры:
//
//	PluralizeCredits(1)  → "кредит"
//	PluralizeCredits(3)  → "кредита"
//	PluralizeCredits(11) → "кредитов"
func PluralizeCredits(n int64) string {
	return pluralize(n, "кредит", "кредита", "кредитов")
}

// PluralizeUsers возвращает правильную форму слова «пользователь».
func PluralizeUsers(n int) string {
	return pluralize(int64(n), "пользователь", "пользователя", "пользователей")
}

// FormatCredits форматирует сумму кредитов в читабельную строку.
// Пример: FormatCredits(50000) → "50 000 кредитов"
func FormatCredits(credits int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(credits), PluralizeCredits(credits))
}

// FormatDateTime форматирует время в UTC как "02.01.2006 15:04".
// Используется в текстах алертов.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("02.01.2006 15:04") + " UTC"
}
