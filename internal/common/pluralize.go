// Package common — pluralize.go содержит форматирование чисел для текстов.
// Основная логика плюрализации реализована в helpers.go.
package common

import "fmt"

// FormatCreditsDelta создаёт строку вида "+100 кредитов" или "-50 кредитов".
// Знак «+» или «-» добавляется автоматически.
//
// Примеры:
//
//	FormatCreditsDelta(100) → "+100 кредитов"
//	FormatCreditsDelta(-50) → "-50 кредитов"
//	FormatCreditsDelta(1)   → "+1 кредит"
func FormatCreditsDelta(delta int64) string {
	if delta >= 0 {
		return fmt.Sprintf("+%s %s", FormatNumber(delta), PluralizeCredits(delta))
	}
	return fmt.Sprintf("%s %s", FormatNumber(delta), PluralizeCredits(delta))
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s %03d", FormatNumber(n/1000), n%1000)
}
