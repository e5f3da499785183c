// Package reconcile сверяет балансы с журналом транзакций.
package reconcile

// Drift — баланс, который не сходится с журналом.
type Drift struct {
	UserID      string
	Balance     int64
	TotalEarned int64
	TotalSpent  int64
	JournalSum  int64 // SUM(transactions.credits) по пользователю
}

// TripleBroken — нарушено balance == total_earned - total_spent.
func (d Drift) TripleBroken() bool {
	return d.Balance != d.TotalEarned-d.TotalSpent
}

// JournalMismatch — баланс не равен сумме транзакций.
func (d Drift) JournalMismatch() bool {
	return d.Balance != d.JournalSum
}

// Report — итог одного запуска сверки.
type Report struct {
	Checked int
	Drifts  []Drift
}
