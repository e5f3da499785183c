package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/plans"
)

func strPtr(s string) *string { return &s }

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewRepository(mock, plans.NewRepository(mock))
}

var txCols = []string{
	"id", "user_id", "type", "source", "operation_id", "credits",
	"balance_before", "balance_after", "cost_usd", "amount_usd",
	"description", "metadata", "created_at",
}

func TestRepository_GetTransactionByOperationID(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`FROM transactions WHERE operation_id = \$1`).
		WithArgs("op_1").
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(
			"txn_1", "u1", "ADD", strPtr("PURCHASE"), "op_1", int64(50000),
			int64(0), int64(50000), (*string)(nil), strPtr("5.0000"),
			"Покупка", []byte(`{"purchase_rate":"1","base_rate":"10000"}`), now,
		))

	tx, err := repo.GetTransactionByOperationID(context.Background(), "op_1")
	require.NoError(t, err)
	assert.Equal(t, TxTypeAdd, tx.Type)
	require.NotNil(t, tx.Source)
	assert.Equal(t, SourcePurchase, *tx.Source)
	assert.False(t, tx.CostUSD.Valid)
	require.True(t, tx.AmountUSD.Valid)
	assert.True(t, tx.AmountUSD.Decimal.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "1", tx.Metadata["purchase_rate"])

	res := addResultFrom(tx)
	assert.Equal(t, int64(50000), res.CreditsAdded)
	assert.Equal(t, `"5"`, mustJSON(t, res.AmountUSD))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetTransactionByOperationID_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`FROM transactions WHERE operation_id = \$1`).
		WithArgs("op_missing").
		WillReturnRows(pgxmock.NewRows(txCols))

	_, err := repo.GetTransactionByOperationID(context.Background(), "op_missing")
	assert.ErrorIs(t, err, common.ErrTransactionNotFound)
}

func TestRepository_GetSubscriptionPlan_NoSubscription(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`FROM subscriptions s`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"tier"}))

	_, err := repo.GetSubscriptionPlan(context.Background(), "u1")
	assert.ErrorIs(t, err, common.ErrSubscriptionNotFound)
}

func TestRepository_ChargeInsideTransaction(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO balances`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FROM balances WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "balance", "total_earned", "total_spent", "created_at", "updated_at"}).
			AddRow("u1", int64(1000), int64(1000), int64(0), now, now))
	mock.ExpectExec(`UPDATE balances`).
		WithArgs("u1", int64(800), int64(1000), int64(200)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO transactions`).
		WithArgs(TransactionID("op_c"), "u1", "CHARGE", (*string)(nil), "op_c", int64(-200),
			int64(1000), int64(800), strPtr("0.01"), (*string)(nil), "Списание", `{"multiplier":"2"}`).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(tx StoreTx) error {
		b, err := tx.LockBalance(context.Background(), "u1")
		if err != nil {
			return err
		}
		b.Balance -= 200
		b.TotalSpent += 200
		if err := tx.UpdateBalance(context.Background(), b); err != nil {
			return err
		}
		return tx.InsertTransaction(context.Background(), &Transaction{
			ID: TransactionID("op_c"), UserID: "u1", Type: TxTypeCharge, OperationID: "op_c",
			Credits: -200, BalanceBefore: 1000, BalanceAfter: 800,
			CostUSD: decimal.NewNullDecimal(usd("0.01")), Description: "Списание",
			Metadata: map[string]any{"multiplier": "2"},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_InsertDuplicateRollsBack(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO balances`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FROM balances WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "balance", "total_earned", "total_spent", "created_at", "updated_at"}).
			AddRow("u1", int64(0), int64(0), int64(0), now, now))
	mock.ExpectExec(`UPDATE balances`).
		WithArgs("u1", int64(1000), int64(1000), int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO transactions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "transactions_operation_id_key"})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(tx StoreTx) error {
		b, err := tx.LockBalance(context.Background(), "u1")
		if err != nil {
			return err
		}
		b.Balance += 1000
		b.TotalEarned += 1000
		if err := tx.UpdateBalance(context.Background(), b); err != nil {
			return err
		}
		return tx.InsertTransaction(context.Background(), &Transaction{
			ID: TransactionID("op_d"), UserID: "u1", Type: TxTypeAdd, OperationID: "op_d",
			Credits: 1000, BalanceBefore: 0, BalanceAfter: 1000,
		})
	})
	assert.ErrorIs(t, err, ErrDuplicateOperation)
	assert.NoError(t, mock.ExpectationsWereMet(), "баланс не фиксируется без записи в журнале")
}

func TestRepository_SwitchSubscription(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT plan_id FROM subscriptions`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"plan_id"}))
	mock.ExpectExec(`INSERT INTO subscriptions`).
		WithArgs("u1", "free").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT plan_id FROM subscriptions`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"plan_id"}).AddRow("free"))
	mock.ExpectExec(`UPDATE subscriptions`).
		WithArgs("u1", "pro").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	var first, second *string
	err := repo.WithinTx(context.Background(), func(tx StoreTx) error {
		var err error
		if first, err = tx.SwitchSubscription(context.Background(), "u1", "free"); err != nil {
			return err
		}
		second, err = tx.SwitchSubscription(context.Background(), "u1", "pro")
		return err
	})
	require.NoError(t, err)
	assert.Nil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "free", *second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
