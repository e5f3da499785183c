package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-ledger/internal/common"
)

func TestCreditsFor(t *testing.T) {
	tests := []struct {
		usd, factor string
		rate        int64
		want        int64
	}{
		{"5.00", "1.0", 10000, 50000},
		{"0.01", "2.0", 10000, 200},
		{"0.01", "1.5", 10000, 150},
		{"0.0001", "0.5", 10000, 1},  // 0.5 → 1
		{"0.0003", "1.5", 10000, 5},  // 4.5 → 5
		{"0.0001", "0.25", 10000, 0}, // 0.25 → 0
		{"1.2345", "1.25", 10000, 15431},
		{"2.50", "1.25", 12000, 37500},
	}

	for _, tt := range tests {
		t.Run(tt.usd+"x"+tt.factor, func(t *testing.T) {
			got, err := CreditsFor(usd(tt.usd), usd(tt.factor), tt.rate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreditsFor_Overflow(t *testing.T) {
	// 9999999999.9999 × 1000 × 10^9 далеко за пределами int64
	_, err := CreditsFor(usd("9999999999.9999"), usd("1000"), 1_000_000_000)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = CreditsFor(usd("1"), usd("1"), math.MaxInt64)
	assert.NoError(t, err, "ровно MaxInt64 ещё помещается")

	_, err = CreditsFor(usd("1.0001"), usd("1"), math.MaxInt64)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestAddCreditsToBalance_Overflow(t *testing.T) {
	b := &Balance{Balance: math.MaxInt64 - 10, TotalEarned: math.MaxInt64 - 10}
	assert.ErrorIs(t, addCredits(b, 11), common.ErrInvalidAmount)
	assert.Equal(t, int64(math.MaxInt64-10), b.Balance, "баланс не изменился")

	require.NoError(t, addCredits(b, 10))
	assert.Equal(t, int64(math.MaxInt64), b.Balance)
}

func TestValidateUSD(t *testing.T) {
	valid := []string{"0.0001", "1", "5.00", "9999999999.9999"}
	for _, v := range valid {
		assert.NoError(t, validateUSD(usd(v)), v)
	}

	invalid := []string{"0", "-0.01", "0.00001", "1.23456", "10000000000"}
	for _, v := range invalid {
		assert.ErrorIs(t, validateUSD(usd(v)), common.ErrInvalidAmount, v)
	}
}

func TestTransactionID_Deterministic(t *testing.T) {
	a := TransactionID("op_purchase_123")
	assert.Equal(t, a, TransactionID("op_purchase_123"))
	assert.NotEqual(t, a, TransactionID("op_purchase_124"))
	assert.Regexp(t, `^txn_[0-9a-f-]{36}$`, a)
}
