package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPluralizeCredits(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "кредитов"},
		{1, "кредит"},
		{2, "кредита"},
		{4, "кредита"},
		{5, "кредитов"},
		{11, "кредитов"},
		{12, "кредитов"},
		{21, "кредит"},
		{22, "кредита"},
		{111, "кредитов"},
		{-1, "кредит"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			assert.Equal(t, tt.want, PluralizeCredits(tt.n))
		})
	}
}

func TestPluralizeUsers(t *testing.T) {
	assert.Equal(t, "пользователь", PluralizeUsers(1))
	assert.Equal(t, "пользователя", PluralizeUsers(3))
	assert.Equal(t, "пользователей", PluralizeUsers(7))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "2 350", FormatNumber(2350))
	assert.Equal(t, "1 000 000", FormatNumber(1000000))
	assert.Equal(t, "-50 000", FormatNumber(-50000))
}

func TestFormatCredits(t *testing.T) {
	assert.Equal(t, "50 000 кредитов", FormatCredits(50000))
	assert.Equal(t, "+1 кредит", FormatCreditsDelta(1))
	assert.Equal(t, "-200 кредитов", FormatCreditsDelta(-200))
}

func TestFormatDateTime(t *testing.T) {
	ts := time.Date(2026, 3, 5, 14, 7, 0, 0, time.FixedZone("MSK", 3*60*60))
	assert.Equal(t, "05.03.2026 11:07 UTC", FormatDateTime(ts))
}

func TestConflictError_Is(t *testing.T) {
	err := fmt.Errorf("grant: %w", &ConflictError{OperationID: "op_1", ExistingType: "CHARGE", ExpectedType: "ADD"})

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))

	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.Equal(t, "CHARGE", conflict.ExistingType)
}

func TestNotFoundFamily(t *testing.T) {
	for _, err := range []error{ErrUserNotFound, ErrSubscriptionNotFound, ErrPlanNotFound, ErrTransactionNotFound} {
		assert.True(t, errors.Is(err, ErrNotFound), err.Error())
	}
	assert.True(t, errors.Is(ErrInvalidAmount, ErrInvalidInput))
}
