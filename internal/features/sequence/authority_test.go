package sequence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/audit"
)

// counterStore — атомарный счётчик в памяти.
type counterStore struct {
	mu   sync.Mutex
	next int64
	rate int64
	err  error
}

func (c *counterStore) NextSequence(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	n := c.next
	c.next++
	return n, nil
}

func (c *counterStore) BaseRate(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate, c.err
}

func (c *counterStore) SwapBaseRate(_ context.Context, rate int64) (*RateChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.rate
	c.rate = rate
	return &RateChange{OldRate: old, NewRate: rate, UpdatedAt: time.Now()}, nil
}

type recordingAuditor struct {
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func TestNextOperationID_Format(t *testing.T) {
	a := NewAuthority(&counterStore{next: 123}, &recordingAuditor{}, time.Second)

	id, err := a.NextOperationID(context.Background(), "purchase")
	require.NoError(t, err)
	assert.Equal(t, "op_purchase_123", id)

	id, err = a.NextOperationID(context.Background(), "usage")
	require.NoError(t, err)
	assert.Equal(t, "op_usage_124", id)
}

func TestNextOperationID_InvalidSource(t *testing.T) {
	a := NewAuthority(&counterStore{}, &recordingAuditor{}, time.Second)

	for _, src := range []string{"", "Purchase", "has space", "op/../x", "abcdefghijklmnopqrstuvwxyz0123456789"} {
		_, err := a.NextOperationID(context.Background(), src)
		assert.ErrorIs(t, err, common.ErrInvalidSource, src)
	}
}

func TestNextOperationID_ConcurrentUnique(t *testing.T) {
	a := NewAuthority(&counterStore{next: 1}, &recordingAuditor{}, time.Second)

	const workers = 50
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.NextOperationID(context.Background(), "purchase")
			if assert.NoError(t, err) {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "повтор %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
}

func TestNextOperationID_StoreError(t *testing.T) {
	a := NewAuthority(&counterStore{err: common.ErrSettingsMissing}, &recordingAuditor{}, time.Second)
	_, err := a.NextOperationID(context.Background(), "purchase")
	assert.ErrorIs(t, err, common.ErrSettingsMissing)
}

func TestUpdateBaseRate(t *testing.T) {
	auditor := &recordingAuditor{}
	a := NewAuthority(&counterStore{rate: 10000}, auditor, time.Second)

	change, err := a.UpdateBaseRate(context.Background(), "admin", 12000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), change.OldRate)
	assert.Equal(t, int64(12000), change.NewRate)

	rate, err := a.BaseRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12000), rate)

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionExchangeRate, auditor.entries[0].Action)

	_, err = a.UpdateBaseRate(context.Background(), "admin", 0)
	assert.ErrorIs(t, err, common.ErrInvalidRate)
}

func TestUpdateBaseRate_Bounds(t *testing.T) {
	auditor := &recordingAuditor{}
	a := NewAuthority(&counterStore{rate: 10000}, auditor, time.Second)

	for _, rate := range []int64{-1, MaxBaseRate + 1, math.MaxInt64} {
		_, err := a.UpdateBaseRate(context.Background(), "admin", rate)
		assert.ErrorIs(t, err, common.ErrInvalidRate, rate)
	}
	assert.Empty(t, auditor.entries, "отклонённый курс не пишется в аудит")

	change, err := a.UpdateBaseRate(context.Background(), "admin", MaxBaseRate)
	require.NoError(t, err)
	assert.Equal(t, MaxBaseRate, change.NewRate)
}

func TestRepository_NextSequence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`UPDATE ledger_settings\s+SET current_operation_id = current_operation_id \+ 1`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(123)))

	n, err := NewRepository(mock).NextSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MissingSettingsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`UPDATE ledger_settings`).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT base_rate FROM ledger_settings`).WillReturnRows(pgxmock.NewRows([]string{"base_rate"}))

	repo := NewRepository(mock)
	_, err = repo.NextSequence(context.Background())
	assert.ErrorIs(t, err, common.ErrSettingsMissing)

	_, err = repo.BaseRate(context.Background())
	assert.ErrorIs(t, err, common.ErrSettingsMissing)
}

func TestRepository_SwapBaseRate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`UPDATE ledger_settings s`).
		WithArgs(int64(15000)).
		WillReturnRows(pgxmock.NewRows([]string{"old", "new", "updated_at"}).AddRow(int64(10000), int64(15000), now))

	change, err := NewRepository(mock).SwapBaseRate(context.Background(), 15000)
	require.NoError(t, err)
	assert.Equal(t, RateChange{OldRate: 10000, NewRate: 15000, UpdatedAt: now}, *change)

	mock.ExpectQuery(`UPDATE ledger_settings s`).WithArgs(int64(1)).WillReturnError(errors.New("conn closed"))
	_, err = NewRepository(mock).SwapBaseRate(context.Background(), 1)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrSettingsMissing), fmt.Sprint(err))
}
