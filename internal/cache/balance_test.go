package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-ledger/internal/features/ledger"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *BalanceCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewBalanceCache(client, 5*time.Minute, 200*time.Millisecond)
}

func TestBalanceCache_SetGet(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	_, gen, ok := c.Get(ctx, "u1")
	assert.False(t, ok, "пустой кэш — промах")
	assert.Equal(t, int64(0), gen)

	c.Set(ctx, &ledger.Balance{UserID: "u1", Balance: 800, TotalEarned: 1000, TotalSpent: 200}, gen)

	raw, err := mr.Get("user:u1:balance")
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":800,"total_earned":1000,"total_spent":200}`, raw)
	assert.Equal(t, 5*time.Minute, mr.TTL("user:u1:balance"))

	b, _, ok := c.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, ledger.Balance{UserID: "u1", Balance: 800, TotalEarned: 1000, TotalSpent: 200}, *b)
}

func TestBalanceCache_Invalidate(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, &ledger.Balance{UserID: "u1", Balance: 1}, 0)
	c.Invalidate(ctx, "u1")

	assert.False(t, mr.Exists("user:u1:balance"))
	gen, err := mr.Get("user:u1:balance:gen")
	require.NoError(t, err)
	assert.Equal(t, "1", gen)
	assert.Equal(t, generationTTL, mr.TTL("user:u1:balance:gen"))

	_, next, ok := c.Get(ctx, "u1")
	assert.False(t, ok)
	assert.Equal(t, int64(1), next)
}

func TestBalanceCache_SetAfterInvalidateIsDropped(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	// Читатель промахнулся и пошёл в БД за балансом 1000.
	_, gen, ok := c.Get(ctx, "u1")
	require.False(t, ok)

	// Тем временем списание зафиксировалось и сбросило кэш.
	c.Invalidate(ctx, "u1")

	// Читатель вернулся со старым значением.
	c.Set(ctx, &ledger.Balance{UserID: "u1", Balance: 1000, TotalEarned: 1000}, gen)
	assert.False(t, mr.Exists("user:u1:balance"), "старое значение не должно попасть в кэш")

	// Следующий промах уже с новым поколением заполняет кэш.
	_, gen, ok = c.Get(ctx, "u1")
	require.False(t, ok)
	c.Set(ctx, &ledger.Balance{UserID: "u1", Balance: 800, TotalEarned: 1000, TotalSpent: 200}, gen)
	b, _, ok := c.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, int64(800), b.Balance)
}

func TestBalanceCache_NegativeGenerationSkipsSet(t *testing.T) {
	mr, c := newTestCache(t)

	c.Set(context.Background(), &ledger.Balance{UserID: "u1", Balance: 5}, -1)
	assert.False(t, mr.Exists("user:u1:balance"))
}

func TestBalanceCache_Expires(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, &ledger.Balance{UserID: "u1", Balance: 5}, 0)
	mr.FastForward(6 * time.Minute)

	_, _, ok := c.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestBalanceCache_CorruptEntryIsMiss(t *testing.T) {
	mr, c := newTestCache(t)
	require.NoError(t, mr.Set("user:u1:balance", "not-json"))

	_, _, ok := c.Get(context.Background(), "u1")
	assert.False(t, ok)
}

func TestBalanceCache_CorruptGenerationForbidsSet(t *testing.T) {
	mr, c := newTestCache(t)
	require.NoError(t, mr.Set("user:u1:balance:gen", "x"))

	_, gen, ok := c.Get(context.Background(), "u1")
	assert.False(t, ok)
	assert.Negative(t, gen)
}

func TestBalanceCache_OutageIsMiss(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	c.Set(ctx, &ledger.Balance{UserID: "u1", Balance: 5}, 0)

	mr.Close()

	_, gen, ok := c.Get(ctx, "u1")
	assert.False(t, ok)
	assert.Negative(t, gen, "при сбое Redis заполнять кэш нельзя")
	// Ошибки записи и удаления не выходят наружу
	c.Set(ctx, &ledger.Balance{UserID: "u1", Balance: 6}, 0)
	c.Invalidate(ctx, "u1")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "user:42:balance", Key("42"))
	assert.Equal(t, "user:42:balance:gen", GenKey("42"))
}
