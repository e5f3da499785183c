// Package cache — кэш балансов в Redis (cache-aside).
//
// Кэш только ускоряет чтение. Любая ошибка Redis (таймаут, обрыв соединения,
// битые данные) логируется и считается промахом, наружу она не выходит.
// Леджер никогда не пишет в кэш новое значение после изменения баланса,
// а только удаляет ключ после фиксации транзакции.
//
// Рядом с балансом живёт счётчик поколений user:{id}:balance:gen.
// Invalidate увеличивает его, а Set пишет значение, только если поколение
// не изменилось с момента промаха. Так чтение, начатое до фиксации списания,
// не может вернуть в кэш старый баланс после удаления ключа.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/config"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
	"serotonyl.ru/credit-ledger/internal/metrics"
)

// generationTTL — время жизни счётчика поколений. Должно быть намного
// больше любого чтения из БД, иначе счётчик может обнулиться посреди промаха.
const generationTTL = 24 * time.Hour

// setIfGeneration пишет баланс, только если счётчик поколений равен ARGV[1].
// Отсутствующий счётчик считается нулевым поколением.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// snapshot — то, что лежит в Redis под ключом user:{id}:balance.
type snapshot struct {
	Balance     int64 `json:"balance"`
	TotalEarned int64 `json:"total_earned"`
	TotalSpent  int64 `json:"total_spent"`
}

// BalanceCache реализует ledger.BalanceCache поверх Redis.
type BalanceCache struct {
	client  redis.UniversalClient
	ttl     time.Duration // Время жизни записи
	timeout time.Duration // Предел на один запрос к Redis
}

// NewClient создаёт клиент Redis и проверяет соединение.
// Недоступный Redis не мешает запуску: сервис работает без кэша.
func NewClient(ctx context.Context, cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.CacheTimeout * 5,
		ReadTimeout:  cfg.CacheTimeout,
		WriteTimeout: cfg.CacheTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.CacheTimeout*5)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("Redis недоступен, балансы будут читаться из БД")
	} else {
		log.WithField("addr", cfg.RedisAddr()).Info("Подключение к Redis установлено")
	}
	return client
}

// NewBalanceCache создаёт кэш балансов.
//
// Параметры:
//   - client: клиент Redis
//   - ttl: время жизни записи (CACHE_TTL)
//   - timeout: предел на один запрос (CACHE_TIMEOUT)
func NewBalanceCache(client redis.UniversalClient, ttl, timeout time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl, timeout: timeout}
}

// Key возвращает ключ Redis для баланса пользователя.
func Key(userID string) string {
	return fmt.Sprintf("user:%s:balance", userID)
}

// GenKey возвращает ключ счётчика поколений баланса.
func GenKey(userID string) string {
	return Key(userID) + ":gen"
}

// Get читает баланс из кэша. ok == false означает промах (в том числе при
// любой ошибке Redis). При промахе gen — поколение, которое нужно передать
// в Set; отрицательное значение запрещает запись.
func (c *BalanceCache) Get(ctx context.Context, userID string) (balance *ledger.Balance, gen int64, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vals, err := c.client.MGet(ctx, Key(userID), GenKey(userID)).Result()
	if err != nil {
		c.logError("get", userID, err)
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return nil, -1, false
	}

	if gen, err = parseGeneration(vals[1]); err != nil {
		c.logError("decode", userID, err)
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return nil, -1, false
	}

	raw, found := vals[0].(string)
	if !found {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, gen, false
	}

	var s snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.logError("decode", userID, err)
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return nil, gen, false
	}

	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return &ledger.Balance{
		UserID:      userID,
		Balance:     s.Balance,
		TotalEarned: s.TotalEarned,
		TotalSpent:  s.TotalSpent,
	}, gen, true
}

// Set кладёт баланс в кэш с TTL. Вызывается только при промахе чтения
// с поколением, которое вернул Get. Если за это время был Invalidate,
// запись пропускается.
func (c *BalanceCache) Set(ctx context.Context, b *ledger.Balance, gen int64) {
	if gen < 0 {
		return
	}
	raw, err := json.Marshal(snapshot{Balance: b.Balance, TotalEarned: b.TotalEarned, TotalSpent: b.TotalSpent})
	if err != nil {
		c.logError("encode", b.UserID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	keys := []string{Key(b.UserID), GenKey(b.UserID)}
	written, err := setIfGeneration.Run(ctx, c.client, keys, gen, raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logError("set", b.UserID, err)
		return
	}
	if written == 0 {
		metrics.CacheRequests.WithLabelValues("stale").Inc()
		log.WithField("user_id", b.UserID).Debug("Баланс изменился во время чтения, в кэш не кладём")
	}
}

// Invalidate удаляет баланс из кэша после фиксации изменения и сдвигает
// поколение, чтобы незавершённые промахи не записали старое значение.
// Если Redis недоступен, запись устареет не позже чем через TTL.
func (c *BalanceCache) Invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenKey(userID))
		pipe.Expire(ctx, GenKey(userID), generationTTL)
		pipe.Del(ctx, Key(userID))
		return nil
	})
	if err != nil {
		c.logError("invalidate", userID, err)
	}
}

func parseGeneration(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("неожиданный тип поколения %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

func (c *BalanceCache) logError(op, userID string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	log.WithError(err).WithFields(log.Fields{
		"op":      op,
		"user_id": userID,
	}).Warn("Ошибка кэша балансов")
}
