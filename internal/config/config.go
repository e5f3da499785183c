// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// а .env (если есть) предварительно подгружается через godotenv.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"ledger"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"credit_ledger"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	// Верхняя граница на одну денежную операцию целиком (чтение + атомарная запись)
	DBOperationTimeout time.Duration `envconfig:"DB_OPERATION_TIMEOUT" default:"5s"`

	// --- Redis (кеш балансов) ---
	RedisHost     string        `envconfig:"REDIS_HOST" default:"redis"`
	RedisPort     int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	// Таймаут одного обращения к кешу. Истёк — считаем промахом.
	CacheTimeout time.Duration `envconfig:"CACHE_TIMEOUT" default:"200ms"`

	// --- HTTP ---
	HTTPAddr           string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPRequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	// Argon2id-хеши токенов (генерируются командой `ledger hash-token`)
	ServiceTokenHash string `envconfig:"SERVICE_TOKEN_HASH" required:"true"`
	AdminTokenHash   string `envconfig:"ADMIN_TOKEN_HASH" required:"true"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Reconcile ---
	ReconcileEnabled  bool   `envconfig:"RECONCILE_ENABLED" default:"true"`
	ReconcileSchedule string `envconfig:"RECONCILE_SCHEDULE" default:"@every 1h"`

	// --- Alerts (необязательно) ---
	// Пустой токен = алерты только в лог.
	AlertTelegramToken  string `envconfig:"ALERT_TELEGRAM_TOKEN" default:""`
	AlertTelegramChatID int64  `envconfig:"ALERT_TELEGRAM_CHAT_ID" default:"0"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// MigrateDSN — тот же DSN, но со схемой драйвера pgx5 для golang-migrate.
func (c *Config) MigrateDSN() string {
	return "pgx5" + strings.TrimPrefix(c.DatabaseDSN(), "postgres")
}

// RedisAddr возвращает адрес Redis в формате host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// AlertsEnabled — настроен ли Telegram-канал для алертов.
func (c *Config) AlertsEnabled() bool {
	return c.AlertTelegramToken != "" && c.AlertTelegramChatID != 0
}

// Validate проверяет значения, которые envconfig проверить не может.
func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.DBOperationTimeout <= 0 {
		return fmt.Errorf("DB_OPERATION_TIMEOUT должен быть > 0")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL должен быть > 0")
	}
	if c.CacheTimeout <= 0 {
		return fmt.Errorf("CACHE_TIMEOUT должен быть > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS и RATE_LIMIT_WINDOW должны быть > 0")
	}
	if c.ReconcileEnabled && strings.TrimSpace(c.ReconcileSchedule) == "" {
		return fmt.Errorf("RECONCILE_SCHEDULE не задан")
	}
	if (c.AlertTelegramToken == "") != (c.AlertTelegramChatID == 0) {
		return fmt.Errorf("ALERT_TELEGRAM_TOKEN и ALERT_TELEGRAM_CHAT_ID задаются только вместе")
	}
	return nil
}

// Load читает .env (если найден) и переменные окружения, заполняет структуру Config.
// Уже выставленные переменные окружения имеют приоритет над .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
