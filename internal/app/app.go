// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, Redis, репозитории, сервисы,
// HTTP-сервер и планировщик и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/api"
	"serotonyl.ru/credit-ledger/internal/api/middleware"
	"serotonyl.ru/credit-ledger/internal/cache"
	"serotonyl.ru/credit-ledger/internal/config"
	"serotonyl.ru/credit-ledger/internal/db/postgres"
	"serotonyl.ru/credit-ledger/internal/features/audit"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
	"serotonyl.ru/credit-ledger/internal/features/payments"
	"serotonyl.ru/credit-ledger/internal/features/plans"
	"serotonyl.ru/credit-ledger/internal/features/reconcile"
	"serotonyl.ru/credit-ledger/internal/features/sequence"
	"serotonyl.ru/credit-ledger/internal/features/users"
	"serotonyl.ru/credit-ledger/internal/jobs"
	"serotonyl.ru/credit-ledger/internal/notify"
	"serotonyl.ru/credit-ledger/internal/security"
)

// App содержит все компоненты приложения.
type App struct {
	Server    *api.Server
	Scheduler *jobs.Scheduler // nil, если сверка по расписанию выключена
	Reconcile *reconcile.Service
	DB        *pgxpool.Pool
	Redis     *redis.Client
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Запускаем миграции
	if err := postgres.RunMigrations(cfg.MigrateDSN()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Redis ===
	redisClient := cache.NewClient(ctx, cfg)
	balanceCache := cache.NewBalanceCache(redisClient, cfg.CacheTTL, cfg.CacheTimeout)

	// === 3. Алерты ===
	notifier, err := notify.New(cfg)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	// === 4. Репозитории ===
	auditRepo := audit.NewRepository(pool)
	planRepo := plans.NewRepository(pool)
	userRepo := users.NewRepository(pool)
	sequenceRepo := sequence.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool, planRepo)
	reconcileRepo := reconcile.NewRepository(pool)

	// === 5. Сервисы ===
	auditor := audit.NewRecorder(auditRepo, cfg.DBOperationTimeout)
	planService := plans.NewService(planRepo, auditor)
	userService := users.NewService(userRepo, auditor)
	authority := sequence.NewAuthority(sequenceRepo, auditor, cfg.DBOperationTimeout)
	ledgerService := ledger.NewService(ledgerRepo, balanceCache, authority, auditor, cfg.DBOperationTimeout)
	reconcileService := reconcile.NewService(reconcileRepo, balanceCache, notifier)

	// === 6. HTTP ===
	server := api.NewServer(cfg.HTTPAddr, cfg.HTTPRequestTimeout, api.Deps{
		Ledger:      ledgerService,
		Users:       userService,
		Sequence:    authority,
		Plans:       planService,
		Payments:    payments.StaticChecker{},
		DB:          pool,
		ServiceAuth: security.NewTokenVerifier(cfg.ServiceTokenHash),
		AdminAuth:   security.NewTokenVerifier(cfg.AdminTokenHash),
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
	})

	// === 7. Планировщик задач ===
	var scheduler *jobs.Scheduler
	if cfg.ReconcileEnabled {
		scheduler = jobs.NewScheduler(reconcileService, cfg.ReconcileSchedule, cfg.DBOperationTimeout*12)
	} else {
		log.Info("Сверка по расписанию выключена (RECONCILE_ENABLED=false)")
	}

	return &App{
		Server:    server,
		Scheduler: scheduler,
		Reconcile: reconcileService,
		DB:        pool,
		Redis:     redisClient,
	}, nil
}

// Close освобождает соединения с БД и Redis.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия Redis")
	}
	a.DB.Close()
}
