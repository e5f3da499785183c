// Package api — тонкий HTTP-слой над леджером (go-chi).
// Обработчики только разбирают запрос, вызывают сервис и сериализуют ответ.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/api/middleware"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
	"serotonyl.ru/credit-ledger/internal/features/payments"
	"serotonyl.ru/credit-ledger/internal/features/plans"
	"serotonyl.ru/credit-ledger/internal/features/sequence"
	"serotonyl.ru/credit-ledger/internal/features/users"
)

// Ledger — операции движка леджера.
type Ledger interface {
	GrantSubscription(ctx context.Context, req ledger.GrantRequest) (*ledger.GrantResult, error)
	AddCredits(ctx context.Context, req ledger.AddRequest) (*ledger.AddResult, error)
	ReplayAddCredits(ctx context.Context, operationID string) (*ledger.AddResult, bool, error)
	ChargeCredits(ctx context.Context, req ledger.ChargeRequest) (*ledger.ChargeOutcome, error)
	CalculateCharge(ctx context.Context, userID string, costUSD decimal.Decimal) (*ledger.CalculateResult, error)
	GetBalance(ctx context.Context, userID string) (*ledger.Balance, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) (*ledger.TransactionPage, error)
}

// Users — регистрация пользователей.
type Users interface {
	Create(ctx context.Context, actor, id string) (*users.User, bool, error)
}

// Sequence — выдача operation_id и смена курса.
type Sequence interface {
	NextOperationID(ctx context.Context, source string) (string, error)
	UpdateBaseRate(ctx context.Context, actor string, rate int64) (*sequence.RateChange, error)
}

// Plans — управление тарифами.
type Plans interface {
	List(ctx context.Context) ([]*plans.Plan, error)
	Upsert(ctx context.Context, actor string, plan *plans.Plan) (*plans.Plan, error)
}

// Pinger — проверка доступности БД для /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps — зависимости сервера.
type Deps struct {
	Ledger   Ledger
	Users    Users
	Sequence Sequence
	Plans    Plans
	Payments payments.Checker
	DB       Pinger

	ServiceAuth middleware.Verifier
	AdminAuth   middleware.Verifier
	RateLimiter *middleware.RateLimiter
}

// Server — HTTP API сервиса.
type Server struct {
	deps           Deps
	requestTimeout time.Duration
	srv            *http.Server
}

// NewServer создаёт сервер.
//
// Параметры:
//   - addr: адрес прослушивания (HTTP_ADDR)
//   - requestTimeout: предел на один запрос (HTTP_REQUEST_TIMEOUT)
//   - deps: сервисы и проверки доступа
func NewServer(addr string, requestTimeout time.Duration, deps Deps) *Server {
	s := &Server{deps: deps, requestTimeout: requestTimeout}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler возвращает chi-роутер со всеми маршрутами.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogRequest)
	r.Use(middleware.Recover)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(s.requestTimeout))
		if s.deps.RateLimiter != nil {
			r.Use(s.deps.RateLimiter.Middleware)
		}

		r.Route("/internal", func(r chi.Router) {
			r.Use(middleware.RequireToken(s.deps.ServiceAuth, middleware.HeaderServiceToken, "service"))

			r.Post("/users", s.handleCreateUser)
			r.Get("/users/{id}/balance", s.handleBalance)
			r.Get("/users/{id}/transactions", s.handleTransactions)
			r.Post("/operations/next", s.handleNextOperation)
			r.Post("/subscription/update", s.handleSubscriptionUpdate)
			r.Post("/credits/add", s.handleAddCredits)
			r.Post("/credits/charge", s.handleCharge)
			r.Post("/credits/calculate", s.handleCalculate)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireToken(s.deps.AdminAuth, middleware.HeaderAdminToken, "admin"))

			r.Patch("/exchange-rate", s.handleExchangeRate)
			r.Get("/plans", s.handleListPlans)
			r.Put("/plans/{tier}", s.handleUpsertPlan)
		})
	})

	return r
}

// Start слушает порт. Блокируется до Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.srv.Addr).Info("HTTP-сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается текущих запросов и останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.deps.RateLimiter != nil {
		s.deps.RateLimiter.Close()
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			log.WithError(err).Warn("Health: БД недоступна")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
