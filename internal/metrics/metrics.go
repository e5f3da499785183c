// Package metrics содержит Prometheus-метрики сервиса.
// Все метрики регистрируются через promauto при импорте пакета
// и отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "credit_ledger"

// ─── Леджер ─────────────────────────────────────────────────────────────────

// LedgerOperations — операции леджера по типу и исходу
// (applied, replayed, insufficient, conflict, error).
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by type and outcome.",
}, []string{"operation", "outcome"})

// LedgerDuration — длительность операций леджера.
var LedgerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operation_duration_seconds",
	Help:      "Ledger operation latency.",
	Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
}, []string{"operation"})

// CreditsMoved — сумма кредитов, прошедших через леджер, по типу транзакции.
var CreditsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "credits_total",
	Help:      "Credits granted, purchased or charged.",
}, []string{"type"})

// OperationIDsIssued — выданные operation_id по источнику.
var OperationIDsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "sequence",
	Name:      "issued_total",
	Help:      "Operation ids issued by source.",
}, []string{"source"})

// ─── Кэш ────────────────────────────────────────────────────────────────────

// CacheRequests — обращения к кэшу балансов: hit, miss, error, stale (запись отклонена по поколению).
var CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cache",
	Name:      "requests_total",
	Help:      "Balance cache lookups by result.",
}, []string{"result"})

// CacheErrors — ошибки Redis по операции (get, set, invalidate).
var CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cache",
	Name:      "errors_total",
	Help:      "Balance cache errors by operation.",
}, []string{"op"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests — HTTP-запросы по маршруту и статусу.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status.",
}, []string{"method", "route", "status"})

// HTTPDuration — длительность обработки HTTP-запросов.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route"})

// RateLimited — запросы, отклонённые лимитером.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the rate limiter.",
})

// ─── Сверка ─────────────────────────────────────────────────────────────────

// ReconcileDrifts — сколько балансов разошлись с журналом при последней сверке.
var ReconcileDrifts = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "drifted_balances",
	Help:      "Balances that disagreed with the transaction journal on the last run.",
})

// ReconcileRuns — запуски сверки по исходу (ok, drift, error).
var ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "runs_total",
	Help:      "Reconciliation runs by outcome.",
}, []string{"outcome"})
