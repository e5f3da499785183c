// Package middleware содержит промежуточные обработчики HTTP для логирования,
// восстановления после паники, проверки токенов и rate-limiting.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/metrics"
)

// LogRequest логирует каждый запрос и пишет HTTP-метрики.
// Записывает: метод, маршрут, статус, длительность, request_id.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)

		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		entry := log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"duration":   elapsed.String(),
			"request_id": chimw.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("HTTP-запрос")
		} else {
			entry.Debug("HTTP-запрос")
		}
	})
}

// routePattern возвращает шаблон маршрута chi, чтобы не плодить метки на каждый user_id.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// writeError пишет ответ об ошибке в общем формате API.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
