package middleware

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Заголовки с токенами доступа.
const (
	HeaderServiceToken = "X-Service-Token"
	HeaderAdminToken   = "X-Admin-Token"
)

type actorKey struct{}

// Verifier проверяет токен доступа (см. security.TokenVerifier).
type Verifier interface {
	Verify(token string) bool
}

// RequireToken пропускает запрос, только если заголовок header содержит
// токен, принятый verifier. В контекст кладётся actor для аудита.
func RequireToken(verifier Verifier, header, actor string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(header)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "нет токена "+header)
				return
			}
			if !verifier.Verify(token) {
				log.WithFields(log.Fields{"header": header, "client": clientIP(r)}).Warn("Неверный токен")
				writeError(w, http.StatusForbidden, "неверный токен")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor кладёт actor в контекст.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor возвращает actor из контекста или "unknown".
func Actor(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return "unknown"
}
