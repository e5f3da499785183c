package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier string

func (s staticVerifier) Verify(token string) bool { return token == string(s) }

func okHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(Actor(r.Context())))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "лимит считается по ключу")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()
	h := rl.Middleware(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"error":"слишком много запросов"}`, rec.Body.String())
}

func TestRequireToken(t *testing.T) {
	h := RequireToken(staticVerifier("secret"), HeaderServiceToken, "service")(http.HandlerFunc(okHandler))

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"нет токена", "", http.StatusUnauthorized},
		{"неверный токен", "nope", http.StatusForbidden},
		{"верный токен", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set(HeaderServiceToken, tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "service", rec.Body.String())
			}
		})
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil)) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLogRequest_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(LogRequest)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/{id}", routePattern(r))
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/42", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestActor_Default(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "unknown", Actor(req.Context()))
}
