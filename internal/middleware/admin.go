package middleware

import (
	"crypto/hmac"
	"net/http"
)

const adminKeyHeader = "X-Admin-Key"

// AdminMiddleware пропускает только запросы с корректным операторским ключом
// в заголовке X-Admin-Key.
type AdminMiddleware struct {
	key []byte
}

// NewAdminMiddleware создаёт middleware с указанным операторским ключом.
// Пустой ключ означает, что административный API выключен.
func NewAdminMiddleware(key string) *AdminMiddleware {
	return &AdminMiddleware{key: []byte(key)}
}

// Middleware проверяет операторский ключ запроса.
func (a *AdminMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.key) == 0 {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		got := r.Header.Get(adminKeyHeader)
		if got == "" || !hmac.Equal([]byte(got), a.key) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
