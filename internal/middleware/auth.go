package middleware

import (
	"crypto/subtle"
	"net/http"
)

// TokenHeader carries the preview token when it is not in the query string.
const TokenHeader = "X-Preview-Token"

// AuthMiddleware requires the preview token on every request except the
// health check. An empty token disables the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		got := r.URL.Query().Get("token")
		if got == "" {
			got = r.Header.Get(TokenHeader)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
