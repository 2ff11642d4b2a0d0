package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireSecret gates a handler behind a shared secret carried in a header.
// Telegram sends its webhook secret in X-Telegram-Bot-Api-Secret-Token; the
// cron endpoints use X-Cron-Secret. An empty expected value locks the route.
func RequireSecret(header, expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if expected == "" ||
				subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
