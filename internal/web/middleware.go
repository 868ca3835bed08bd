package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
)

// BasicAuth guards routes with HTTP basic auth against web.username and the
// bcrypt web.password_hash. Without credentials configured, requests pass through.
func BasicAuth(cfgMgr *config.Manager, limiter *AuthRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wc := cfgMgr.Get().Web
			if !wc.AuthEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if limiter.IsLocked(ip) {
				http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}
			if username != wc.Username {
				limiter.RecordFailure(ip)
				slog.Warn("basic auth failed: wrong username", "ip", ip)
				unauthorized(w)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(wc.PasswordHash), []byte(password)); err != nil {
				limiter.RecordFailure(ip)
				slog.Warn("basic auth failed: wrong password", "ip", ip)
				unauthorized(w)
				return
			}

			limiter.ClearIP(ip)
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="healthcheck", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequestLogger logs each request at debug level.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
