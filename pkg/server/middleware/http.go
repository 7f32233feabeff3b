package middleware

import (
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPMiddleware wraps an http.Handler.
type HTTPMiddleware func(http.Handler) http.Handler

// Wrap applies middleware in order.
func Wrap(h http.Handler, middlewares ...HTTPMiddleware) http.Handler {
	chain := chain(middlewares...)
	return chain(h)
}

func chain(middlewares ...HTTPMiddleware) HTTPMiddleware {
	filtered := make([]HTTPMiddleware, 0, len(middlewares))
	for _, mw := range middlewares {
		if mw != nil {
			filtered = append(filtered, mw)
		}
	}
	return func(next http.Handler) http.Handler {
		handler := next
		for i := len(filtered) - 1; i >= 0; i-- {
			handler = filtered[i](handler)
		}
		return handler
	}
}

// APIKeyAuth enforces a shared secret sent via X-API-Key or Bearer token.
func APIKeyAuth(key string) HTTPMiddleware {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	secret := strings.TrimSpace(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if extractAPIKey(r) != secret {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RateLimitOptions configures the shared rate limiter.
type RateLimitOptions struct {
	Requests int
	Window   time.Duration
	Now      func() time.Time
}

// RateLimit enforces a token bucket over all requests.
func RateLimit(opts RateLimitOptions) HTTPMiddleware {
	if opts.Requests <= 0 || opts.Window <= 0 {
		return nil
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limiter := rate.NewLimiter(rate.Every(opts.Window/time.Duration(opts.Requests)), opts.Requests)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.AllowN(now(), 1) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Logging writes one structured line per request and makes logger
// available to handlers through zerolog.Ctx.
func Logging(logger zerolog.Logger) HTTPMiddleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			reqLogger := logger
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				reqLogger = logger.With().Str("request_id", reqID).Logger()
			}

			next.ServeHTTP(ww, r.WithContext(reqLogger.WithContext(r.Context())))

			reqLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http_request")
		})
	}
}

// Recover turns a panic into a 500 response.
func Recover(logger zerolog.Logger) HTTPMiddleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered panic")
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
