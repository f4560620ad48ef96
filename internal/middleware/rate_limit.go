package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/services"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds the coarse per-IP limit
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
	}
}

// RateLimitByIP is an in-process per-IP throttle in front of the auth routes.
// Keys on the client address resolved by RequestMeta.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if ip := services.RequestMetaFrom(r.Context()).IPAddress; ip != "" {
				return ip, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRetryableError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
				"Too many requests. Please wait before trying again.", 60)
		}),
	)
}

// ActionLimiter applies a named rate-limit policy. Satisfied by services.RateLimitService.
type ActionLimiter interface {
	Check(ctx context.Context, action, identity string) error
	RetryAfter(action string) time.Duration
}

// RateLimitAction enforces the shared, store-backed bucket for action keyed
// on the client IP. Store failures follow the action's policy inside the limiter.
func RateLimitAction(limiter ActionLimiter, action string, audit Auditor, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := services.RequestMetaFrom(r.Context()).IPAddress

			err := limiter.Check(r.Context(), action, ip)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, models.ErrRateLimited):
				audit.Record(r.Context(), "", models.ActivityRateLimited, models.ActivityTarget{},
					models.ActivityMetadata{"action": action})
				pkghttp.WriteRetryableError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
					"Too many requests. Please wait before trying again.", int(limiter.RetryAfter(action).Seconds()))
			default:
				logger.ErrorContext(r.Context(), "rate limiter unavailable",
					slog.String("action", action),
					slog.Any("error", err))
				pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			}
		})
	}
}
