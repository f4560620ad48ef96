package routes

import (
	"log/slog"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/handlers"
	"github.com/BradenHooton/registrar/internal/middleware"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/services"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies are the handlers and guards the route table is built from
type Dependencies struct {
	AuthHandler          *handlers.AuthHandler
	PasswordResetHandler *handlers.PasswordResetHandler
	ActivityHandler      *handlers.ActivityHandler

	SessionStore *auth.SessionStore
	Sessions     auth.SessionToucher
	CSRF         *auth.CSRFGuard
	Limiter      middleware.ActionLimiter
	Audit        middleware.Auditor
	Policies     models.PolicyTable

	IPConfig    *pkghttp.IPConfig
	IPRateLimit middleware.RateLimitConfig
	Logger      *slog.Logger
}

// RegisterRoutes registers all application routes. Throttled routes run the
// per-IP and per-action limiters before the CSRF check, so a rejected token
// still spends the caller's budget.
func RegisterRoutes(router chi.Router, deps Dependencies) {
	ipLimit := middleware.RateLimitByIP(deps.IPRateLimit)
	csrf := middleware.CSRFProtection(deps.CSRF, deps.Audit, deps.Logger)
	throttled := func(action string) chi.Middlewares {
		return chi.Chain(ipLimit, middleware.RateLimitAction(deps.Limiter, action, deps.Audit, deps.Logger), csrf)
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequestMeta(deps.IPConfig))
		r.Use(auth.LoadSession(deps.SessionStore))

		// Anonymous flow
		r.Get("/auth/csrf", deps.AuthHandler.CSRF)
		r.Get("/auth/login", deps.AuthHandler.LoginPage)
		r.With(throttled(services.ActionLogin)...).Post("/auth/login", deps.AuthHandler.Login)
		r.With(throttled(services.ActionVerifyOTP)...).Post("/auth/verify-otp", deps.AuthHandler.VerifyOTP)
		r.With(throttled(services.ActionResendOTP)...).Post("/auth/resend-otp", deps.AuthHandler.ResendOTP)
		r.With(csrf).Post("/auth/clear-pending", deps.AuthHandler.ClearPending)
		r.With(csrf).Post("/auth/logout", deps.AuthHandler.Logout)

		r.With(throttled(services.ActionPasswordReset)...).Post("/auth/password-reset/request", deps.PasswordResetHandler.Request)
		r.With(throttled(services.ActionPasswordReset)...).Post("/auth/password-reset/confirm", deps.PasswordResetHandler.Confirm)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuthenticated(deps.Sessions))
			r.Use(csrf)

			r.With(middleware.RateLimitAction(deps.Limiter, services.ActionSessionStatus, deps.Audit, deps.Logger)).Get("/auth/session", deps.AuthHandler.Session)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireCapability(deps.Policies, models.CapabilityAuditRead))
				r.Get("/admin/activity", deps.ActivityHandler.List)
			})
		})
	})
}
