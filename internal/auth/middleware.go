package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/registrar/internal/models"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
)

// SessionToucher validates an authenticated context and slides its inactivity window
type SessionToucher interface {
	Touch(ctx context.Context, sc *models.SessionContext) error
}

// RequireAuthenticated admits only requests whose SessionContext completed the
// full login. Every admitted request counts as activity. An idle session is
// logged out by the toucher before the handler runs.
func RequireAuthenticated(sessions SessionToucher) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := SessionFromContext(r.Context())
			if sc == nil || !sc.IsAuthenticated() {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			if err := sessions.Touch(r.Context(), sc); err != nil {
				switch {
				case errors.Is(err, models.ErrSessionExpired):
					pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Your session has expired, please sign in again")
				case errors.Is(err, models.ErrStoreUnavailable):
					pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
				default:
					pkghttp.WriteUnauthorized(w, "authentication required")
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireCapability checks the authenticated role against the policy table.
// Must run after RequireAuthenticated.
func RequireCapability(policies models.PolicyTable, capability string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := SessionFromContext(r.Context())
			if sc == nil || !sc.IsAuthenticated() {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			if !policies.HasCapability(sc.RoleID, capability) {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
