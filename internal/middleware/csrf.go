package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/models"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
)

const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// Auditor records security events. Satisfied by services.AuditService.
type Auditor interface {
	Record(ctx context.Context, actorID, action string, target models.ActivityTarget, metadata models.ActivityMetadata)
}

// CSRFProtection rejects state-changing requests whose token does not match
// the one stored on the SessionContext. The check runs before the handler, so
// a rejected request has no side effects. Must run after auth.LoadSession.
func CSRFProtection(guard *auth.CSRFGuard, audit Auditor, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sc := auth.SessionFromContext(r.Context())
			if guard.Verify(sc, csrfTokenFromRequest(r)) {
				next.ServeHTTP(w, r)
				return
			}

			actorID := ""
			if sc != nil {
				actorID = sc.UserID
			}
			logger.WarnContext(r.Context(), "csrf token rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))
			audit.Record(r.Context(), actorID, models.ActivityCSRFMismatch, models.ActivityTarget{},
				models.ActivityMetadata{"path": r.URL.Path})

			pkghttp.WriteError(w, http.StatusForbidden, "csrf_mismatch", "Your form has expired, please reload the page")
		})
	}
}

// csrfTokenFromRequest reads the header first, then the form field
func csrfTokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(CSRFHeader); token != "" {
		return token
	}
	return r.PostFormValue(CSRFFormField)
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
