package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
)

// writeAuthError translates a service error into a user-safe response.
// Internal detail only goes to the log. retryAfter is advertised on 429s.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, retryAfter time.Duration) {
	var ve *ValidationError
	var pwErr *pkgauth.PasswordValidationError

	switch {
	case errors.As(err, &ve):
		pkghttp.WriteError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.As(err, &pwErr):
		pkghttp.WriteError(w, http.StatusBadRequest, "validation_error", "password "+strings.Join(pwErr.Errors, "; "))
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteError(w, http.StatusBadRequest, "validation_error", "Invalid request")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
	case errors.Is(err, models.ErrLockedOut):
		pkghttp.WriteError(w, http.StatusLocked, "account_locked", "Too many failed attempts. Please try again later.")
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteRetryableError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
			"Too many requests. Please wait before trying again.", int(retryAfter.Seconds()))
	case errors.Is(err, models.ErrCSRFMismatch):
		pkghttp.WriteError(w, http.StatusForbidden, "csrf_mismatch", "Your form has expired, please reload the page")
	case errors.Is(err, models.ErrOTPInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "otp_invalid", "The code is invalid or has expired")
	case errors.Is(err, models.ErrOTPAttemptsExceeded):
		pkghttp.WriteError(w, http.StatusTooManyRequests, "otp_attempts_exceeded", "Too many attempts, please request a new code")
	case errors.Is(err, models.ErrSessionMismatch):
		pkghttp.WriteError(w, http.StatusConflict, "session_mismatch", "This request does not match the login in progress")
	case errors.Is(err, models.ErrNoPendingLogin):
		pkghttp.WriteError(w, http.StatusConflict, "no_pending_login", "Your login has expired, please sign in again")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Your session has expired, please sign in again")
	case errors.Is(err, models.ErrDeliveryFailed):
		logger.WarnContext(r.Context(), "code delivery failed", slog.Any("error", err))
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "delivery_failed", "We could not send your code, please try again")
	case errors.Is(err, models.ErrStoreUnavailable):
		logger.ErrorContext(r.Context(), "store unavailable", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		logger.ErrorContext(r.Context(), "unhandled error", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
