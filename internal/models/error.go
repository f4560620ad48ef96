package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication core errors. Callers branch on these with errors.Is; the
// HTTP boundary translates each into a user-safe message.
var (
	ErrValidation          = errors.New("malformed input")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrLockedOut           = errors.New("identity is temporarily locked out")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrCSRFMismatch        = errors.New("csrf token mismatch")
	ErrOTPInvalid          = errors.New("one-time code is invalid or expired")
	ErrOTPAttemptsExceeded = errors.New("one-time code attempts exceeded")
	ErrSessionExpired      = errors.New("session expired")
	ErrSessionMismatch     = errors.New("request does not match pending login")
	ErrNoPendingLogin      = errors.New("no pending login")
	ErrStoreUnavailable    = errors.New("persistent store unavailable")
	ErrDeliveryFailed      = errors.New("notification delivery failed")

	// ErrOTPExpired is never returned to callers; expiry is reported as
	// ErrOTPInvalid so the response does not reveal which check failed.
	ErrOTPExpired = ErrOTPInvalid
)
