package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/registrar/internal/handlers"
	"github.com/BradenHooton/registrar/internal/models"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
	"github.com/stretchr/testify/assert"
)

func newResetHandler(mock *mockPasswordResetter) *handlers.PasswordResetHandler {
	return handlers.NewPasswordResetHandler(mock, time.Minute, discardLogger())
}

func TestPasswordResetRequest_AlwaysAccepted(t *testing.T) {
	var got string
	mock := &mockPasswordResetter{
		RequestResetFunc: func(_ context.Context, email string) error {
			got = email
			return nil
		},
	}

	w := httptest.NewRecorder()
	newResetHandler(mock).Request(w, newJSONRequest(t, http.MethodPost, "/auth/password-reset/request",
		handlers.PasswordResetRequest{Email: "nobody@x.com"}, nil))

	var resp handlers.PasswordResetAcceptedResponse
	assertJSONResponse(t, w, http.StatusAccepted, &resp)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "nobody@x.com", got)
}

func TestPasswordResetRequest_InvalidEmail(t *testing.T) {
	w := httptest.NewRecorder()
	newResetHandler(&mockPasswordResetter{}).Request(w, newJSONRequest(t, http.MethodPost, "/auth/password-reset/request",
		handlers.PasswordResetRequest{Email: "not-an-email"}, nil))

	assertErrorResponse(t, w, http.StatusBadRequest, "validation_error")
}

func TestPasswordResetRequest_StoreFailure(t *testing.T) {
	mock := &mockPasswordResetter{
		RequestResetFunc: func(context.Context, string) error {
			return fmt.Errorf("load user: %w", models.ErrStoreUnavailable)
		},
	}

	w := httptest.NewRecorder()
	newResetHandler(mock).Request(w, newJSONRequest(t, http.MethodPost, "/auth/password-reset/request",
		handlers.PasswordResetRequest{Email: "alice@x.com"}, nil))

	assertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")
}

func TestPasswordResetConfirm(t *testing.T) {
	body := handlers.PasswordResetConfirmRequest{Email: "alice@x.com", Code: "123456", NewPassword: "N3w-Passphrase!"}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusNoContent, ""},
		{"weak password", fmt.Errorf("%w: %w", models.ErrValidation, &pkgauth.PasswordValidationError{Errors: []string{"must contain a digit"}}), http.StatusBadRequest, "validation_error"},
		{"bad code", models.ErrOTPInvalid, http.StatusUnauthorized, "otp_invalid"},
		{"too many attempts", models.ErrOTPAttemptsExceeded, http.StatusTooManyRequests, "otp_attempts_exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockPasswordResetter{
				ConfirmResetFunc: func(context.Context, string, string, string) error { return tt.err },
			}

			w := httptest.NewRecorder()
			newResetHandler(mock).Confirm(w, newJSONRequest(t, http.MethodPost, "/auth/password-reset/confirm", body, nil))

			if tt.wantCode == "" {
				assert.Equal(t, tt.wantStatus, w.Code)
				return
			}
			resp := assertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
			if tt.name == "weak password" {
				assert.Contains(t, resp.Message, "must contain a digit")
			}
		})
	}
}
