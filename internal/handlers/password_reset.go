package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	pkghttp "github.com/BradenHooton/registrar/pkg/http"
)

// PasswordResetter issues and redeems password reset codes
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	ConfirmReset(ctx context.Context, email, code, newPassword string) error
}

// PasswordResetHandler handles the forgotten-password endpoints
type PasswordResetHandler struct {
	resets     PasswordResetter
	retryAfter time.Duration
	logger     *slog.Logger
}

func NewPasswordResetHandler(resets PasswordResetter, retryAfter time.Duration, logger *slog.Logger) *PasswordResetHandler {
	return &PasswordResetHandler{resets: resets, retryAfter: retryAfter, logger: logger}
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (r *PasswordResetRequest) bindForm(v url.Values) {
	r.Email = v.Get("email")
}

type PasswordResetConfirmRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Code        string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

func (r *PasswordResetConfirmRequest) bindForm(v url.Values) {
	r.Email = v.Get("email")
	r.Code = v.Get("otp")
	r.NewPassword = v.Get("new_password")
}

type PasswordResetAcceptedResponse struct {
	Message string `json:"message"`
}

// Request mails a reset code. The response is the same whether or not the
// address belongs to an account.
func (h *PasswordResetHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	if err := h.resets.RequestReset(r.Context(), req.Email); err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, PasswordResetAcceptedResponse{
		Message: "If that address belongs to an account, a reset code has been sent",
	})
}

// Confirm redeems a reset code and stores the new password
func (h *PasswordResetHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	if err := h.resets.ConfirmReset(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
