package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/services"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
)

// LoginCoordinator drives the two-step login for one browser session
type LoginCoordinator interface {
	SubmitLogin(ctx context.Context, sc *models.SessionContext, req services.LoginRequest) (*services.PendingResult, error)
	SubmitOTP(ctx context.Context, sc *models.SessionContext, req services.VerifyOTPRequest) (*services.LoginResult, error)
	ResendOTP(ctx context.Context, sc *models.SessionContext, email string) (*services.PendingResult, error)
	ClearPending(ctx context.Context, sc *models.SessionContext)
	ObservePage(ctx context.Context, sc *models.SessionContext, keepPending bool) services.PageState
	Logout(ctx context.Context, sc *models.SessionContext)
}

// AuthHandler handles the login, second-factor and logout endpoints
type AuthHandler struct {
	login      LoginCoordinator
	csrf       *auth.CSRFGuard
	policies   models.PolicyTable
	retryAfter time.Duration
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. retryAfter is advertised when a
// code is requested inside the resend cooldown.
func NewAuthHandler(login LoginCoordinator, csrf *auth.CSRFGuard, policies models.PolicyTable, retryAfter time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		login:      login,
		csrf:       csrf,
		policies:   policies,
		retryAfter: retryAfter,
		logger:     logger,
	}
}

// Request DTOs

// LoginRequest represents the credentials step
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required,max=128"`
}

func (r *LoginRequest) bindForm(v url.Values) {
	r.Username = v.Get("username")
	r.Password = v.Get("password")
}

// VerifyOTPRequest represents the code step
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"otp" validate:"required,len=6,numeric"`
}

func (r *VerifyOTPRequest) bindForm(v url.Values) {
	r.Email = v.Get("email")
	r.Code = v.Get("otp")
}

// ResendOTPRequest may name the pending address; empty means the pending one
type ResendOTPRequest struct {
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

func (r *ResendOTPRequest) bindForm(v url.Values) {
	r.Email = v.Get("email")
}

// Response DTOs

type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// LoginPageResponse is the state the login page renders
type LoginPageResponse struct {
	services.PageState
	CSRFToken string `json:"csrf_token"`
}

type VerifyOTPResponse struct {
	Destination        string `json:"destination"`
	Role               string `json:"role"`
	SessionTokenIssued bool   `json:"session_token_issued"`
	CSRFToken          string `json:"csrf_token"`
}

// SessionStatusResponse describes the authenticated session
type SessionStatusResponse struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	Destination  string    `json:"destination"`
	LastActivity time.Time `json:"last_activity"`
}

// CSRF returns the session's anti-forgery token, minting one if needed
func (h *AuthHandler) CSRF(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	token, ok := h.issueCSRF(w, r, sc)
	if !ok {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CSRFResponse{CSRFToken: token})
}

// LoginPage reports which step the login page should show. A plain reload
// abandons a pending login; ?step=otp keeps it.
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	keepPending := strings.EqualFold(r.URL.Query().Get("step"), services.StepOTP)
	state := h.login.ObservePage(r.Context(), sc, keepPending)

	token, ok := h.issueCSRF(w, r, sc)
	if !ok {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginPageResponse{PageState: state, CSRFToken: token})
}

// Login handles the credentials step
// @Summary Submit username and password
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 202 {object} services.PendingResult
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	var req LoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	pending, err := h.login.SubmitLogin(r.Context(), sc, services.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, pending)
}

// VerifyOTP handles the code step and completes the login
// @Summary Submit the emailed one-time code
// @Accept json
// @Param request body VerifyOTPRequest true "Verify request"
// @Produce json
// @Success 200 {object} VerifyOTPResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/verify-otp [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	var req VerifyOTPRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	result, err := h.login.SubmitOTP(r.Context(), sc, services.VerifyOTPRequest{
		Email: req.Email,
		Code:  req.Code,
	})
	if err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyOTPResponse{
		Destination:        result.Destination,
		Role:               result.RoleName,
		SessionTokenIssued: true,
		CSRFToken:          sc.CSRFToken,
	})
}

// ResendOTP sends a fresh code to the pending address
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ResendOTPRequest
	if r.ContentLength != 0 {
		if err := decodeRequest(w, r, &req); err != nil {
			writeAuthError(w, r, h.logger, err, h.retryAfter)
			return
		}
	}

	pending, err := h.login.ResendOTP(r.Context(), sc, req.Email)
	if err != nil {
		writeAuthError(w, r, h.logger, err, h.retryAfter)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, pending)
}

// ClearPending abandons a pending login. Always 204.
func (h *AuthHandler) ClearPending(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	h.login.ClearPending(r.Context(), sc)
	w.WriteHeader(http.StatusNoContent)
}

// Logout ends the session. Always 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	h.login.Logout(r.Context(), sc)
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the authenticated session. Mounted behind
// auth.RequireAuthenticated, which has already slid the inactivity window.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	if !sc.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionStatusResponse{
		UserID:       sc.UserID,
		Username:     sc.Username,
		Role:         h.policies.RoleName(sc.RoleID),
		Destination:  h.policies.Destination(sc.RoleID),
		LastActivity: sc.LastActivity,
	})
}

func (h *AuthHandler) session(w http.ResponseWriter, r *http.Request) (*models.SessionContext, bool) {
	sc := auth.SessionFromContext(r.Context())
	if sc == nil {
		h.logger.ErrorContext(r.Context(), "no session context on request", slog.String("path", r.URL.Path))
		pkghttp.WriteInternalError(w, "Internal server error")
		return nil, false
	}
	return sc, true
}

func (h *AuthHandler) issueCSRF(w http.ResponseWriter, r *http.Request, sc *models.SessionContext) (string, bool) {
	token, err := h.csrf.Issue(sc)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue csrf token", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return "", false
	}
	return token, true
}
