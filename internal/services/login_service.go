package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/models"
	pkglogger "github.com/BradenHooton/registrar/pkg/logger"
)

// Login steps reported to the page
const (
	StepCredentials   = "credentials"
	StepOTP           = "otp"
	StepAuthenticated = "authenticated"
)

// CredentialValidator is the slice of CredentialService the coordinator needs
type CredentialValidator interface {
	Validate(ctx context.Context, username, password string) (*models.User, error)
	ClearLockout(ctx context.Context, username string) error
}

// OTPIssuerVerifier is the slice of OTPService the coordinator needs
type OTPIssuerVerifier interface {
	Issue(ctx context.Context, userID, email, displayName, purpose string) (*models.OTPRecord, error)
	Verify(ctx context.Context, email, code, purpose string) (string, error)
	InvalidateAll(ctx context.Context, userID, purpose string) error
}

// SessionManager is the slice of SessionService the coordinator needs
type SessionManager interface {
	Create(ctx context.Context, sc *models.SessionContext, user *models.User) (*models.SessionRecord, error)
	Logout(ctx context.Context, sc *models.SessionContext)
	ResolveDestination(roleID int) string
}

// IdentityLimiter throttles per account, alongside the per-IP gate in the HTTP
// layer. Satisfied by RateLimitService.
type IdentityLimiter interface {
	Check(ctx context.Context, action, identity string) error
	Reset(ctx context.Context, action, identity string) error
}

type LoginRequest struct {
	Username string
	Password string
}

type VerifyOTPRequest struct {
	Email string
	Code  string
}

// PendingResult describes the OTP-pending state without exposing the address
type PendingResult struct {
	MaskedEmail string    `json:"masked_email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LoginResult is returned once the second factor is accepted
type LoginResult struct {
	UserID      string `json:"-"`
	Destination string `json:"destination"`
	RoleName    string `json:"role"`
}

// PageState is what the login page renders for the current session
type PageState struct {
	Step        string `json:"step"`
	MaskedEmail string `json:"masked_email,omitempty"`
}

// LoginService drives a browser session from anonymous, through the
// password-accepted state, to authenticated.
type LoginService struct {
	credentials CredentialValidator
	otps        OTPIssuerVerifier
	sessions    SessionManager
	users       UserRepository
	csrf        *auth.CSRFGuard
	limiter     IdentityLimiter
	policies    models.PolicyTable
	audit       Auditor
	pendingTTL  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewLoginService creates a new LoginService. A nil clock uses time.Now.
func NewLoginService(credentials CredentialValidator, otps OTPIssuerVerifier, sessions SessionManager, users UserRepository, csrf *auth.CSRFGuard, limiter IdentityLimiter, policies models.PolicyTable, audit Auditor, pendingTTL time.Duration, now func() time.Time, logger *slog.Logger) *LoginService {
	if now == nil {
		now = time.Now
	}
	return &LoginService{
		credentials: credentials,
		otps:        otps,
		sessions:    sessions,
		users:       users,
		csrf:        csrf,
		limiter:     limiter,
		policies:    policies,
		audit:       audit,
		pendingTTL:  pendingTTL,
		now:         now,
		logger:      logger,
	}
}

// SubmitLogin checks the password and, on success, issues a login code and
// moves sc into the pending state. Failures leave sc untouched.
func (s *LoginService) SubmitLogin(ctx context.Context, sc *models.SessionContext, req LoginRequest) (*PendingResult, error) {
	if err := s.limiter.Check(ctx, ActionLogin, usernameIdentity(req.Username)); err != nil {
		return nil, err
	}

	user, err := s.credentials.Validate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user.ID, models.ActivityLoginPasswordAccepted,
		models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: user.ID}, nil)

	if _, err := s.otps.Issue(ctx, user.ID, user.Email, user.DisplayName(), models.OTPPurposeLogin); err != nil {
		return nil, err
	}

	now := s.now()
	sc.Pending = &models.PendingLogin{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		RoleID:    user.RoleID,
		CreatedAt: now,
	}

	return s.pendingResult(sc.Pending), nil
}

// SubmitOTP completes the login. The email must be the pending one; a
// different address is rejected before any code is looked at. On success the
// session id is regenerated and the CSRF token rotated.
func (s *LoginService) SubmitOTP(ctx context.Context, sc *models.SessionContext, req VerifyOTPRequest) (*LoginResult, error) {
	pending, err := s.livePending(ctx, sc)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Check(ctx, ActionVerifyOTP, emailIdentity(pending.Email)); err != nil {
		return nil, err
	}

	if !strings.EqualFold(strings.TrimSpace(req.Email), pending.Email) {
		s.logger.WarnContext(ctx, "otp submitted for an address other than the pending login",
			slog.String("user_id", pending.UserID))
		s.audit.Record(ctx, pending.UserID, models.ActivityOTPFailed,
			models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: pending.UserID},
			models.ActivityMetadata{"reason": "email_mismatch"})
		return nil, models.ErrSessionMismatch
	}

	userID, err := s.otps.Verify(ctx, pending.Email, req.Code, models.OTPPurposeLogin)
	if err != nil {
		return nil, err
	}
	if userID != pending.UserID {
		s.logger.ErrorContext(ctx, "verified code belongs to another user",
			slog.String("pending_user_id", pending.UserID),
			slog.String("code_user_id", userID))
		return nil, models.ErrSessionMismatch
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			sc.Pending = nil
			return nil, models.ErrNoPendingLogin
		}
		return nil, storeUnavailable("load user", err)
	}
	if !user.IsActive {
		sc.Pending = nil
		return nil, models.ErrInvalidCredentials
	}

	if _, err := s.sessions.Create(ctx, sc, user); err != nil {
		return nil, err
	}

	sc.Pending = nil
	auth.Regenerate(sc)
	if _, err := s.csrf.Rotate(sc); err != nil {
		s.logger.ErrorContext(ctx, "failed to rotate csrf token", slog.Any("error", err))
	}

	if err := s.credentials.ClearLockout(ctx, user.Username); err != nil {
		s.logger.WarnContext(ctx, "failed to clear lockout counter", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	if err := s.otps.InvalidateAll(ctx, user.ID, models.OTPPurposeLogin); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate sibling login codes", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	s.resetIdentityBuckets(ctx, user.ID, pending.Username, pending.Email)

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	s.audit.Record(ctx, user.ID, models.ActivityLoginSuccess,
		models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: user.ID},
		models.ActivityMetadata{"role": s.policies.RoleName(user.RoleID)})

	return &LoginResult{
		UserID:      user.ID,
		Destination: s.sessions.ResolveDestination(user.RoleID),
		RoleName:    s.policies.RoleName(user.RoleID),
	}, nil
}

// ResendOTP issues a new code to the pending address and restarts the pending TTL
func (s *LoginService) ResendOTP(ctx context.Context, sc *models.SessionContext, email string) (*PendingResult, error) {
	pending, err := s.livePending(ctx, sc)
	if err != nil {
		return nil, err
	}

	if email != "" && !strings.EqualFold(strings.TrimSpace(email), pending.Email) {
		return nil, models.ErrSessionMismatch
	}

	displayName := pending.Username
	if user, err := s.users.GetByID(ctx, pending.UserID); err == nil {
		displayName = user.DisplayName()
	}

	if _, err := s.otps.Issue(ctx, pending.UserID, pending.Email, displayName, models.OTPPurposeLogin); err != nil {
		return nil, err
	}

	pending.CreatedAt = s.now()
	s.audit.Record(ctx, pending.UserID, models.ActivityOTPResent,
		models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: pending.UserID}, nil)

	return s.pendingResult(pending), nil
}

// ClearPending drops the pending state. Calling it with nothing pending is a no-op.
func (s *LoginService) ClearPending(ctx context.Context, sc *models.SessionContext) {
	if sc.Pending == nil {
		return
	}
	userID := sc.Pending.UserID
	sc.Pending = nil
	s.audit.Record(ctx, userID, models.ActivityPendingCleared,
		models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: userID}, nil)
}

// ObservePage handles a plain page load of the login screen. Unless the page
// explicitly asks to stay on the code step, a reload abandons the pending login.
func (s *LoginService) ObservePage(ctx context.Context, sc *models.SessionContext, keepPending bool) PageState {
	if sc.IsAuthenticated() {
		return PageState{Step: StepAuthenticated}
	}

	if sc.Pending != nil && (!keepPending || sc.Pending.IsExpired(s.pendingTTL, s.now())) {
		s.ClearPending(ctx, sc)
	}

	if sc.Pending == nil {
		return PageState{Step: StepCredentials}
	}
	return PageState{Step: StepOTP, MaskedEmail: pkglogger.SanitizedEmail(sc.Pending.Email)}
}

// Logout ends the authenticated session, drops any pending login and issues a
// new session id and CSRF token.
func (s *LoginService) Logout(ctx context.Context, sc *models.SessionContext) {
	s.sessions.Logout(ctx, sc)
	sc.Pending = nil
	auth.Regenerate(sc)
	if _, err := s.csrf.Rotate(sc); err != nil {
		s.logger.ErrorContext(ctx, "failed to rotate csrf token", slog.Any("error", err))
	}
}

func (s *LoginService) livePending(ctx context.Context, sc *models.SessionContext) (*models.PendingLogin, error) {
	if sc.Pending == nil {
		return nil, models.ErrNoPendingLogin
	}
	if sc.Pending.IsExpired(s.pendingTTL, s.now()) {
		s.logger.InfoContext(ctx, "pending login expired", slog.String("user_id", sc.Pending.UserID))
		s.ClearPending(ctx, sc)
		return nil, models.ErrNoPendingLogin
	}
	return sc.Pending, nil
}

// resetIdentityBuckets gives a user who just proved both factors a fresh
// per-account budget. The per-IP buckets are left alone.
func (s *LoginService) resetIdentityBuckets(ctx context.Context, userID, username, email string) {
	for action, identity := range map[string]string{
		ActionLogin:     usernameIdentity(username),
		ActionVerifyOTP: emailIdentity(email),
	} {
		if err := s.limiter.Reset(ctx, action, identity); err != nil {
			s.logger.WarnContext(ctx, "failed to reset rate limit bucket",
				slog.String("user_id", userID),
				slog.String("action", action),
				slog.Any("error", err))
		}
	}
}

// usernameIdentity and emailIdentity namespace account buckets so they never
// share a key with a client IP.
func usernameIdentity(username string) string {
	return "user:" + strings.ToLower(strings.TrimSpace(username))
}

func emailIdentity(email string) string {
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}

func (s *LoginService) pendingResult(p *models.PendingLogin) *PendingResult {
	return &PendingResult{
		MaskedEmail: pkglogger.SanitizedEmail(p.Email),
		ExpiresAt:   p.CreatedAt.Add(s.pendingTTL),
	}
}
