package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
)

const sessionTokenBytes = 32

// OTPInvalidator is the slice of the OTP service the session lifecycle needs
type OTPInvalidator interface {
	InvalidateAll(ctx context.Context, userID, purpose string) error
}

// SessionService mints, validates and ends authenticated sessions
type SessionService struct {
	users    UserRepository
	otps     OTPInvalidator
	policies models.PolicyTable
	audit    Auditor
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionService creates a new SessionService. A nil clock uses time.Now.
func NewSessionService(users UserRepository, otps OTPInvalidator, policies models.PolicyTable, audit Auditor, timeout time.Duration, now func() time.Time, logger *slog.Logger) *SessionService {
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		users:    users,
		otps:     otps,
		policies: policies,
		audit:    audit,
		timeout:  timeout,
		now:      now,
		logger:   logger,
	}
}

// Create stores a fresh random session token on the user row and marks sc authenticated
func (s *SessionService) Create(ctx context.Context, sc *models.SessionContext, user *models.User) (*models.SessionRecord, error) {
	token, err := pkgauth.GenerateSecureToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(s.timeout)

	if err := s.users.StartSession(ctx, user.ID, token, expires, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to start session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, storeUnavailable("start session", err)
	}

	sc.UserID = user.ID
	sc.Username = user.Username
	sc.RoleID = user.RoleID
	sc.SessionToken = token
	sc.LastActivity = now

	return &models.SessionRecord{UserID: user.ID, Token: token, ExpiresAt: expires}, nil
}

// IsValid reports whether sc carries a live session whose token matches the
// stored one. Store failures count as invalid.
func (s *SessionService) IsValid(ctx context.Context, sc *models.SessionContext) bool {
	if sc == nil || !sc.IsAuthenticated() || s.idle(sc) {
		return false
	}

	ok, err := s.matchesStored(ctx, sc)
	if err != nil {
		s.logger.WarnContext(ctx, "session validity check failed", slog.Any("error", err))
		return false
	}
	return ok
}

// Touch records activity on an authenticated session and slides its expiry.
// An idle, revoked or tampered session is logged out and models.ErrSessionExpired
// returned. Store failures return models.ErrStoreUnavailable and leave the
// session alone.
func (s *SessionService) Touch(ctx context.Context, sc *models.SessionContext) error {
	if sc == nil || !sc.IsAuthenticated() {
		return models.ErrSessionExpired
	}

	if s.idle(sc) {
		s.expire(ctx, sc, "inactivity", true)
		return models.ErrSessionExpired
	}

	ok, err := s.matchesStored(ctx, sc)
	if err != nil {
		return storeUnavailable("load session", err)
	}
	if !ok {
		s.expire(ctx, sc, "token_mismatch", false)
		return models.ErrSessionExpired
	}

	now := s.now()
	if err := s.users.ExtendSession(ctx, sc.UserID, sc.SessionToken, now.Add(s.timeout)); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.expire(ctx, sc, "token_mismatch", false)
			return models.ErrSessionExpired
		}
		return storeUnavailable("extend session", err)
	}

	sc.LastActivity = now
	return nil
}

// Logout clears the stored token and any outstanding login codes, then drops
// the authenticated fields from sc. Store errors are logged; the local state is
// cleared regardless.
func (s *SessionService) Logout(ctx context.Context, sc *models.SessionContext) {
	if sc == nil || sc.UserID == "" {
		return
	}
	s.endSession(ctx, sc)
	s.audit.Record(ctx, sc.UserID, models.ActivityLogout,
		models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: sc.UserID}, nil)
	sc.ClearAuthentication()
}

// ResolveDestination maps a role to its landing path. Unknown roles get the default.
func (s *SessionService) ResolveDestination(roleID int) string {
	return s.policies.Destination(roleID)
}

func (s *SessionService) idle(sc *models.SessionContext) bool {
	return !s.now().Before(sc.LastActivity.Add(s.timeout))
}

func (s *SessionService) matchesStored(ctx context.Context, sc *models.SessionContext) (bool, error) {
	user, err := s.users.GetByID(ctx, sc.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if !user.IsActive || user.SessionToken == nil || user.SessionExpires == nil {
		return false, nil
	}
	if !s.now().Before(*user.SessionExpires) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(*user.SessionToken), []byte(sc.SessionToken)) == 1, nil
}

// expire force-logs-out sc. The stored session is only ended when it is still
// ours; a mismatched token means a newer login owns the row.
func (s *SessionService) expire(ctx context.Context, sc *models.SessionContext, reason string, owned bool) {
	s.logger.InfoContext(ctx, "session expired",
		slog.String("user_id", sc.UserID),
		slog.String("reason", reason))
	if owned {
		s.endSession(ctx, sc)
	}
	s.audit.Record(ctx, sc.UserID, models.ActivitySessionExpired,
		models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: sc.UserID},
		models.ActivityMetadata{"reason": reason})
	sc.ClearAuthentication()
}

func (s *SessionService) endSession(ctx context.Context, sc *models.SessionContext) {
	if err := s.users.ClearSession(ctx, sc.UserID, sc.SessionToken); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear stored session", slog.String("user_id", sc.UserID), slog.Any("error", err))
	}
	if err := s.otps.InvalidateAll(ctx, sc.UserID, models.OTPPurposeLogin); err != nil {
		s.logger.ErrorContext(ctx, "failed to invalidate login codes", slog.String("user_id", sc.UserID), slog.Any("error", err))
	}
}
