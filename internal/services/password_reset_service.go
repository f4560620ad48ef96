package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/registrar/internal/models"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
	pkglogger "github.com/BradenHooton/registrar/pkg/logger"
)

// PasswordResetService resets a forgotten password through an emailed code
type PasswordResetService struct {
	users       UserRepository
	otps        OTPIssuerVerifier
	credentials CredentialValidator
	hasher      PasswordHasher
	audit       Auditor
	logger      *slog.Logger
}

func NewPasswordResetService(users UserRepository, otps OTPIssuerVerifier, credentials CredentialValidator, hasher PasswordHasher, audit Auditor, logger *slog.Logger) *PasswordResetService {
	return &PasswordResetService{
		users:       users,
		otps:        otps,
		credentials: credentials,
		hasher:      hasher,
		audit:       audit,
		logger:      logger,
	}
}

// RequestReset mails a reset code when email belongs to an active user. The
// outcome is the same whether or not the account exists, so only store
// failures are reported.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)

	user, err := s.users.GetActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil
		}
		return storeUnavailable("load user", err)
	}

	_, err = s.otps.Issue(ctx, user.ID, user.Email, user.DisplayName(), models.OTPPurposePasswordReset)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrRateLimited), errors.Is(err, models.ErrDeliveryFailed):
		s.logger.WarnContext(ctx, "password reset code not sent",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil
	default:
		return err
	}
}

// ConfirmReset verifies the reset code and stores newPassword. Every
// outstanding code for the user is invalidated, the lockout counter cleared and
// the active session dropped.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, email, code, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	userID, err := s.otps.Verify(ctx, email, code, models.OTPPurposePasswordReset)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrOTPInvalid
		}
		return storeUnavailable("load user", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return storeUnavailable("update password", err)
	}

	if err := s.otps.InvalidateAll(ctx, user.ID, ""); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate codes after reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	if err := s.credentials.ClearLockout(ctx, user.Username); err != nil {
		s.logger.WarnContext(ctx, "failed to clear lockout after reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.Record(ctx, user.ID, models.ActivityPasswordReset,
		models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: user.ID}, nil)

	return nil
}
