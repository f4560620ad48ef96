package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/models"
	pkglogger "github.com/BradenHooton/registrar/pkg/logger"
	"github.com/google/uuid"
)

const (
	opportunisticPurgeTimeout = 500 * time.Millisecond
	otpRetention              = 24 * time.Hour
)

// OTPRepository defines the interface for one-time code persistence
type OTPRepository interface {
	CreateWithCooldown(ctx context.Context, rec *models.OTPRecord, cooldown time.Duration, now time.Time) error
	VerifyLatest(ctx context.Context, email, purpose string, now time.Time, check func(*models.OTPRecord) error) error
	Delete(ctx context.Context, id string) error
	InvalidateAll(ctx context.Context, userID, purpose string) (int64, error)
	PurgeExpired(ctx context.Context, threshold time.Time) (int64, error)
}

// NotificationGateway delivers a code out of band
type NotificationGateway interface {
	Send(ctx context.Context, email, displayName, code, purpose string) error
}

// OTPConfig holds one-time code parameters
type OTPConfig struct {
	TTL            time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	SendTimeout    time.Duration
}

// OTPService issues and verifies one-time codes
type OTPService struct {
	repo      OTPRepository
	gateway   NotificationGateway
	generator auth.CodeGenerator
	audit     Auditor
	config    OTPConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewOTPService creates a new OTPService. A nil clock uses time.Now.
func NewOTPService(repo OTPRepository, gateway NotificationGateway, generator auth.CodeGenerator, audit Auditor, config OTPConfig, now func() time.Time, logger *slog.Logger) *OTPService {
	if now == nil {
		now = time.Now
	}
	return &OTPService{
		repo:      repo,
		gateway:   gateway,
		generator: generator,
		audit:     audit,
		config:    config,
		now:       now,
		logger:    logger,
	}
}

// Issue creates a code for (email, purpose) and hands it to the gateway. It
// returns models.ErrRateLimited inside the resend cooldown and
// models.ErrDeliveryFailed when the gateway fails, in which case the record is
// removed again.
func (s *OTPService) Issue(ctx context.Context, userID, email, displayName, purpose string) (*models.OTPRecord, error) {
	if !models.IsValidOTPPurpose(purpose) {
		return nil, models.ErrValidation
	}

	s.purgeOpportunistically(ctx)

	code, err := s.generator.Generate()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate otp code", slog.Any("error", err))
		return nil, err
	}

	now := s.now()
	rec := &models.OTPRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Email:     strings.TrimSpace(email),
		Code:      code,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}

	if err := s.repo.CreateWithCooldown(ctx, rec, s.config.ResendCooldown, now); err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			s.logger.InfoContext(ctx, "otp issuance inside cooldown",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.String("purpose", purpose))
			return nil, models.ErrRateLimited
		}
		s.logger.ErrorContext(ctx, "failed to store otp record", slog.Any("error", err))
		return nil, storeUnavailable("store otp record", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()

	if err := s.gateway.Send(sendCtx, rec.Email, displayName, code, purpose); err != nil {
		s.logger.ErrorContext(ctx, "otp delivery failed",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("purpose", purpose),
			slog.Any("error", err))

		if delErr := s.repo.Delete(context.WithoutCancel(ctx), rec.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to delete undelivered otp record",
				slog.String("otp_id", rec.ID),
				slog.Any("error", delErr))
		}
		return nil, models.ErrDeliveryFailed
	}

	s.audit.Record(ctx, userID, models.ActivityOTPIssued,
		models.ActivityTarget{Table: models.ActivityTableOTP, RecordID: rec.ID},
		models.ActivityMetadata{"purpose": purpose})

	return rec, nil
}

// Verify checks code against the newest live record for (email, purpose) and
// returns its user id. Wrong, expired and already used codes all yield
// models.ErrOTPInvalid. Once the record has taken MaxAttempts tries every
// further try yields models.ErrOTPAttemptsExceeded, even with the right code.
// Every try on a live record, including the successful one, counts as an attempt.
func (s *OTPService) Verify(ctx context.Context, email, code, purpose string) (string, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)

	var userID, recordID string
	var attempts int

	err := s.repo.VerifyLatest(ctx, email, purpose, s.now(), func(rec *models.OTPRecord) error {
		userID, recordID = rec.UserID, rec.ID

		if rec.Attempts >= s.config.MaxAttempts {
			attempts = rec.Attempts
			return models.ErrOTPAttemptsExceeded
		}

		rec.Attempts++
		attempts = rec.Attempts

		if code == "" || subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
			return models.ErrOTPInvalid
		}

		rec.IsVerified = true
		return nil
	})

	target := models.ActivityTarget{Table: models.ActivityTableOTP, RecordID: recordID}

	switch {
	case err == nil:
		return userID, nil
	case errors.Is(err, models.ErrOTPInvalid), errors.Is(err, models.ErrOTPAttemptsExceeded):
		s.audit.Record(ctx, userID, models.ActivityOTPFailed, target, models.ActivityMetadata{
			"purpose":  purpose,
			"attempts": attempts,
			"reason":   otpFailureReason(err),
		})
		return "", err
	default:
		s.logger.ErrorContext(ctx, "failed to verify otp", slog.Any("error", err))
		return "", storeUnavailable("verify otp", err)
	}
}

// InvalidateAll soft-invalidates the user's unverified codes. An empty purpose covers every purpose.
func (s *OTPService) InvalidateAll(ctx context.Context, userID, purpose string) error {
	n, err := s.repo.InvalidateAll(ctx, userID, purpose)
	if err != nil {
		return storeUnavailable("invalidate otp records", err)
	}
	if n > 0 {
		s.logger.DebugContext(ctx, "otp records invalidated",
			slog.String("user_id", userID),
			slog.Int64("count", n))
	}
	return nil
}

// PurgeExpired deletes codes that expired, or were consumed, more than a day ago
func (s *OTPService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now().Add(-otpRetention))
	if err != nil {
		return 0, storeUnavailable("purge otp records", err)
	}
	return n, nil
}

func (s *OTPService) purgeOpportunistically(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, opportunisticPurgeTimeout)
	defer cancel()

	if _, err := s.PurgeExpired(purgeCtx); err != nil {
		s.logger.DebugContext(ctx, "skipped opportunistic otp purge", slog.Any("error", err))
	}
}

func otpFailureReason(err error) string {
	if errors.Is(err, models.ErrOTPAttemptsExceeded) {
		return "attempts_exceeded"
	}
	return "invalid"
}
