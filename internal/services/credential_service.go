package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/models"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
)

// UserRepository defines the interface for the user rows this core reads and
// the session and password columns it writes.
type UserRepository interface {
	GetActiveByUsername(ctx context.Context, username string) (*models.User, error)
	GetActiveByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	StartSession(ctx context.Context, id, token string, expires, now time.Time) error
	ExtendSession(ctx context.Context, id, token string, expires time.Time) error
	ClearSession(ctx context.Context, id, token string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpgradeLegacyPassword(ctx context.Context, id, legacy, passwordHash string) error
}

// LockoutRepository defines the interface for failed-attempt counters.
// Reserve must increment and check in one atomic step.
type LockoutRepository interface {
	Reserve(ctx context.Context, identityKey string, threshold int, window time.Duration, now time.Time) (*models.LockoutCounter, bool, error)
	Clear(ctx context.Context, identityKey string) error
}

// PasswordHasher hashes passwords for storage
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// CredentialConfig holds lockout parameters
type CredentialConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// CredentialService checks username/password pairs and keeps the lockout tally
type CredentialService struct {
	users    UserRepository
	lockouts LockoutRepository
	hasher   PasswordHasher
	timing   *auth.TimingDelay
	audit    Auditor
	config   CredentialConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewCredentialService creates a new CredentialService. timing may be nil to
// disable failure padding; a nil clock uses time.Now.
func NewCredentialService(users UserRepository, lockouts LockoutRepository, hasher PasswordHasher, timing *auth.TimingDelay, audit Auditor, config CredentialConfig, now func() time.Time, logger *slog.Logger) *CredentialService {
	if now == nil {
		now = time.Now
	}
	return &CredentialService{
		users:    users,
		lockouts: lockouts,
		hasher:   hasher,
		timing:   timing,
		audit:    audit,
		config:   config,
		now:      now,
		logger:   logger,
	}
}

// Validate returns the active user whose password matches. It fails with
// models.ErrLockedOut while the identity is locked, models.ErrInvalidCredentials
// for an unknown user or wrong password, and models.ErrStoreUnavailable when the
// lockout or user store cannot be read or written. A successful login clears
// the counter.
func (s *CredentialService) Validate(ctx context.Context, username, password string) (user *models.User, err error) {
	start := time.Now()
	defer func() {
		s.timing.WaitFrom(ctx, start, err == nil)
	}()

	username = strings.TrimSpace(username)
	key := models.LockoutIdentityKey(username)
	now := s.now()

	// The attempt is counted before the password is compared, so concurrent
	// guesses for one identity cannot all slip in below the threshold.
	counter, reserved, err := s.lockouts.Reserve(ctx, key, s.config.LockoutThreshold, s.config.LockoutDuration, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reserve login attempt", slog.Any("error", err))
		return nil, storeUnavailable("reserve login attempt", err)
	}
	if !reserved {
		s.rejectLocked(ctx, counter)
		return nil, models.ErrLockedOut
	}

	user, err = s.users.GetActiveByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.InfoContext(ctx, "login failed: invalid credentials")
			return nil, s.reportFailure(ctx, counter, "")
		}
		s.logger.ErrorContext(ctx, "failed to load user", slog.Any("error", err))
		return nil, storeUnavailable("load user", err)
	}

	if !s.passwordMatches(ctx, user, password) {
		s.logger.InfoContext(ctx, "login failed: invalid credentials", slog.String("user_id", user.ID))
		return nil, s.reportFailure(ctx, counter, user.ID)
	}

	if err := s.lockouts.Clear(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to clear lockout counter",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	if user.IsLegacyPassword() {
		s.upgradeLegacyPassword(ctx, user, password)
	}

	return user, nil
}

// ClearLockout drops the counter for username
func (s *CredentialService) ClearLockout(ctx context.Context, username string) error {
	if err := s.lockouts.Clear(ctx, models.LockoutIdentityKey(username)); err != nil {
		return storeUnavailable("clear lockout counter", err)
	}
	return nil
}

func (s *CredentialService) passwordMatches(ctx context.Context, user *models.User, password string) bool {
	if user.IsLegacyPassword() {
		s.logger.WarnContext(ctx, "legacy plaintext password comparison in use, remove once stored passwords are migrated",
			slog.String("user_id", user.ID))
		return pkgauth.CompareLegacyPassword(user.PasswordHash, password)
	}
	return pkgauth.ComparePassword(user.PasswordHash, password)
}

func (s *CredentialService) rejectLocked(ctx context.Context, counter *models.LockoutCounter) {
	metadata := models.ActivityMetadata{}
	attrs := []any{}
	if counter != nil {
		metadata["attempts"] = counter.Attempts
		attrs = append(attrs, slog.Time("locked_until", counter.LockedUntil(s.config.LockoutDuration)))
	}
	s.logger.InfoContext(ctx, "login rejected: identity locked out", attrs...)
	s.audit.Record(ctx, "", models.ActivityLoginLockedOut, models.ActivityTarget{Table: models.ActivityTableUsers}, metadata)
}

// reportFailure audits a failed comparison against the attempt already
// reserved for it and returns the error Validate reports.
func (s *CredentialService) reportFailure(ctx context.Context, counter *models.LockoutCounter, userID string) error {
	s.audit.Record(ctx, userID, models.ActivityLoginFailed, models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: userID},
		models.ActivityMetadata{"attempts": counter.Attempts})

	if counter.Attempts == s.config.LockoutThreshold {
		s.logger.WarnContext(ctx, "identity locked out",
			slog.Int("attempts", counter.Attempts),
			slog.Duration("lockout_duration", s.config.LockoutDuration))
	}

	return models.ErrInvalidCredentials
}

func (s *CredentialService) upgradeLegacyPassword(ctx context.Context, user *models.User, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to hash legacy password", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	if err := s.users.UpgradeLegacyPassword(ctx, user.ID, user.PasswordHash, hash); err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade legacy password", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	user.PasswordHash = hash
	s.audit.Record(ctx, user.ID, models.ActivityLegacyPasswordUpgrade, models.ActivityTarget{Table: models.ActivityTableUsers, RecordID: user.ID}, nil)
}

// storeUnavailable makes sure a persistence failure carries models.ErrStoreUnavailable
func storeUnavailable(op string, err error) error {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
}
