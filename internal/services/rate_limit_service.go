package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
)

// Rate-limited actions
const (
	ActionLogin         = "login"
	ActionVerifyOTP     = "verify_otp"
	ActionResendOTP     = "resend_otp"
	ActionPasswordReset = "password_reset"
	ActionSessionStatus = "session_status"
)

// FailurePolicy decides what happens when the bucket store cannot be reached
type FailurePolicy int

const (
	FailClosed FailurePolicy = iota
	FailOpen
)

func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

// RateLimitPolicy is the bucket size and behaviour for one action
type RateLimitPolicy struct {
	Max            int
	Window         time.Duration
	OnStoreFailure FailurePolicy
}

// DefaultRateLimitPolicies covers every action the HTTP layer gates.
// Credential and code endpoints fail closed; the informational session view fails open.
var DefaultRateLimitPolicies = map[string]RateLimitPolicy{
	ActionLogin:         {Max: 10, Window: 5 * time.Minute, OnStoreFailure: FailClosed},
	ActionVerifyOTP:     {Max: 10, Window: 5 * time.Minute, OnStoreFailure: FailClosed},
	ActionResendOTP:     {Max: 5, Window: 10 * time.Minute, OnStoreFailure: FailClosed},
	ActionPasswordReset: {Max: 5, Window: 15 * time.Minute, OnStoreFailure: FailClosed},
	ActionSessionStatus: {Max: 120, Window: time.Minute, OnStoreFailure: FailOpen},
}

// RateLimitRepository defines the interface for fixed-window bucket storage
type RateLimitRepository interface {
	Increment(ctx context.Context, action, identity string, window time.Duration) (int64, error)
	Reset(ctx context.Context, action, identity string) error
}

// RateLimitService throttles actions per (action, identity) bucket
type RateLimitService struct {
	repo     RateLimitRepository
	policies map[string]RateLimitPolicy
	logger   *slog.Logger
}

// NewRateLimitService creates a new RateLimitService. A nil policies map uses DefaultRateLimitPolicies.
func NewRateLimitService(repo RateLimitRepository, policies map[string]RateLimitPolicy, logger *slog.Logger) *RateLimitService {
	if policies == nil {
		policies = DefaultRateLimitPolicies
	}
	return &RateLimitService{
		repo:     repo,
		policies: policies,
		logger:   logger,
	}
}

// Allow counts one hit against the (action, identity) bucket and reports
// whether the bucket is still within max. The first hit opens a window of the
// given length; the bucket empties when it elapses. Store failures return
// models.ErrStoreUnavailable.
func (s *RateLimitService) Allow(ctx context.Context, action, identity string, max int, window time.Duration) (bool, error) {
	count, err := s.repo.Increment(ctx, action, identity, window)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", action, err)
	}
	return count <= int64(max), nil
}

// Check applies the configured policy for action. A denied request returns
// models.ErrRateLimited. Store failures follow the action's FailurePolicy.
func (s *RateLimitService) Check(ctx context.Context, action, identity string) error {
	policy, ok := s.policies[action]
	if !ok {
		return fmt.Errorf("no rate limit policy for action %q", action)
	}

	allowed, err := s.Allow(ctx, action, identity, policy.Max, policy.Window)
	if err != nil {
		if policy.OnStoreFailure == FailOpen {
			s.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
				slog.String("action", action),
				slog.String("policy", policy.OnStoreFailure.String()),
				slog.Any("error", err))
			return nil
		}
		s.logger.ErrorContext(ctx, "rate limit store unavailable, rejecting request",
			slog.String("action", action),
			slog.String("policy", policy.OnStoreFailure.String()),
			slog.Any("error", err))
		if errors.Is(err, models.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if !allowed {
		s.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("action", action),
			slog.Int("max", policy.Max),
			slog.Duration("window", policy.Window))
		return models.ErrRateLimited
	}

	return nil
}

// RetryAfter is the worst-case wait a denied caller is told about
func (s *RateLimitService) RetryAfter(action string) time.Duration {
	return s.policies[action].Window
}

// Reset empties a bucket. LoginService calls it for the per-account buckets
// once a login completes.
func (s *RateLimitService) Reset(ctx context.Context, action, identity string) error {
	if err := s.repo.Reset(ctx, action, identity); err != nil {
		return fmt.Errorf("reset rate limit %s: %w", action, err)
	}
	return nil
}
