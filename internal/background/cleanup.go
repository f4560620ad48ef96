package background

import (
	"context"
	"log/slog"
	"time"
)

// staleLockoutAge is how long an untouched lockout row is kept
const staleLockoutAge = 24 * time.Hour

// OTPPurger deletes one-time codes past their retention
type OTPPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// LockoutPurger deletes lockout rows whose last failure is older than threshold
type LockoutPurger interface {
	DeleteStale(ctx context.Context, threshold time.Time) (int64, error)
}

// CleanupManager periodically removes expired codes and stale lockout counters.
// A failed pass is logged and retried on the next tick.
type CleanupManager struct {
	otps     OTPPurger
	lockouts LockoutPurger
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	otps OTPPurger,
	lockouts LockoutPurger,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		otps:     otps,
		lockouts: lockouts,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if n, err := cm.otps.PurgeExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to purge expired otp records", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("expired otp records purged", slog.Int64("rows_deleted", n))
	}

	if n, err := cm.lockouts.DeleteStale(cleanupCtx, cm.now().Add(-staleLockoutAge)); err != nil {
		cm.logger.Error("failed to delete stale lockouts", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("stale lockouts deleted", slog.Int64("rows_deleted", n))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
