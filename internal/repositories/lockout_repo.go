package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/registrar/internal/database"
	"github.com/BradenHooton/registrar/internal/models"
)

// LockoutRepository persists failed-login counters keyed by a hash of the username
type LockoutRepository struct {
	db *database.DB
}

func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// Get returns the counter for identityKey, or nil when no failure is recorded.
func (r *LockoutRepository) Get(ctx context.Context, identityKey string) (*models.LockoutCounter, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `SELECT identity_key, attempts, last_attempt_at FROM login_lockouts WHERE identity_key = $1`

	var counter models.LockoutCounter
	err := r.db.Pool.QueryRow(ctx, query, identityKey).Scan(
		&counter.IdentityKey, &counter.Attempts, &counter.LastAttemptAt,
	)
	if err != nil {
		mapped := database.MapPostgresError(err)
		if errors.Is(mapped, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lockout counter: %w", mapped)
	}

	return &counter, nil
}

// Reserve counts one login attempt against identityKey in a single statement,
// before the password is checked. The increment only lands while the identity
// is below threshold or its last failure has aged out of window (which restarts
// the count at 1). When the identity is locked nothing is written and reserved
// is false; counter then holds the current tally, or nil if the row vanished
// between the conflict check and the read.
func (r *LockoutRepository) Reserve(ctx context.Context, identityKey string, threshold int, window time.Duration, now time.Time) (counter *models.LockoutCounter, reserved bool, err error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `
		WITH reserved AS (
			INSERT INTO login_lockouts (identity_key, attempts, last_attempt_at)
			VALUES ($1, 1, $2)
			ON CONFLICT (identity_key) DO UPDATE SET
				attempts = CASE
					WHEN login_lockouts.last_attempt_at <= $3 THEN 1
					ELSE login_lockouts.attempts + 1
				END,
				last_attempt_at = EXCLUDED.last_attempt_at
			WHERE login_lockouts.attempts < $4 OR login_lockouts.last_attempt_at <= $3
			RETURNING identity_key, attempts, last_attempt_at
		)
		SELECT identity_key, attempts, last_attempt_at, true FROM reserved
		UNION ALL
		SELECT identity_key, attempts, last_attempt_at, false FROM login_lockouts
		WHERE identity_key = $1 AND NOT EXISTS (SELECT 1 FROM reserved)
	`

	var c models.LockoutCounter
	err = r.db.Pool.QueryRow(ctx, query, identityKey, now, now.Add(-window), threshold).Scan(
		&c.IdentityKey, &c.Attempts, &c.LastAttemptAt, &reserved,
	)
	if err != nil {
		mapped := database.MapPostgresError(err)
		if errors.Is(mapped, models.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to reserve login attempt: %w", mapped)
	}

	return &c, reserved, nil
}

func (r *LockoutRepository) Clear(ctx context.Context, identityKey string) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `DELETE FROM login_lockouts WHERE identity_key = $1`, identityKey)
	if err != nil {
		return fmt.Errorf("failed to clear lockout counter: %w", database.MapPostgresError(err))
	}
	return nil
}

// DeleteStale removes counters whose last failure is older than threshold.
func (r *LockoutRepository) DeleteStale(ctx context.Context, threshold time.Time) (int64, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM login_lockouts WHERE last_attempt_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale lockouts: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected(), nil
}
