package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/registrar/internal/database"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/jackc/pgx/v5"
)

// OTPRepository handles otp_verifications data access
type OTPRepository struct {
	db *database.DB
}

func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

const otpColumns = `id, user_id, email, otp_code, otp_type, created_at, expires_at, attempts, is_verified`

func scanOTPRow(row rowScanner) (*models.OTPRecord, error) {
	var rec models.OTPRecord

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Email, &rec.Code, &rec.Purpose,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.Attempts, &rec.IsVerified,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &rec, nil
}

// CreateWithCooldown inserts rec unless a live record for the same (email, purpose)
// was issued within cooldown, in which case models.ErrRateLimited is returned.
// Older live records are soft-invalidated. Concurrent issuers for the same pair
// are serialized by a transaction-scoped advisory lock.
func (r *OTPRepository) CreateWithCooldown(ctx context.Context, rec *models.OTPRecord, cooldown time.Duration, now time.Time) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext(LOWER($1) || ':' || $2))`,
			rec.Email, rec.Purpose,
		); err != nil {
			return fmt.Errorf("failed to acquire issuance lock: %w", database.MapPostgresError(err))
		}

		var recent bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM otp_verifications
				WHERE LOWER(email) = LOWER($1) AND otp_type = $2
				  AND is_verified = FALSE AND expires_at > $3 AND created_at > $4
			)`,
			rec.Email, rec.Purpose, now, now.Add(-cooldown),
		).Scan(&recent)
		if err != nil {
			return fmt.Errorf("failed to check issuance cooldown: %w", database.MapPostgresError(err))
		}
		if recent {
			return models.ErrRateLimited
		}

		if _, err := tx.Exec(ctx, `
			UPDATE otp_verifications SET is_verified = TRUE
			WHERE LOWER(email) = LOWER($1) AND otp_type = $2 AND is_verified = FALSE`,
			rec.Email, rec.Purpose,
		); err != nil {
			return fmt.Errorf("failed to supersede previous codes: %w", database.MapPostgresError(err))
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO otp_verifications (`+otpColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rec.ID, rec.UserID, rec.Email, rec.Code, rec.Purpose,
			rec.CreatedAt, rec.ExpiresAt, rec.Attempts, rec.IsVerified,
		)
		if err != nil {
			return fmt.Errorf("failed to insert otp record: %w", database.MapPostgresError(err))
		}

		return nil
	})
}

// VerifyLatest locks the newest live record for (email, purpose) and hands it
// to check. Whatever check sets on Attempts and IsVerified is written back in
// the same transaction, including when check returns an error; that error is
// then returned to the caller. With no live record, models.ErrOTPInvalid is
// returned and check is not called.
func (r *OTPRepository) VerifyLatest(ctx context.Context, email, purpose string, now time.Time, check func(*models.OTPRecord) error) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	var outcome error

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		rec, err := scanOTPRow(tx.QueryRow(ctx, `
			SELECT `+otpColumns+` FROM otp_verifications
			WHERE LOWER(email) = LOWER($1) AND otp_type = $2
			  AND is_verified = FALSE AND expires_at > $3
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE`,
			email, purpose, now,
		))
		if errors.Is(err, models.ErrNotFound) {
			outcome = models.ErrOTPInvalid
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load otp record: %w", err)
		}

		outcome = check(rec)

		if _, err := tx.Exec(ctx,
			`UPDATE otp_verifications SET attempts = $1, is_verified = $2 WHERE id = $3`,
			rec.Attempts, rec.IsVerified, rec.ID,
		); err != nil {
			return fmt.Errorf("failed to update otp record: %w", database.MapPostgresError(err))
		}

		return nil
	})
	if err != nil {
		return err
	}

	return outcome
}

func (r *OTPRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM otp_verifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete otp record: %w", database.MapPostgresError(err))
	}
	return nil
}

// InvalidateAll soft-invalidates unverified records. An empty purpose matches every purpose.
func (r *OTPRepository) InvalidateAll(ctx context.Context, userID, purpose string) (int64, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, `
		UPDATE otp_verifications SET is_verified = TRUE
		WHERE user_id = $1 AND is_verified = FALSE AND ($2 = '' OR otp_type = $2)`,
		userID, purpose,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate otp records: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected(), nil
}

// PurgeExpired deletes records that expired before threshold, and consumed records
// created before it.
func (r *OTPRepository) PurgeExpired(ctx context.Context, threshold time.Time) (int64, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, `
		DELETE FROM otp_verifications
		WHERE expires_at < $1 OR (is_verified = TRUE AND created_at < $1)`,
		threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge otp records: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected(), nil
}
