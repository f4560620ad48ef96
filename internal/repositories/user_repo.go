package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/registrar/internal/database"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/google/uuid"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, username, password_hash, email, full_name, role_id, is_active,
	session_token, session_expires, last_login, created_at, updated_at`

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.FullName,
		&user.RoleID, &user.IsActive,
		&user.SessionToken, &user.SessionExpires, &user.LastLogin,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

// GetActiveByUsername looks up an active account; usernames compare case-insensitively.
func (r *UserRepository) GetActiveByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1) AND is_active = TRUE`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, username))
}

// GetActiveByEmail is used by the password reset request.
func (r *UserRepository) GetActiveByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) AND is_active = TRUE`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	user.ID = uuid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, username, password_hash, email, full_name, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	return scanUserRow(r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Email, user.FullName,
		user.RoleID, user.IsActive, user.CreatedAt, user.UpdatedAt,
	))
}

// StartSession stores a freshly minted session token and stamps last_login.
func (r *UserRepository) StartSession(ctx context.Context, id, token string, expires, now time.Time) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `
		UPDATE users SET session_token = $1, session_expires = $2, last_login = $3, updated_at = $3
		WHERE id = $4
	`

	return r.execOne(ctx, query, token, expires, now, id)
}

// ExtendSession slides the expiry only while the presented token is still the stored one.
func (r *UserRepository) ExtendSession(ctx context.Context, id, token string, expires time.Time) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `UPDATE users SET session_expires = $1 WHERE id = $2 AND session_token = $3`

	return r.execOne(ctx, query, expires, id, token)
}

// ClearSession drops the stored session only if it is still token, so ending
// a superseded browser session leaves the newer one alone.
func (r *UserRepository) ClearSession(ctx context.Context, id, token string) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `UPDATE users SET session_token = NULL, session_expires = NULL WHERE id = $1 AND session_token = $2`

	_, err := r.db.Pool.Exec(ctx, query, id, token)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", database.MapPostgresError(err))
	}
	return nil
}

// UpdatePassword replaces the stored credential and drops any active session.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `
		UPDATE users SET password_hash = $1, session_token = NULL, session_expires = NULL, updated_at = NOW()
		WHERE id = $2
	`

	return r.execOne(ctx, query, passwordHash, id)
}

// UpgradeLegacyPassword swaps a plaintext credential for its hash. The session is kept.
func (r *UserRepository) UpgradeLegacyPassword(ctx context.Context, id, legacy, passwordHash string) error {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2 AND password_hash = $3`

	return r.execOne(ctx, query, passwordHash, id, legacy)
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", database.MapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
