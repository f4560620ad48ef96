//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/registrar/internal/database"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase starts PostgreSQL in a container and applies the embedded migrations
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("registrar"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	migrator, err := database.NewMigratorFromDB(stdlib.OpenDBFromPool(pool), logger)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())

	return database.NewFromPool(pool, 5*time.Second, logger)
}

func createTestUser(t *testing.T, repo *UserRepository, username, email, password string) *models.User {
	t.Helper()

	user, err := repo.Create(context.Background(), &models.User{
		Username:     username,
		PasswordHash: password,
		Email:        email,
		FullName:     "Test " + username,
		RoleID:       models.RoleStudent,
		IsActive:     true,
	})
	require.NoError(t, err)
	return user
}

func TestPostgresRepositories(t *testing.T) {
	db := setupTestDatabase(t)
	users := NewUserRepository(db)
	otps := NewOTPRepository(db)
	lockouts := NewLockoutRepository(db)
	activity := NewActivityLogRepository(db)
	ctx := context.Background()

	alice := createTestUser(t, users, "alice", "alice@x.com", "plaintext")

	t.Run("username lookup is case-insensitive and active-only", func(t *testing.T) {
		found, err := users.GetActiveByUsername(ctx, "ALICE")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, found.ID)
		assert.True(t, found.IsLegacyPassword())

		_, err = users.GetActiveByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("session fields", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, users.StartSession(ctx, alice.ID, "tok-1", now.Add(time.Hour), now))

		u, err := users.GetByID(ctx, alice.ID)
		require.NoError(t, err)
		require.NotNil(t, u.SessionToken)
		assert.Equal(t, "tok-1", *u.SessionToken)

		assert.ErrorIs(t, users.ExtendSession(ctx, alice.ID, "other", now.Add(2*time.Hour)), models.ErrNotFound)
		require.NoError(t, users.ClearSession(ctx, alice.ID, "other"))
		u, err = users.GetByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.NotNil(t, u.SessionToken)

		require.NoError(t, users.ClearSession(ctx, alice.ID, "tok-1"))
		u, err = users.GetByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Nil(t, u.SessionToken)
	})

	t.Run("lockout reservation is atomic under concurrency", func(t *testing.T) {
		key := models.LockoutIdentityKey("alice")
		now := time.Now().UTC()

		var wg sync.WaitGroup
		results := make(chan bool, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, reserved, err := lockouts.Reserve(ctx, key, 5, 15*time.Minute, now)
				assert.NoError(t, err)
				results <- reserved
			}()
		}
		wg.Wait()
		close(results)

		reserved := 0
		for ok := range results {
			if ok {
				reserved++
			}
		}
		assert.Equal(t, 5, reserved)

		counter, err := lockouts.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 5, counter.Attempts)

		// refused while locked, without touching the row
		counter, ok, err := lockouts.Reserve(ctx, key, 5, 15*time.Minute, now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 5, counter.Attempts)
		assert.WithinDuration(t, now, counter.LastAttemptAt, time.Millisecond)

		// an attempt after the window restarts the count
		counter, ok, err = lockouts.Reserve(ctx, key, 5, 15*time.Minute, now.Add(16*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, counter.Attempts)

		require.NoError(t, lockouts.Clear(ctx, key))
		counter, err = lockouts.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, counter)
	})

	t.Run("otp cooldown holds under concurrent issuance", func(t *testing.T) {
		now := time.Now().UTC()

		var wg sync.WaitGroup
		results := make(chan error, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- otps.CreateWithCooldown(ctx, &models.OTPRecord{
					ID: uuid.New().String(), UserID: alice.ID, Email: "alice@x.com",
					Code: "123456", Purpose: models.OTPPurposeLogin,
					CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
				}, time.Minute, now)
			}()
		}
		wg.Wait()
		close(results)

		var created, limited int
		for err := range results {
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, models.ErrRateLimited):
				limited++
			}
		}
		assert.Equal(t, 1, created)
		assert.Equal(t, 4, limited)
	})

	t.Run("verify writes back attempts even on failure", func(t *testing.T) {
		now := time.Now().UTC()

		err := otps.VerifyLatest(ctx, "Alice@X.com", models.OTPPurposeLogin, now, func(rec *models.OTPRecord) error {
			rec.Attempts++
			return models.ErrOTPInvalid
		})
		assert.ErrorIs(t, err, models.ErrOTPInvalid)

		var attempts int
		err = otps.VerifyLatest(ctx, "alice@x.com", models.OTPPurposeLogin, now, func(rec *models.OTPRecord) error {
			attempts = rec.Attempts
			rec.IsVerified = true
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)

		err = otps.VerifyLatest(ctx, "alice@x.com", models.OTPPurposeLogin, now, func(*models.OTPRecord) error {
			t.Fatal("verified record must not be offered again")
			return nil
		})
		assert.ErrorIs(t, err, models.ErrOTPInvalid)
	})

	t.Run("expired records are not live and get purged", func(t *testing.T) {
		now := time.Now().UTC()
		rec := &models.OTPRecord{
			ID: uuid.New().String(), UserID: alice.ID, Email: "alice@x.com",
			Code: "654321", Purpose: models.OTPPurposePasswordReset,
			CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
		}
		require.NoError(t, otps.CreateWithCooldown(ctx, rec, time.Minute, now))

		err := otps.VerifyLatest(ctx, "alice@x.com", models.OTPPurposePasswordReset, now.Add(5*time.Minute), func(*models.OTPRecord) error {
			return nil
		})
		assert.ErrorIs(t, err, models.ErrOTPInvalid)

		purged, err := otps.PurgeExpired(ctx, now.Add(6*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, int64(1))
	})

	t.Run("activity log append and list", func(t *testing.T) {
		userID := alice.ID
		require.NoError(t, activity.Create(ctx, &models.ActivityLog{
			UserID:    &userID,
			Action:    models.ActivityLoginSuccess,
			NewValues: models.ActivityMetadata{"destination": "/student/dashboard"},
		}))

		entries, err := activity.List(ctx, ActivityFilter{UserID: alice.ID, Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.ActivityLoginSuccess, entries[0].Action)
		assert.Equal(t, "/student/dashboard", entries[0].NewValues["destination"])
	})
}
