package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	"github.com/redis/go-redis/v9"
)

const sessionContextPrefix = "sess"

// SessionContextRepository persists browser session state as JSON in Redis
type SessionContextRepository struct {
	client *redis.Client
}

func NewSessionContextRepository(client *redis.Client) *SessionContextRepository {
	return &SessionContextRepository{client: client}
}

func (r *SessionContextRepository) Get(ctx context.Context, id string) (*models.SessionContext, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: session get: %v", models.ErrStoreUnavailable, err)
	}

	var sc models.SessionContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		// A corrupt entry is treated as absent; the caller starts a fresh session.
		return nil, models.ErrNotFound
	}

	return &sc, nil
}

func (r *SessionContextRepository) Save(ctx context.Context, sc *models.SessionContext, ttl time.Duration) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal session context: %w", err)
	}

	if err := r.client.Set(ctx, r.key(sc.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: session save: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *SessionContextRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: session delete: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *SessionContextRepository) key(id string) string {
	return sessionContextPrefix + ":" + id
}
