package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl"

// RateLimitRepository stores fixed-window buckets as Redis counters whose TTL is the window
type RateLimitRepository struct {
	client *redis.Client
}

func NewRateLimitRepository(client *redis.Client) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

// Increment bumps the (action, identity) bucket and returns the count within the
// current window. The first hit of a window creates the key with the window as
// its TTL; both steps run in one MULTI block.
func (r *RateLimitRepository) Increment(ctx context.Context, action, identity string, window time.Duration) (int64, error) {
	key := r.key(action, identity)

	pipe := r.client.TxPipeline()
	pipe.SetNX(ctx, key, 0, window)
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: rate limit increment: %v", models.ErrStoreUnavailable, err)
	}

	return incr.Val(), nil
}

// Reset drops a bucket
func (r *RateLimitRepository) Reset(ctx context.Context, action, identity string) error {
	if err := r.client.Del(ctx, r.key(action, identity)).Err(); err != nil {
		return fmt.Errorf("%w: rate limit reset: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RateLimitRepository) key(action, identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return fmt.Sprintf("%s:%s:%s", rateLimitPrefix, action, hex.EncodeToString(sum[:]))
}
