package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisTrialStatusCache keeps the optimistic trial-status hint clients read
// before the durable check. Writes overwrite the full value; the durable
// record always wins when they disagree.
type RedisTrialStatusCache struct {
	client *redis.Client
}

func NewRedisTrialStatusCache(client *redis.Client) *RedisTrialStatusCache {
	return &RedisTrialStatusCache{client: client}
}

func (c *RedisTrialStatusCache) Put(ctx context.Context, status domain.TrialStatus, ttl time.Duration) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "identity:trial:"+status.Fingerprint, raw, ttl).Err()
}

func (c *RedisTrialStatusCache) Get(ctx context.Context, fingerprint string) (*domain.TrialStatus, error) {
	raw, err := c.client.Get(ctx, "identity:trial:"+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out domain.TrialStatus
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RedisTrialStatusCache) Invalidate(ctx context.Context, fingerprint string) error {
	return c.client.Del(ctx, "identity:trial:"+fingerprint).Err()
}

type RedisSessionRevocationStore struct {
	client *redis.Client
}

func NewRedisSessionRevocationStore(client *redis.Client) *RedisSessionRevocationStore {
	return &RedisSessionRevocationStore{client: client}
}

func (s *RedisSessionRevocationStore) MarkRevoked(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.client.Set(ctx, "identity:revoked:"+sessionID.String(), "1", ttl).Err()
}

func (s *RedisSessionRevocationStore) IsRevoked(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, "identity:revoked:"+sessionID.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RedisRateLimiter counts hits in fixed windows. The first hit sets the
// window's TTL; later hits reuse it, so a window ends at most `window` after
// it opened regardless of traffic.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (l *RedisRateLimiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := "identity:ratelimit:" + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = l.client.Expire(ctx, redisKey, window).Err()
	}
	return count, nil
}
