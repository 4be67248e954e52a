package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"emotion-comfort/internal/repository"
)

const (
	// lockTTL bounds how long a crashed holder can wedge a session.
	lockTTL = 5 * time.Second
	// lockRetryDelay is the pause between SET NX attempts.
	lockRetryDelay = 20 * time.Millisecond
)

// releaseScript deletes the lock key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisStateRepository is the Redis implementation of
// repository.StateRepository.
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository creates a RedisStateRepository.
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "lc:"
	}
	return &RedisStateRepository{client: client, keyPrefix: keyPrefix}
}

// --- Key helpers ---

func (r *RedisStateRepository) sessionLockKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:lock", r.keyPrefix, sessionID)
}

func (r *RedisStateRepository) sessionCountKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:count", r.keyPrefix, sessionID)
}

func (r *RedisStateRepository) rateLimitKey(key string) string {
	return fmt.Sprintf("%sratelimit:%s", r.keyPrefix, key)
}

// AcquireSessionLock takes the per-session mutex with SET NX PX and a
// random token, retrying until the context deadline. Callers must pass
// a context with a deadline so a contended session cannot deadlock a
// request.
func (r *RedisStateRepository) AcquireSessionLock(ctx context.Context, sessionID string) (string, error) {
	key := r.sessionLockKey(sessionID)
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return "", repository.ErrLockNotAcquired
			}
			return "", fmt.Errorf("redis: acquire lock for %q: %w", sessionID, err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", repository.ErrLockNotAcquired
		case <-time.After(lockRetryDelay):
		}
	}
}

// ReleaseSessionLock releases the mutex if the token still owns it. A
// lock lost to TTL expiry is not an error.
func (r *RedisStateRepository) ReleaseSessionLock(ctx context.Context, sessionID string, token string) error {
	key := r.sessionLockKey(sessionID)
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis: release lock for %q: %w", sessionID, err)
	}
	return nil
}

// SetParticipantCount caches the committed participant count.
func (r *RedisStateRepository) SetParticipantCount(ctx context.Context, sessionID string, count int) error {
	key := r.sessionCountKey(sessionID)
	if err := r.client.Set(ctx, key, strconv.Itoa(count), 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("redis: set participant count for %q: %w", sessionID, err)
	}
	return nil
}

// CleanupSessionState drops the volatile keys of an ended session.
func (r *RedisStateRepository) CleanupSessionState(ctx context.Context, sessionID string) error {
	keys := []string{r.sessionCountKey(sessionID)}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: cleanup state of %q: %w", sessionID, err)
	}
	return nil
}

// CheckRateLimit is a fixed-window counter: INCR + EXPIRE on first hit.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rlKey := r.rateLimitKey(key)
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, rlKey)
	pipe.Expire(ctx, rlKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit check for %q: %w", key, err)
	}
	return incr.Val() > int64(limit), nil
}
