package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "wizard:submit-lock:"

// DefaultLockTTL bounds how long a crashed submitter can hold a session's lock
const DefaultLockTTL = time.Minute

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a per-session submit lock built on SET NX
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLocker creates a locker. ttl <= 0 uses DefaultLockTTL.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// LockKey returns the Redis key of a session's submit lock
func LockKey(id string) string {
	return lockKeyPrefix + id
}

// Acquire takes the lock for id. ok is false when another submitter holds it. The
// returned release func is safe to call after the TTL has expired.
func (l *RedisLocker) Acquire(ctx context.Context, id string) (release func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()
	key := LockKey(id)

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire submit lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("failed to release submit lock: %w", err)
		}
		return nil
	}
	return release, true, nil
}

// Held reports whether any submitter currently holds the lock for id
func (l *RedisLocker) Held(ctx context.Context, id string) (bool, error) {
	n, err := l.client.Exists(ctx, LockKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check submit lock: %w", err)
	}
	return n > 0, nil
}
