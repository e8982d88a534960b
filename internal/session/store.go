package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Raymond9734/congregation-console/internal/models"
)

const sessionKeyPrefix = "wizard:session:"

// DefaultTTL is how long an untouched wizard session survives
const DefaultTTL = 2 * time.Hour

// RedisStore keeps wizard sessions as JSON values with a sliding TTL
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a session store. ttl <= 0 uses DefaultTTL.
func NewRedisStore(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Key returns the Redis key holding a session
func Key(id string) string {
	return sessionKeyPrefix + id
}

// Save writes the session and refreshes its TTL
func (s *RedisStore) Save(ctx context.Context, sess *models.WizardSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, Key(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("session saved",
		slog.String("session_id", sess.ID),
		slog.Int("step", sess.Step),
		slog.String("state", string(sess.State)),
	)
	return nil
}

// Load returns the session or models.ErrNotFound when it is unknown or expired
func (s *RedisStore) Load(ctx context.Context, id string) (*models.WizardSession, error) {
	data, err := s.client.Get(ctx, Key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess models.WizardSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session. Deleting an unknown session is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, Key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
