package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// MaxConcurrency caps Consume's concurrency argument
const MaxConcurrency = 5

// DefaultQueueName is the Redis list carrying submission events
const DefaultQueueName = "console:submission-events"

// RedisClient implements Client on a Redis list (LPUSH + BRPOP)
type RedisClient struct {
	client    redis.UniversalClient
	queueName string
	popWait   time.Duration
	ownsConn  bool
	logger    *slog.Logger
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL       string
	QueueName string
}

// NewRedisClient dials Redis and returns a queue that owns the connection
func NewRedisClient(cfg RedisConfig, logger *slog.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		slog.String("addr", opts.Addr),
		slog.String("queue", queueName(cfg.QueueName)),
	)

	q := NewRedisQueue(client, cfg.QueueName, logger)
	q.ownsConn = true
	return q, nil
}

// NewRedisQueue wraps an existing connection. Close leaves the connection open.
func NewRedisQueue(client redis.UniversalClient, name string, logger *slog.Logger) *RedisClient {
	return &RedisClient{
		client:    client,
		queueName: queueName(name),
		popWait:   time.Second,
		logger:    logger,
	}
}

func queueName(name string) string {
	if name == "" {
		return DefaultQueueName
	}
	return name
}

// Publish pushes an event onto the queue
func (c *RedisClient) Publish(ctx context.Context, event *models.SubmissionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.client.LPush(ctx, c.queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to queue: %w", err)
	}

	c.logger.Debug("event published to queue",
		slog.String("event_id", event.ID),
		slog.String("state", string(event.State)),
	)
	return nil
}

// Consume pops events until ctx is done, then waits for in-flight handlers.
// Handler errors are logged; the event is already off the queue.
func (c *RedisClient) Consume(ctx context.Context, handler EventHandler, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	c.logger.Info("starting queue consumer",
		slog.String("queue", c.queueName),
		slog.Int("concurrency", concurrency),
	)

	semaphore := make(chan struct{}, concurrency)
	var inflight sync.WaitGroup

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped by context, waiting for in-flight events")
			inflight.Wait()
			return ctx.Err()
		}

		result, err := c.client.BRPop(ctx, c.popWait, c.queueName).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to pop from queue", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		// BRPOP returns [queueName, value]
		if len(result) < 2 {
			c.logger.Error("unexpected BRPOP result format")
			continue
		}

		var event models.SubmissionEvent
		if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
			c.logger.Error("failed to unmarshal event",
				slog.String("error", err.Error()),
				slog.String("data", result[1]),
			)
			continue
		}

		semaphore <- struct{}{}
		inflight.Add(1)
		go func(event models.SubmissionEvent) {
			defer func() {
				<-semaphore
				inflight.Done()
			}()

			// Handlers finish their write even after shutdown starts.
			if err := handler(context.WithoutCancel(ctx), &event); err != nil {
				c.logger.Error("handler failed to process event",
					slog.String("event_id", event.ID),
					slog.String("error", err.Error()),
				)
			}
		}(event)
	}
}

// Close closes the Redis connection when the queue dialled it
func (c *RedisClient) Close() error {
	if !c.ownsConn {
		return nil
	}
	c.logger.Info("closing Redis connection")
	return c.client.Close()
}

// Health checks if Redis is healthy
func (c *RedisClient) Health(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// QueueLength returns the number of pending events
func (c *RedisClient) QueueLength(ctx context.Context) (int64, error) {
	length, err := c.client.LLen(ctx, c.queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// DepthProbe returns a QueueLength reader bounded by timeout, for metric scrapes
func (c *RedisClient) DepthProbe(timeout time.Duration) func() (int64, error) {
	return func() (int64, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return c.QueueLength(ctx)
	}
}
