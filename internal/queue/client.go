package queue

import (
	"context"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// Client defines the interface for submission event queue operations
type Client interface {
	// Publish pushes a submission event onto the queue
	Publish(ctx context.Context, event *models.SubmissionEvent) error

	// Consume pops events and runs handler on each, at most concurrency at a time
	Consume(ctx context.Context, handler EventHandler, concurrency int) error

	// Close closes the queue connection
	Close() error

	// Health checks if the queue is healthy
	Health(ctx context.Context) error
}

// EventHandler processes one submission event
type EventHandler func(ctx context.Context, event *models.SubmissionEvent) error
